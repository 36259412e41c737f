package worker

import (
	"context"
	"encoding/json"
	"time"

	"draftsync/internal/domain"
	"draftsync/internal/draftstore"
	"draftsync/internal/events"
	"draftsync/internal/metrics"
	"draftsync/internal/models"

	"github.com/rs/zerolog"
)

// Write triggers. All of them go through Writer.Write.
const (
	TriggerAutosave = "autosave"
	TriggerManual   = "manual"
	TriggerBatch    = "batch"
	TriggerQueue    = "queue"
)

type WriteStatus string

const (
	StatusSaved    WriteStatus = "saved"
	StatusQueued   WriteStatus = "queued"
	StatusRejected WriteStatus = "rejected"
)

// WriteResult is the outcome of one direct write attempt.
type WriteResult struct {
	Status    WriteStatus
	Err       error
	QueueItem *models.QueueItem
	At        time.Time
}

// Writer is the single write primitive. It upserts a draft and applies the
// transient/permanent classification: transient failures are queued, rejections are not.
type Writer struct {
	store     domain.DraftStore
	queue     domain.Enqueuer
	now       domain.Clock
	publisher domain.EventPublisher
	logger    *zerolog.Logger
}

func NewWriter(store domain.DraftStore, queue domain.Enqueuer, now domain.Clock, publisher domain.EventPublisher, logger *zerolog.Logger) *Writer {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Writer{
		store:     store,
		queue:     queue,
		now:       now,
		publisher: publisher,
		logger:    logger,
	}
}

// Write waits for any queued attempt of the same draft that is already in flight,
// so an older snapshot never lands after this one.
func (w *Writer) Write(ctx context.Context, key models.DraftKey, payload json.RawMessage, trigger string) WriteResult {
	unlock := w.queue.LockDraft(key)
	defer unlock()

	attemptedAt := w.now()
	err := w.store.Upsert(ctx, key, payload)
	res := WriteResult{Err: err, At: attemptedAt}

	state := events.SaveStatePayload{
		EntityID: key.EntityID,
		Surface:  key.SurfaceKey(),
		Trigger:  trigger,
		At:       attemptedAt,
	}

	switch draftstore.Classify(err) {
	case draftstore.ClassNone:
		res.Status = StatusSaved
		if n := w.queue.Forget(ctx, key); n > 0 {
			w.logger.Debug().Str("draft", key.String()).Int("dropped", n).Msg("older queued writes dropped after direct save")
		}
		_ = publish(w.publisher, events.EventDraftSaved, state)

	case draftstore.ClassApplication:
		res.Status = StatusRejected
		state.Error = err.Error()
		w.logger.Warn().Err(err).Str("draft", key.String()).Str("trigger", trigger).Msg("draft rejected by store")
		_ = publish(w.publisher, events.EventDraftRejected, state)

	default:
		res.Status = StatusQueued
		item, qerr := w.queue.EnqueueFailed(ctx, key, payload, attemptedAt, err)
		if qerr != nil {
			w.logger.Error().Err(qerr).Str("draft", key.String()).Msg("queued write not persisted")
		}
		res.QueueItem = item
		state.QueueID = item.ID
		state.Error = err.Error()
		w.logger.Warn().Err(err).Str("draft", key.String()).Str("trigger", trigger).Msg("draft write failed, queued for retry")
		_ = publish(w.publisher, events.EventDraftQueued, state)
	}

	metrics.IncWrite(trigger, string(res.Status))
	return res
}
