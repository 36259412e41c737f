package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"draftsync/internal/domain"
	"draftsync/internal/draftstore"
	"draftsync/internal/events"
	"draftsync/internal/metrics"
	"draftsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrItemNotFound = errors.New("queue item not found")

// ItemOutcome is what happened to one queue item during a drain.
type ItemOutcome string

const (
	OutcomeSucceeded ItemOutcome = "succeeded"
	OutcomeRetrying  ItemOutcome = "retrying"
	OutcomeEvicted   ItemOutcome = "evicted"
)

const (
	evictRetryCap    = "retry_cap"
	evictApplication = "application_error"
)

// QueueOptions configures a RetryQueue. Zero values fall back to defaults.
type QueueOptions struct {
	Policy          RetryPolicy
	PollInterval    time.Duration
	DeadLetterLimit int
	Now             domain.Clock
	Publisher       domain.EventPublisher
	Logger          *zerolog.Logger
}

// RetryQueue is the durable FIFO of draft writes that failed for transient reasons.
// Every mutation rewrites the full snapshot in local storage.
type RetryQueue struct {
	store           domain.DraftStore
	storage         domain.LocalStorage
	policy          RetryPolicy
	pollInterval    time.Duration
	deadLetterLimit int
	now             domain.Clock
	publisher       domain.EventPublisher
	logger          *zerolog.Logger

	mu         sync.Mutex
	items      []models.QueueItem
	deadLetter []models.QueueItem
	observers  map[int]func(models.QueueItem, ItemOutcome)
	nextObs    int

	processing atomic.Bool
	wake       chan struct{}
	drafts     draftLocks
}

func NewRetryQueue(store domain.DraftStore, storage domain.LocalStorage, opts QueueOptions) *RetryQueue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = models.DefaultPollInterval
	}
	if opts.DeadLetterLimit <= 0 {
		opts.DeadLetterLimit = models.DefaultDeadLetterLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	return &RetryQueue{
		store:           store,
		storage:         storage,
		policy:          opts.Policy.withDefaults(),
		pollInterval:    opts.PollInterval,
		deadLetterLimit: opts.DeadLetterLimit,
		now:             opts.Now,
		publisher:       opts.Publisher,
		logger:          opts.Logger,
		wake:            make(chan struct{}, 1),
	}
}

// Policy returns the effective retry policy.
func (q *RetryQueue) Policy() RetryPolicy {
	return q.policy
}

// Observe registers fn for per-item drain outcomes. The returned func removes it.
func (q *RetryQueue) Observe(fn func(item models.QueueItem, outcome ItemOutcome)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.observers == nil {
		q.observers = make(map[int]func(models.QueueItem, ItemOutcome))
	}
	id := q.nextObs
	q.nextObs++
	q.observers[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.observers, id)
	}
}

// Load rehydrates the queue and the dead-letter list from local storage.
// A corrupt snapshot is moved aside so startup is never blocked by it.
func (q *RetryQueue) Load(ctx context.Context) error {
	items, err := q.loadList(ctx, models.QueueStorageKey)
	if err != nil {
		return err
	}
	dead, err := q.loadList(ctx, models.DeadLetterStorageKey)
	if err != nil {
		return err
	}

	q.mu.Lock()
	q.items = items
	q.deadLetter = dead
	depth := len(q.items)
	q.mu.Unlock()

	metrics.SetQueueDepth(depth)
	q.logger.Info().Int("pending", depth).Int("dead_letter", len(dead)).Msg("retry queue loaded")
	return nil
}

func (q *RetryQueue) loadList(ctx context.Context, key string) ([]models.QueueItem, error) {
	raw, ok, err := q.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var items []models.QueueItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.logger.Error().Err(err).Str("key", key).Msg("corrupt queue snapshot, moving aside")
		if setErr := q.storage.Set(ctx, key+":corrupt", raw); setErr != nil {
			return nil, fmt.Errorf("preserve corrupt %s: %w", key, setErr)
		}
		return nil, nil
	}
	return items, nil
}

// Enqueue appends a write that is due immediately.
// The item is always queued in memory; the error only reports a failed persist.
func (q *RetryQueue) Enqueue(ctx context.Context, key models.DraftKey, payload json.RawMessage) (*models.QueueItem, error) {
	now := q.now()
	return q.add(ctx, key, payload, now, now, nil, "")
}

// EnqueueFailed queues a write whose direct attempt at attemptedAt failed with cause.
// The first retry is due one base delay after the attempt.
func (q *RetryQueue) EnqueueFailed(ctx context.Context, key models.DraftKey, payload json.RawMessage, attemptedAt time.Time, cause error) (*models.QueueItem, error) {
	last := attemptedAt
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.add(ctx, key, payload, attemptedAt.Add(q.policy.DelayFor(0)), q.now(), &last, msg)
}

func (q *RetryQueue) add(ctx context.Context, key models.DraftKey, payload json.RawMessage, nextRetryAt, enqueuedAt time.Time, lastAttemptAt *time.Time, lastErr string) (*models.QueueItem, error) {
	item := models.QueueItem{
		ID:            uuid.NewString(),
		EntityID:      key.EntityID,
		DraftKind:     key.Kind,
		DraftSubKind:  key.SubKind,
		Payload:       append(json.RawMessage(nil), payload...),
		EnqueuedAt:    enqueuedAt,
		NextRetryAt:   nextRetryAt,
		LastAttemptAt: lastAttemptAt,
		LastError:     lastErr,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	// A newer snapshot of the same draft supersedes any pending one.
	superseded := q.removeKeyLocked(key)
	q.items = append(q.items, item)
	if superseded > 0 {
		q.logger.Debug().Str("draft", key.String()).Int("superseded", superseded).Msg("pending write superseded")
	}
	q.logger.Info().Str("id", item.ID).Str("draft", key.String()).Time("next_retry_at", item.NextRetryAt).Msg("write queued for retry")

	out := item
	return &out, q.persistLocked(ctx)
}

// Forget drops pending writes for key after a newer direct write succeeded.
func (q *RetryQueue) Forget(ctx context.Context, key models.DraftKey) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.removeKeyLocked(key)
	if n > 0 {
		if err := q.persistLocked(ctx); err != nil {
			q.logger.Error().Err(err).Msg("failed to persist retry queue")
		}
	}
	return n
}

// LockDraft blocks until no other remote write of key is in flight and
// returns the func that releases it. It must not be held across Drain.
func (q *RetryQueue) LockDraft(key models.DraftKey) func() {
	return q.drafts.lock(key)
}

func (q *RetryQueue) removeKeyLocked(key models.DraftKey) int {
	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if it.Key() == key {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	return removed
}

// Drain attempts every eligible item once, in enqueue order.
// A call made while another drain is running returns immediately with Skipped set.
func (q *RetryQueue) Drain(ctx context.Context) domain.DrainResult {
	if !q.processing.CompareAndSwap(false, true) {
		return domain.DrainResult{Skipped: true}
	}
	defer q.processing.Store(false)

	now := q.now()
	q.mu.Lock()
	var eligible []models.QueueItem
	for _, it := range q.items {
		if it.Eligible(now, q.policy.MaxRetries) {
			eligible = append(eligible, it)
		}
	}
	q.mu.Unlock()

	var res domain.DrainResult
	for _, item := range eligible {
		if ctx.Err() != nil {
			break
		}
		unlock := q.LockDraft(item.Key())
		// A direct write may have superseded the item while we waited.
		if !q.pending(item.ID) {
			unlock()
			continue
		}
		err := q.store.Upsert(ctx, item.Key(), item.Payload)
		res.Attempted++
		outcome := q.apply(ctx, item, err)
		unlock()

		switch outcome {
		case OutcomeSucceeded:
			res.Succeeded++
		case OutcomeRetrying:
			res.Retrying++
		case OutcomeEvicted:
			res.Evicted++
		}
	}

	if res.Attempted > 0 {
		q.logger.Info().
			Int("attempted", res.Attempted).
			Int("succeeded", res.Succeeded).
			Int("retrying", res.Retrying).
			Int("evicted", res.Evicted).
			Msg("retry queue drained")
	}
	return res
}

func (q *RetryQueue) pending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(id) >= 0
}

func (q *RetryQueue) indexLocked(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

// apply records the result of one attempt against the current snapshot.
func (q *RetryQueue) apply(ctx context.Context, attempted models.QueueItem, cause error) ItemOutcome {
	attemptedAt := q.now()

	q.mu.Lock()
	idx := q.indexLocked(attempted.ID)
	if idx < 0 {
		// Superseded while the write was in flight.
		q.mu.Unlock()
		if cause == nil {
			return OutcomeSucceeded
		}
		return OutcomeRetrying
	}

	item := q.items[idx]
	var outcome ItemOutcome
	var reason string
	switch {
	case cause == nil:
		outcome = OutcomeSucceeded
		q.items = append(q.items[:idx], q.items[idx+1:]...)
	case draftstore.Classify(cause) == draftstore.ClassApplication:
		outcome, reason = OutcomeEvicted, evictApplication
	case item.RetryCount+1 >= q.policy.MaxRetries:
		outcome, reason = OutcomeEvicted, evictRetryCap
	default:
		outcome = OutcomeRetrying
		item.RetryCount++
		item.LastAttemptAt = &attemptedAt
		item.NextRetryAt = attemptedAt.Add(q.policy.DelayFor(item.RetryCount))
		item.LastError = cause.Error()
		q.items[idx] = item
	}

	if outcome == OutcomeEvicted {
		item.LastAttemptAt = &attemptedAt
		item.LastError = cause.Error()
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		q.pushDeadLetterLocked(item)
	}

	if err := q.persistLocked(ctx); err != nil {
		q.logger.Error().Err(err).Str("id", item.ID).Msg("failed to persist retry queue")
	}
	observers := make([]func(models.QueueItem, ItemOutcome), 0, len(q.observers))
	for _, fn := range q.observers {
		observers = append(observers, fn)
	}
	q.mu.Unlock()

	q.report(item, outcome, reason, attemptedAt)
	for _, fn := range observers {
		fn(item, outcome)
	}
	return outcome
}

func (q *RetryQueue) report(item models.QueueItem, outcome ItemOutcome, reason string, at time.Time) {
	key := item.Key()
	switch outcome {
	case OutcomeSucceeded:
		metrics.IncWrite(TriggerQueue, string(StatusSaved))
		_ = publish(q.publisher, events.EventDraftSaved, events.SaveStatePayload{
			EntityID: item.EntityID,
			Surface:  key.SurfaceKey(),
			Trigger:  TriggerQueue,
			QueueID:  item.ID,
			At:       at,
		})
	case OutcomeRetrying:
		metrics.IncWrite(TriggerQueue, string(StatusQueued))
		q.logger.Warn().
			Str("id", item.ID).
			Str("draft", key.String()).
			Int("retry_count", item.RetryCount).
			Time("next_retry_at", item.NextRetryAt).
			Str("error", item.LastError).
			Msg("queued write failed, will retry")
	case OutcomeEvicted:
		metrics.IncWrite(TriggerQueue, string(StatusRejected))
		metrics.IncEviction(reason)
		q.logger.Error().
			Str("id", item.ID).
			Str("draft", key.String()).
			Str("reason", reason).
			Str("error", item.LastError).
			Msg("queued write evicted")
		_ = publish(q.publisher, events.EventQueueItemEvicted, events.EvictionPayload{Item: item, Reason: reason})

		notice := models.Notice{
			Level:   models.NoticeError,
			Surface: key.SurfaceKey(),
			Action:  models.ActionPressRetry,
			Message: fmt.Sprintf("Could not save %s after %d attempts. Press retry to try again.", key.SurfaceKey(), q.policy.MaxRetries),
		}
		if reason == evictApplication {
			notice.Action = models.ActionFixAndSaveAgain
			notice.Message = fmt.Sprintf("The server rejected the saved %s draft: %s", key.SurfaceKey(), item.LastError)
		}
		events.Notify(q.publisher, notice)
	}
}

func (q *RetryQueue) pushDeadLetterLocked(item models.QueueItem) {
	q.deadLetter = append(q.deadLetter, item)
	if over := len(q.deadLetter) - q.deadLetterLimit; over > 0 {
		q.deadLetter = append([]models.QueueItem(nil), q.deadLetter[over:]...)
	}
}

func (q *RetryQueue) persistLocked(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	metrics.SetQueueDepth(len(q.items))

	if err := q.writeList(ctx, models.QueueStorageKey, q.items); err != nil {
		return err
	}
	return q.writeList(ctx, models.DeadLetterStorageKey, q.deadLetter)
}

func (q *RetryQueue) writeList(ctx context.Context, key string, items []models.QueueItem) error {
	if items == nil {
		items = []models.QueueItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := q.storage.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// RetryDeadLetter moves an evicted item back into the queue as a fresh write.
func (q *RetryQueue) RetryDeadLetter(ctx context.Context, id string) (*models.QueueItem, error) {
	q.mu.Lock()
	idx := -1
	for i := range q.deadLetter {
		if q.deadLetter[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	item := q.deadLetter[idx]
	q.deadLetter = append(q.deadLetter[:idx], q.deadLetter[idx+1:]...)
	q.mu.Unlock()

	queued, err := q.Enqueue(ctx, item.Key(), item.Payload)
	q.Trigger()
	return queued, err
}

// Trigger asks the Run loop for an immediate drain.
func (q *RetryQueue) Trigger() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// OnConnectivity drains when the remote becomes reachable again.
func (q *RetryQueue) OnConnectivity(available bool) {
	if available {
		q.Trigger()
	}
}

// Run drains on every poll tick while the queue is non-empty and on Trigger.
func (q *RetryQueue) Run(ctx context.Context) {
	q.logger.Info().Dur("poll_interval", q.pollInterval).Msg("retry queue started")
	defer q.logger.Info().Msg("retry queue stopped")

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.PendingCount() > 0 {
				q.Drain(ctx)
			}
		case <-q.wake:
			q.Drain(ctx)
		}
	}
}

func (q *RetryQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *RetryQueue) PendingItems() []models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// NextRetryAt is the earliest due time among pending items, nil when empty.
func (q *RetryQueue) NextRetryAt() *time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	var next *time.Time
	for i := range q.items {
		if next == nil || q.items[i].NextRetryAt.Before(*next) {
			t := q.items[i].NextRetryAt
			next = &t
		}
	}
	return next
}

func (q *RetryQueue) DeadLetter() []models.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueueItem, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}

// Processing reports whether a drain is in flight.
func (q *RetryQueue) Processing() bool {
	return q.processing.Load()
}

func publish(pub domain.EventPublisher, eventType string, payload interface{}) error {
	if pub == nil {
		return nil
	}
	return pub.PublishJSON(eventType, payload)
}
