package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"draftsync/internal/domain"
	"draftsync/internal/events"
	"draftsync/internal/metrics"
	"draftsync/internal/models"
	"draftsync/internal/worker"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrSyncInProgress = errors.New("batch sync already in progress")

type surfaceOutcome int

const (
	outcomeSkipped surfaceOutcome = iota
	outcomeSaved
	outcomeQueued
	outcomeRejected
	outcomeConflict
)

type surfaceResult struct {
	surface domain.RegisteredSurface
	outcome surfaceOutcome
}

// batchRecorder is implemented by surfaces that track their own save state.
type batchRecorder interface {
	RecordBatchWrite(payload json.RawMessage, res worker.WriteResult)
}

type Options struct {
	GracePeriod time.Duration
	Now         domain.Clock
	Publisher   domain.EventPublisher
	Logger      *zerolog.Logger
}

// Coordinator runs batch passes over every surface of one parent entity.
type Coordinator struct {
	entityID  string
	registry  *Registry
	queue     domain.QueueDrainer
	writer    *worker.Writer
	store     domain.DraftStore
	conflicts domain.ConflictReporter
	grace     time.Duration
	now       domain.Clock
	publisher domain.EventPublisher
	logger    *zerolog.Logger

	syncing atomic.Bool

	mu              sync.RWMutex
	stats           models.SyncStats
	lastBatchSyncAt *time.Time
	lastResult      *models.BatchResult
}

func New(entityID string, registry *Registry, queue domain.QueueDrainer, writer *worker.Writer, store domain.DraftStore, conflicts domain.ConflictReporter, opts Options) *Coordinator {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = models.DefaultGracePeriod
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	logger := opts.Logger.With().Str("entity_id", entityID).Logger()
	if registry == nil {
		registry = NewRegistry()
	}

	return &Coordinator{
		entityID:  entityID,
		registry:  registry,
		queue:     queue,
		writer:    writer,
		store:     store,
		conflicts: conflicts,
		grace:     opts.GracePeriod,
		now:       opts.Now,
		publisher: opts.Publisher,
		logger:    &logger,
	}
}

func (c *Coordinator) Register(surface domain.RegisteredSurface) error {
	return c.registry.Register(surface)
}

func (c *Coordinator) Unregister(key string) {
	c.registry.Unregister(key)
}

func (c *Coordinator) Registry() *Registry {
	return c.registry
}

func (c *Coordinator) RegisteredCount() int {
	return c.registry.Count()
}

func (c *Coordinator) Syncing() bool {
	return c.syncing.Load()
}

func (c *Coordinator) LastBatchSyncAt() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastBatchSyncAt == nil {
		return nil
	}
	t := *c.lastBatchSyncAt
	return &t
}

func (c *Coordinator) Stats() models.SyncStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Coordinator) LastResult() *models.BatchResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastResult == nil {
		return nil
	}
	r := *c.lastResult
	return &r
}

// ObserveQueue counts retry-queue outcomes for this entity's drafts.
func (c *Coordinator) ObserveQueue(item models.QueueItem, outcome worker.ItemOutcome) {
	if item.EntityID != c.entityID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalAttempts++
	if outcome == worker.OutcomeSucceeded {
		c.stats.SuccessCount++
	} else {
		c.stats.FailureCount++
	}
}

// SyncAll drains the retry queue, then saves every registered surface concurrently.
// It returns ErrSyncInProgress without doing anything while another pass runs.
func (c *Coordinator) SyncAll(ctx context.Context) (models.BatchResult, error) {
	if !c.syncing.CompareAndSwap(false, true) {
		return models.BatchResult{}, ErrSyncInProgress
	}
	defer c.syncing.Store(false)

	result := models.BatchResult{StartedAt: c.now()}
	if c.queue != nil {
		drained := c.queue.Drain(ctx)
		result.Drained = drained.Succeeded
	}

	surfaces := c.registry.Surfaces()
	results := make([]surfaceResult, len(surfaces))

	var g errgroup.Group
	for i, s := range surfaces {
		i, s := i, s
		g.Go(func() error {
			results[i] = surfaceResult{surface: s, outcome: c.syncSurface(ctx, s)}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r.outcome {
		case outcomeSkipped:
			result.Skipped++
		case outcomeSaved:
			result.Succeeded++
		case outcomeQueued:
			result.Failed++
			result.Queued++
		case outcomeRejected:
			result.Failed++
		case outcomeConflict:
			result.Conflicted++
			result.ConflictedSurfaces = append(result.ConflictedSurfaces, r.surface.DisplayName)
		}
	}
	sort.Strings(result.ConflictedSurfaces)
	result.FinishedAt = c.now()

	c.mu.Lock()
	c.stats.SuccessCount += int64(result.Succeeded)
	c.stats.FailureCount += int64(result.Failed)
	c.stats.ConflictCount += int64(result.Conflicted)
	c.stats.TotalAttempts += int64(result.Succeeded + result.Failed)
	finished := result.FinishedAt
	c.lastBatchSyncAt = &finished
	stored := result
	c.lastResult = &stored
	c.mu.Unlock()

	c.logger.Info().
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("queued", result.Queued).
		Int("conflicted", result.Conflicted).
		Int("skipped", result.Skipped).
		Int("drained", result.Drained).
		Msg("batch sync completed")

	if c.publisher != nil {
		_ = c.publisher.PublishJSON(events.EventBatchCompleted, result)
	}
	if notice, ok := Summarize(result); ok {
		notice.CreatedAt = result.FinishedAt
		events.Notify(c.publisher, notice)
	}
	return result, nil
}

func (c *Coordinator) syncSurface(ctx context.Context, s domain.RegisteredSurface) surfaceOutcome {
	payload, ok := s.State.Snapshot()
	if !ok {
		return outcomeSkipped
	}

	remote, err := c.store.Read(ctx, s.DraftKey)
	if err != nil {
		// An unreadable remote must not block the write.
		c.logger.Warn().Err(err).Str("surface", s.Key).Msg("remote read failed, writing without conflict check")
	} else if remote != nil && c.isConflict(remote.UpdatedAt) {
		c.reportConflict(s, remote.UpdatedAt)
		return outcomeConflict
	}

	res := c.writer.Write(ctx, s.DraftKey, payload, worker.TriggerBatch)
	if rec, ok := s.State.(batchRecorder); ok {
		rec.RecordBatchWrite(payload, res)
	}
	switch res.Status {
	case worker.StatusSaved:
		return outcomeSaved
	case worker.StatusQueued:
		return outcomeQueued
	default:
		return outcomeRejected
	}
}

// isConflict treats a remote draft updated within the grace period as a concurrent edit.
func (c *Coordinator) isConflict(remoteUpdatedAt time.Time) bool {
	return remoteUpdatedAt.After(c.now().Add(-c.grace))
}

func (c *Coordinator) reportConflict(s domain.RegisteredSurface, remoteUpdatedAt time.Time) {
	metrics.IncConflict()
	c.logger.Warn().Str("surface", s.Key).Time("remote_updated_at", remoteUpdatedAt).Msg("newer remote draft, write skipped")
	if c.conflicts != nil {
		c.conflicts.Report(s.DisplayName)
	}
	if c.publisher != nil {
		_ = c.publisher.PublishJSON(events.EventConflictDetected, events.SaveStatePayload{
			EntityID: c.entityID,
			Surface:  s.Key,
			Trigger:  worker.TriggerBatch,
			At:       remoteUpdatedAt,
		})
	}
}

// Summarize builds the single notice for a batch pass. ok is false when nothing was attempted.
func Summarize(r models.BatchResult) (models.Notice, bool) {
	writes := r.Succeeded + r.Failed
	if writes == 0 && r.Conflicted == 0 {
		return models.Notice{}, false
	}

	var n models.Notice
	var parts []string
	switch {
	case r.Failed == 0:
		n.Level, n.Action = models.NoticeInfo, models.ActionNone
		if writes > 0 {
			parts = append(parts, "All changes saved.")
		}
	case r.Succeeded > 0:
		n.Level, n.Action = models.NoticeWarn, models.ActionRetryAutomatic
		parts = append(parts, fmt.Sprintf("Saved %d of %d.", r.Succeeded, writes))
	default:
		n.Level, n.Action = models.NoticeError, models.ActionRetryAutomatic
		parts = append(parts, "Could not save any changes.")
	}

	if r.Queued > 0 {
		parts = append(parts, fmt.Sprintf("%d queued and will retry automatically.", r.Queued))
	}
	if rejected := r.Failed - r.Queued; rejected > 0 {
		parts = append(parts, fmt.Sprintf("%d rejected by the server, fix and save again.", rejected))
		if r.Queued == 0 {
			n.Action = models.ActionFixAndSaveAgain
		}
	}
	if r.Conflicted > 0 {
		parts = append(parts, fmt.Sprintf("Changed elsewhere: %s. Reload to resolve.", strings.Join(r.ConflictedSurfaces, ", ")))
		if n.Level == models.NoticeInfo {
			n.Level = models.NoticeWarn
		}
		if n.Action == models.ActionNone {
			n.Action = models.ActionReloadToResolve
		}
	}

	n.Message = strings.Join(parts, " ")
	return n, true
}
