package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"draftsync/internal/domain"
	"draftsync/internal/events"
	"draftsync/internal/models"
	"draftsync/internal/worker"

	"github.com/rs/zerolog"
)

var ErrNothingToSave = errors.New("nothing to save")

// Registry is where an active surface makes itself visible to batch sync.
type Registry interface {
	Register(surface domain.RegisteredSurface) error
	Unregister(key string)
}

type Options struct {
	DisplayName string
	Interval    time.Duration
	Now         domain.Clock
	Publisher   domain.EventPublisher
	Logger      *zerolog.Logger
}

// Controller owns the edit buffer of one surface. Edits are mirrored to local
// storage synchronously; remote writes go through the shared Writer.
type Controller struct {
	key         models.DraftKey
	displayName string
	writer      *worker.Writer
	store       domain.DraftStore
	storage     domain.LocalStorage
	registry    Registry
	interval    time.Duration
	now         domain.Clock
	publisher   domain.EventPublisher
	logger      *zerolog.Logger

	mu          sync.RWMutex
	local       json.RawMessage
	revision    uint64
	savedRev    uint64
	lastSavedAt *time.Time
	terminal    bool
	cancel      context.CancelFunc

	saving atomic.Bool
}

func NewController(key models.DraftKey, writer *worker.Writer, store domain.DraftStore, storage domain.LocalStorage, registry Registry, opts Options) (*Controller, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if opts.DisplayName == "" {
		opts.DisplayName = key.SurfaceKey()
	}
	if opts.Interval <= 0 {
		opts.Interval = models.DefaultAutosaveInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	logger := opts.Logger.With().Str("surface", key.String()).Logger()

	return &Controller{
		key:         key,
		displayName: opts.DisplayName,
		writer:      writer,
		store:       store,
		storage:     storage,
		registry:    registry,
		interval:    opts.Interval,
		now:         opts.Now,
		publisher:   opts.Publisher,
		logger:      &logger,
	}, nil
}

func (c *Controller) Key() models.DraftKey {
	return c.key
}

func (c *Controller) DisplayName() string {
	return c.displayName
}

// LocalState returns a copy of the edit buffer, nil when empty.
func (c *Controller) LocalState() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local == nil {
		return nil
	}
	return append(json.RawMessage(nil), c.local...)
}

// SetLocalState replaces the edit buffer and mirrors it to local storage before returning.
// The buffer is updated even if the mirror fails.
func (c *Controller) SetLocalState(ctx context.Context, payload json.RawMessage) error {
	if !json.Valid(payload) {
		return fmt.Errorf("local state for %s is not valid JSON", c.key.SurfaceKey())
	}
	c.mu.Lock()
	c.local = append(json.RawMessage(nil), payload...)
	c.revision++
	c.mu.Unlock()

	if err := c.storage.Set(ctx, c.key.StorageKey(), string(payload)); err != nil {
		c.logger.Error().Err(err).Msg("failed to mirror local edit")
		return fmt.Errorf("mirror %s: %w", c.key.StorageKey(), err)
	}
	return nil
}

// Restore loads the local mirror into the edit buffer, as after a reload.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	raw, ok, err := c.storage.Get(ctx, c.key.StorageKey())
	if err != nil {
		return false, fmt.Errorf("restore %s: %w", c.key.StorageKey(), err)
	}
	if !ok {
		return false, nil
	}
	c.mu.Lock()
	c.local = json.RawMessage(raw)
	c.revision++
	c.mu.Unlock()
	c.logger.Info().Msg("local draft restored")
	return true, nil
}

// Reload overwrites the edit buffer and its mirror with the remote draft.
func (c *Controller) Reload(ctx context.Context) error {
	remote, err := c.store.Read(ctx, c.key)
	if err != nil {
		return fmt.Errorf("reload %s: %w", c.key, err)
	}
	if remote == nil {
		return nil
	}

	c.mu.Lock()
	c.local = append(json.RawMessage(nil), remote.Payload...)
	c.revision++
	c.savedRev = c.revision
	updated := remote.UpdatedAt
	c.lastSavedAt = &updated
	c.mu.Unlock()

	if err := c.storage.Set(ctx, c.key.StorageKey(), string(remote.Payload)); err != nil {
		return fmt.Errorf("mirror %s: %w", c.key.StorageKey(), err)
	}
	return nil
}

// Snapshot implements domain.Snapshotter. Terminal or empty surfaces have nothing to save.
func (c *Controller) Snapshot() (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.terminal || c.local == nil {
		return nil, false
	}
	return append(json.RawMessage(nil), c.local...), true
}

func (c *Controller) Saving() bool {
	return c.saving.Load()
}

func (c *Controller) LastSavedAt() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastSavedAt == nil {
		return nil
	}
	t := *c.lastSavedAt
	return &t
}

// Dirty reports whether the buffer changed since the last successful save.
func (c *Controller) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local != nil && c.revision != c.savedRev
}

func (c *Controller) Terminal() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.terminal
}

// Save is the manual "save now": one direct attempt, result reported synchronously.
func (c *Controller) Save(ctx context.Context) (worker.WriteResult, error) {
	c.mu.RLock()
	payload, rev := c.local, c.revision
	c.mu.RUnlock()
	if payload == nil {
		return worker.WriteResult{}, ErrNothingToSave
	}
	return c.write(ctx, payload, rev, worker.TriggerManual), nil
}

// RecordBatchWrite lets the coordinator report a write it made on this surface's behalf.
func (c *Controller) RecordBatchWrite(payload json.RawMessage, res worker.WriteResult) {
	if res.Status != worker.StatusSaved {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if string(c.local) == string(payload) {
		c.savedRev = c.revision
	}
	at := res.At
	c.lastSavedAt = &at
}

// Autosave runs one autosave cycle and reports whether a write was attempted.
// Nothing is written when the buffer is unchanged since the last save or the surface is terminal.
func (c *Controller) Autosave(ctx context.Context) bool {
	c.mu.RLock()
	payload, rev, skip := c.local, c.revision, c.terminal || c.local == nil || c.revision == c.savedRev
	c.mu.RUnlock()
	if skip {
		return false
	}
	c.write(context.WithoutCancel(ctx), payload, rev, worker.TriggerAutosave)
	return true
}

func (c *Controller) write(ctx context.Context, payload json.RawMessage, rev uint64, trigger string) worker.WriteResult {
	c.saving.Store(true)
	defer c.saving.Store(false)

	res := c.writer.Write(ctx, c.key, payload, trigger)

	switch res.Status {
	case worker.StatusSaved:
		c.mu.Lock()
		if rev > c.savedRev {
			c.savedRev = rev
		}
		at := res.At
		c.lastSavedAt = &at
		c.mu.Unlock()
		if trigger == worker.TriggerManual {
			c.notify(models.NoticeInfo, models.ActionNone, fmt.Sprintf("%s saved.", c.displayName))
		}
	case worker.StatusQueued:
		c.notify(models.NoticeWarn, models.ActionRetryAutomatic,
			fmt.Sprintf("Could not reach the server. Changes to %s are kept and will retry automatically.", c.displayName))
	case worker.StatusRejected:
		c.notify(models.NoticeError, models.ActionFixAndSaveAgain,
			fmt.Sprintf("%s was not saved: %v", c.displayName, res.Err))
	}
	return res
}

func (c *Controller) notify(level models.NoticeLevel, action models.NoticeAction, msg string) {
	events.Notify(c.publisher, models.Notice{
		Level:     level,
		Message:   msg,
		Action:    action,
		Surface:   c.key.SurfaceKey(),
		CreatedAt: c.now(),
	})
}

// Start registers the surface for batch sync and starts the autosave timer.
// Terminal surfaces neither register nor tick.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	if c.registry != nil && !c.terminal {
		if err := c.registry.Register(domain.RegisteredSurface{
			Key:         c.key.SurfaceKey(),
			DisplayName: c.displayName,
			DraftKey:    c.key,
			State:       c,
		}); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	if !c.terminal {
		go c.loop(ctx)
	}
	return nil
}

func (c *Controller) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Autosave(ctx)
		}
	}
}

// MarkTerminal disables autosave for good, e.g. after final submission. The
// surface leaves the registry, so batch sync and the navigation guard skip it.
func (c *Controller) MarkTerminal() {
	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return
	}
	c.terminal = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		if c.registry != nil {
			c.registry.Unregister(c.key.SurfaceKey())
		}
	}
	c.logger.Info().Msg("surface reached terminal state, autosave disabled")
}

// Stop clears the timer and unregisters. An in-flight write is left to finish on its own.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if c.registry != nil {
		c.registry.Unregister(c.key.SurfaceKey())
	}
}
