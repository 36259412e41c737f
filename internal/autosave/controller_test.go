package autosave

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"draftsync/internal/coordinator"
	"draftsync/internal/draftstore"
	"draftsync/internal/events"
	"draftsync/internal/models"
	"draftsync/internal/repository"
	"draftsync/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var finalTest = models.DraftKey{EntityID: "m7", Kind: models.KindQuiz, SubKind: models.SubKindFinalTest}

type fixture struct {
	mu       sync.Mutex
	now      time.Time
	store    *draftstore.MemoryStore
	storage  *repository.MemoryLocalStorage
	queue    *worker.RetryQueue
	writer   *worker.Writer
	registry *coordinator.Registry
	notices  *events.NoticeLog
	bus      *events.EventBus
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	f.bus = events.NewEventBus()
	f.notices = events.NewNoticeLog(f.bus, 20)
	f.store = draftstore.NewMemoryStore(f.clock)
	f.storage = repository.NewMemoryLocalStorage()
	f.queue = worker.NewRetryQueue(f.store, f.storage, worker.QueueOptions{Now: f.clock, Publisher: f.bus})
	f.writer = worker.NewWriter(f.store, f.queue, f.clock, f.bus, nil)
	f.registry = coordinator.NewRegistry()
	return f
}

func (f *fixture) controller(t *testing.T, interval time.Duration) *Controller {
	t.Helper()
	c, err := NewController(finalTest, f.writer, f.store, f.storage, f.registry, Options{
		DisplayName: "Final test",
		Interval:    interval,
		Now:         f.clock,
		Publisher:   f.bus,
	})
	require.NoError(t, err)
	return c
}

func TestNewControllerValidatesKey(t *testing.T) {
	f := newFixture(t)
	_, err := NewController(models.DraftKey{EntityID: "m7", Kind: models.KindQuiz}, f.writer, f.store, f.storage, nil, Options{})
	assert.ErrorIs(t, err, models.ErrInvalidKey)
}

func TestSetLocalStateMirrorsSynchronously(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.SetLocalState(ctx, json.RawMessage(`{"answers":["b"]}`)))

	raw, ok, err := f.storage.Get(ctx, "draft:m7:quiz:final_test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"answers":["b"]}`, raw)
	assert.True(t, c.Dirty())
	assert.Nil(t, c.LastSavedAt())
	assert.Equal(t, 0, f.store.UpsertCount(finalTest), "local edits never hit the remote store")

	assert.Error(t, c.SetLocalState(ctx, json.RawMessage(`{broken`)))
}

func TestRestoreAfterReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.controller(t, time.Hour).SetLocalState(ctx, json.RawMessage(`{"answers":["c"]}`)))

	fresh := f.controller(t, time.Hour)
	restored, err := fresh.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.JSONEq(t, `{"answers":["c"]}`, string(fresh.LocalState()))

	empty, err := NewController(models.DraftKey{EntityID: "m7", Kind: models.KindFlashcards}, f.writer, f.store, f.storage, nil, Options{})
	require.NoError(t, err)
	restored, err = empty.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestManualSave(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, time.Hour)
	ctx := context.Background()

	_, err := c.Save(ctx)
	assert.ErrorIs(t, err, ErrNothingToSave)

	require.NoError(t, c.SetLocalState(ctx, json.RawMessage(`{"answers":["a"]}`)))
	res, err := c.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.StatusSaved, res.Status)
	assert.False(t, c.Saving())
	assert.False(t, c.Dirty())
	require.NotNil(t, c.LastSavedAt())
	assert.Equal(t, f.now, *c.LastSavedAt())

	notices := f.notices.Recent()
	require.Len(t, notices, 1)
	assert.Equal(t, models.NoticeInfo, notices[0].Level)
}

func TestSaveTransientFailureQueuesAndKeepsLocalState(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, time.Hour)
	ctx := context.Background()
	f.store.SetUpsertHook(func(models.DraftKey) error {
		return &draftstore.TransientError{Op: "upsert", StatusCode: 504}
	})

	require.NoError(t, c.SetLocalState(ctx, json.RawMessage(`{"answers":["x"]}`)))
	res, err := c.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.StatusQueued, res.Status)
	assert.Equal(t, 1, f.queue.PendingCount())
	assert.JSONEq(t, `{"answers":["x"]}`, string(c.LocalState()))
	assert.True(t, c.Dirty())

	notices := f.notices.Recent()
	require.Len(t, notices, 1)
	assert.Equal(t, models.ActionRetryAutomatic, notices[0].Action)
}

func TestSaveRejectionIsNotQueued(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, time.Hour)
	ctx := context.Background()
	f.store.SetUpsertHook(func(models.DraftKey) error {
		return &draftstore.ApplicationError{StatusCode: 400, Message: "too many answers"}
	})

	require.NoError(t, c.SetLocalState(ctx, json.RawMessage(`{}`)))
	res, err := c.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.StatusRejected, res.Status)
	assert.Equal(t, 0, f.queue.PendingCount())

	notices := f.notices.Recent()
	require.Len(t, notices, 1)
	assert.Equal(t, models.ActionFixAndSaveAgain, notices[0].Action)
	assert.Contains(t, notices[0].Message, "too many answers")
}

func TestStartRegistersAndTicks(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	defer c.Stop()
	assert.Equal(t, 1, f.registry.Count())

	// nothing to save yet: ticks are no-ops
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, f.store.UpsertCount(finalTest))

	require.NoError(t, c.SetLocalState(ctx, json.RawMessage(`{"answers":["d"]}`)))
	require.Eventually(t, func() bool { return f.store.UpsertCount(finalTest) == 1 }, time.Second, 5*time.Millisecond)

	// unchanged buffer is not written again
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, f.store.UpsertCount(finalTest))

	second := f.controller(t, time.Hour)
	assert.ErrorIs(t, second.Start(ctx), coordinator.ErrDuplicateSurface)
}

func TestStopClearsTimerAndUnregisters(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	c.Stop()
	assert.Equal(t, 0, f.registry.Count())

	require.NoError(t, c.SetLocalState(ctx, json.RawMessage(`{"late":true}`)))
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, f.store.UpsertCount(finalTest))
}

func TestTerminalSurfaceNeverAutosaves(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.SetLocalState(ctx, json.RawMessage(`{"submitted":true}`)))
	c.MarkTerminal()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, f.store.UpsertCount(finalTest))
	assert.True(t, c.Terminal())
	assert.Equal(t, 0, f.registry.Count())

	_, ok := c.Snapshot()
	assert.False(t, ok, "terminal surfaces have nothing to batch-save")
}

func TestMarkTerminalStopsRunningTimer(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	defer c.Stop()
	assert.Equal(t, 1, f.registry.Count())
	c.MarkTerminal()
	assert.Equal(t, 0, f.registry.Count(), "submitted surfaces leave the registry")

	require.NoError(t, c.SetLocalState(ctx, json.RawMessage(`{"after":"submit"}`)))
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, f.store.UpsertCount(finalTest))
}

func TestReloadOverwritesLocalBuffer(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, c.SetLocalState(ctx, json.RawMessage(`{"mine":true}`)))
	f.store.Put(finalTest, json.RawMessage(`{"theirs":true}`), f.now.Add(-time.Second))

	require.NoError(t, c.Reload(ctx))
	assert.JSONEq(t, `{"theirs":true}`, string(c.LocalState()))
	assert.False(t, c.Dirty())

	raw, _, err := f.storage.Get(ctx, finalTest.StorageKey())
	require.NoError(t, err)
	assert.JSONEq(t, `{"theirs":true}`, raw)
}

func TestBatchWriteMarksSaved(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.SetLocalState(ctx, json.RawMessage(`{"v":1}`)))

	payload, ok := c.Snapshot()
	require.True(t, ok)
	c.RecordBatchWrite(payload, worker.WriteResult{Status: worker.StatusSaved, At: f.now})
	assert.False(t, c.Dirty())
	require.NotNil(t, c.LastSavedAt())
}

func TestAutosaveSkipsUnchangedBuffer(t *testing.T) {
	f := newFixture(t)
	c := f.controller(t, time.Hour)
	ctx := context.Background()

	assert.False(t, c.Autosave(ctx), "empty buffer")

	require.NoError(t, c.SetLocalState(ctx, json.RawMessage(`{"v":2}`)))
	assert.True(t, c.Autosave(ctx))
	assert.False(t, c.Autosave(ctx), "already saved")
	assert.Equal(t, 1, f.store.UpsertCount(finalTest))

	remote, err := f.store.Read(ctx, finalTest)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(remote.Payload))
}
