package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"draftsync/internal/domain"
	"draftsync/internal/draftstore"
	"draftsync/internal/events"
	"draftsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterSaved(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()
	w := NewWriter(f.store, f.queue, f.clock.Now, f.bus, nil)

	var saved []events.SaveStatePayload
	f.bus.Subscribe(events.EventDraftSaved, func(e *events.Event) error {
		var p events.SaveStatePayload
		require.NoError(t, json.Unmarshal(e.Payload, &p))
		saved = append(saved, p)
		return nil
	})

	// an older queued snapshot of the same draft must not overwrite this save later
	_, err := f.queue.Enqueue(ctx, assignmentKey, json.RawMessage(`{"v":0}`))
	require.NoError(t, err)

	res := w.Write(ctx, assignmentKey, json.RawMessage(`{"v":1}`), TriggerManual)
	assert.Equal(t, StatusSaved, res.Status)
	assert.NoError(t, res.Err)
	assert.Nil(t, res.QueueItem)
	assert.Equal(t, 0, f.queue.PendingCount())

	require.Len(t, saved, 1)
	assert.Equal(t, TriggerManual, saved[0].Trigger)
	assert.Equal(t, "assignment", saved[0].Surface)
}

func TestWriterQueuesTransientFailure(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()
	w := NewWriter(f.store, f.queue, f.clock.Now, f.bus, nil)
	f.store.SetUpsertHook(func(models.DraftKey) error {
		return &draftstore.TransientError{Op: "upsert", Err: context.DeadlineExceeded}
	})

	attemptedAt := f.clock.Now()
	res := w.Write(ctx, finalTestKey, json.RawMessage(`{"answers":[]}`), TriggerAutosave)
	assert.Equal(t, StatusQueued, res.Status)
	require.NotNil(t, res.QueueItem)
	assert.Equal(t, 0, res.QueueItem.RetryCount)
	assert.Equal(t, attemptedAt.Add(time.Second), res.QueueItem.NextRetryAt)
	require.NotNil(t, res.QueueItem.LastAttemptAt)
	assert.Equal(t, attemptedAt, *res.QueueItem.LastAttemptAt)
	assert.Equal(t, 1, f.queue.PendingCount())
}

func TestWriterDoesNotQueueRejection(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()
	w := NewWriter(f.store, f.queue, f.clock.Now, f.bus, nil)
	f.store.SetUpsertHook(func(models.DraftKey) error {
		return &draftstore.ApplicationError{StatusCode: 422, Code: "bad_payload", Message: "nope"}
	})

	var rejected int
	f.bus.Subscribe(events.EventDraftRejected, func(*events.Event) error {
		rejected++
		return nil
	})

	res := w.Write(ctx, flashcardsKey, json.RawMessage(`{}`), TriggerBatch)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Error(t, res.Err)
	assert.Equal(t, 0, f.queue.PendingCount())
	assert.Equal(t, 1, rejected)
}

func TestWriterThenQueueDrainAfterOutage(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()
	w := NewWriter(f.store, f.queue, f.clock.Now, f.bus, nil)
	start := f.clock.Now()

	offline := true
	f.store.SetUpsertHook(func(models.DraftKey) error {
		if offline {
			return &draftstore.TransientError{Op: "upsert", Err: context.Canceled}
		}
		return nil
	})

	f.clock.Set(start.Add(60 * time.Second))
	res := w.Write(ctx, assignmentKey, json.RawMessage(`{"text":"hello"}`), TriggerAutosave)
	require.Equal(t, StatusQueued, res.Status)
	assert.Equal(t, start.Add(61*time.Second), res.QueueItem.NextRetryAt)

	f.clock.Set(start.Add(70 * time.Second))
	offline = false
	drained := f.queue.Drain(ctx)
	assert.Equal(t, 1, drained.Succeeded)
	assert.Equal(t, 0, f.queue.PendingCount())

	remote, err := f.store.Read(ctx, assignmentKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hello"}`, string(remote.Payload))
}

func TestWriterWaitsForInFlightQueuedWrite(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()
	w := NewWriter(f.store, f.queue, f.clock.Now, f.bus, nil)

	_, err := f.queue.Enqueue(ctx, assignmentKey, json.RawMessage(`{"v":"old"}`))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	f.store.SetUpsertHook(func(models.DraftKey) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil
	})

	drained := make(chan domain.DrainResult, 1)
	go func() { drained <- f.queue.Drain(ctx) }()
	<-entered

	written := make(chan WriteResult, 1)
	go func() {
		written <- w.Write(ctx, assignmentKey, json.RawMessage(`{"v":"new"}`), TriggerAutosave)
	}()

	assert.Never(t, func() bool { return len(written) > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"direct write must wait for the queued attempt of the same draft")
	close(release)

	assert.Equal(t, 1, (<-drained).Succeeded)
	assert.Equal(t, StatusSaved, (<-written).Status)

	remote, err := f.store.Read(ctx, assignmentKey)
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.JSONEq(t, `{"v":"new"}`, string(remote.Payload))
	assert.Equal(t, 0, f.queue.PendingCount())
}

func TestDrainAndDirectWriteOfSameDraftAreOrdered(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()
	w := NewWriter(f.store, f.queue, f.clock.Now, f.bus, nil)

	_, err := f.queue.Enqueue(ctx, assignmentKey, json.RawMessage(`{"v":"old"}`))
	require.NoError(t, err)

	unlock := f.queue.LockDraft(assignmentKey)
	drained := make(chan domain.DrainResult, 1)
	go func() { drained <- f.queue.Drain(ctx) }()
	assert.Eventually(t, f.queue.Processing, time.Second, time.Millisecond)

	// whichever of the two takes the draft lock first, the newer payload lands last
	unlock()
	res := w.Write(ctx, assignmentKey, json.RawMessage(`{"v":"new"}`), TriggerManual)
	<-drained
	assert.Equal(t, StatusSaved, res.Status)

	remote, err := f.store.Read(ctx, assignmentKey)
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.JSONEq(t, `{"v":"new"}`, string(remote.Payload))
	assert.Equal(t, 0, f.queue.PendingCount())
}
