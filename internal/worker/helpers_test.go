package worker

import (
	"sync"
	"testing"
	"time"

	"draftsync/internal/draftstore"
	"draftsync/internal/events"
	"draftsync/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type queueFixture struct {
	clock   *fakeClock
	store   *draftstore.MemoryStore
	storage *repository.MemoryLocalStorage
	bus     *events.EventBus
	notices *events.NoticeLog
	queue   *RetryQueue
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	clock := newFakeClock()
	store := draftstore.NewMemoryStore(clock.Now)
	storage := repository.NewMemoryLocalStorage()
	bus := events.NewEventBus()
	notices := events.NewNoticeLog(bus, 10)
	q := NewRetryQueue(store, storage, QueueOptions{
		Policy:       RetryPolicy{MaxRetries: 5, InitialDelay: time.Second},
		PollInterval: time.Hour,
		Now:          clock.Now,
		Publisher:    bus,
	})
	return &queueFixture{clock: clock, store: store, storage: storage, bus: bus, notices: notices, queue: q}
}

func transientErr() error {
	return &draftstore.TransientError{Op: "upsert", StatusCode: 503}
}
