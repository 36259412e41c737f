package worker

import (
	"sync"

	"draftsync/internal/models"
)

// draftLocks hands out one mutex per draft key. Entries are dropped once no
// caller holds or waits for them.
type draftLocks struct {
	mu    sync.Mutex
	locks map[models.DraftKey]*draftLock
}

type draftLock struct {
	mu   sync.Mutex
	refs int
}

func (l *draftLocks) lock(key models.DraftKey) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[models.DraftKey]*draftLock)
	}
	dl, ok := l.locks[key]
	if !ok {
		dl = &draftLock{}
		l.locks[key] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
