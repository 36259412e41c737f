package draftstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"draftsync/internal/models"
)

type memoryRecord struct {
	payload   json.RawMessage
	updatedAt time.Time
}

// MemoryStore is an in-process draft store. Hooks let callers inject failures.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]memoryRecord
	upserts map[string]int

	upsertHook func(models.DraftKey) error
	readHook   func(models.DraftKey) error
	pingErr    error
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:     now,
		records: make(map[string]memoryRecord),
		upserts: make(map[string]int),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, key models.DraftKey, payload json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return &TransientError{Op: "upsert", Err: err}
	}
	if err := key.Validate(); err != nil {
		return &ApplicationError{StatusCode: 400, Code: "invalid_key", Message: err.Error()}
	}

	s.mu.Lock()
	s.upserts[key.String()]++
	hook := s.upsertHook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(key); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key.String()] = memoryRecord{
		payload:   append(json.RawMessage(nil), payload...),
		updatedAt: s.now(),
	}
	return nil
}

func (s *MemoryStore) Read(ctx context.Context, key models.DraftKey) (*models.RemoteDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransientError{Op: "read", Err: err}
	}

	s.mu.Lock()
	hook := s.readHook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(key); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key.String()]
	if !ok {
		return nil, nil
	}
	return &models.RemoteDraft{
		Payload:   append(json.RawMessage(nil), rec.payload...),
		UpdatedAt: rec.updatedAt,
	}, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

// Put stores a record with an explicit timestamp, as a write from another device would.
func (s *MemoryStore) Put(key models.DraftKey, payload json.RawMessage, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key.String()] = memoryRecord{payload: payload, updatedAt: updatedAt}
}

// UpsertCount returns how many upserts were attempted for key, failed ones included.
func (s *MemoryStore) UpsertCount(key models.DraftKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts[key.String()]
}

func (s *MemoryStore) SetUpsertHook(hook func(models.DraftKey) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertHook = hook
}

func (s *MemoryStore) SetReadHook(hook func(models.DraftKey) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readHook = hook
}

func (s *MemoryStore) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}
