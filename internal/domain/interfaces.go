package domain

import (
	"context"
	"encoding/json"
	"time"

	"draftsync/internal/models"
)

// DraftStore is the remote collaborator holding authoritative drafts.
type DraftStore interface {
	Upsert(ctx context.Context, key models.DraftKey, payload json.RawMessage) error
	// Read returns nil, nil when no draft exists for key.
	Read(ctx context.Context, key models.DraftKey) (*models.RemoteDraft, error)
}

// Prober performs a minimal side-effect-free request against the remote store.
type Prober interface {
	Ping(ctx context.Context) error
}

// LocalStorage is the durable local key/value tier ("localStorage").
// Get returns "", false, nil for missing keys.
type LocalStorage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// KeyLister is implemented by LocalStorage tiers that can enumerate keys.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Snapshotter hands the registry the current in-memory state of a surface.
// ok=false means there is nothing to save.
type Snapshotter interface {
	Snapshot() (payload json.RawMessage, ok bool)
}

// RegisteredSurface binds a surface key to its state accessor.
type RegisteredSurface struct {
	Key         string
	DisplayName string
	DraftKey    models.DraftKey
	State       Snapshotter
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Enqueuer accepts writes that failed for transient reasons.
// Forget drops pending writes superseded by a successful direct write.
// LockDraft serializes remote writes of one draft with the queue's own attempts.
type Enqueuer interface {
	EnqueueFailed(ctx context.Context, key models.DraftKey, payload json.RawMessage, attemptedAt time.Time, cause error) (*models.QueueItem, error)
	Forget(ctx context.Context, key models.DraftKey) int
	LockDraft(key models.DraftKey) (unlock func())
}

type QueueDrainer interface {
	Drain(ctx context.Context) DrainResult
}

// DrainResult summarizes one retry-queue drain.
type DrainResult struct {
	Attempted int
	Succeeded int
	Retrying  int
	Evicted   int
	Skipped   bool
}

type ConflictReporter interface {
	Report(surfaceName string)
}

// BatchSyncer is the coordinator surface needed by the navigation guard.
type BatchSyncer interface {
	SyncAll(ctx context.Context) (models.BatchResult, error)
	Syncing() bool
	RegisteredCount() int
}

type Reloader interface {
	ReloadAll(ctx context.Context) error
}

type Clock func() time.Time
