package models

import (
	"encoding/json"
	"time"
)

// QueueItem is a pending draft write waiting in the retry queue.
type QueueItem struct {
	ID            string          `json:"id"`
	EntityID      string          `json:"entity_id"`
	DraftKind     DraftKind       `json:"draft_kind"`
	DraftSubKind  string          `json:"draft_sub_kind,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	RetryCount    int             `json:"retry_count"`
	NextRetryAt   time.Time       `json:"next_retry_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

func (q *QueueItem) Key() DraftKey {
	return DraftKey{EntityID: q.EntityID, Kind: q.DraftKind, SubKind: q.DraftSubKind}
}

// Eligible reports whether the item may be attempted at now.
func (q *QueueItem) Eligible(now time.Time, maxRetries int) bool {
	return !q.NextRetryAt.After(now) && q.RetryCount < maxRetries
}
