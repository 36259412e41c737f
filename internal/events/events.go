package events

import (
	"encoding/json"
	"sync"
	"time"

	"draftsync/internal/models"
)

const (
	EventDraftSaved          = "draft_saved"
	EventDraftQueued         = "draft_queued"
	EventDraftRejected       = "draft_rejected"
	EventQueueItemEvicted    = "queue_item_evicted"
	EventBatchCompleted      = "batch_completed"
	EventConflictDetected    = "conflict_detected"
	EventConnectivityChanged = "connectivity_changed"
	EventNotice              = "notice"
)

// SaveStatePayload describes the outcome of one draft write.
type SaveStatePayload struct {
	EntityID string    `json:"entity_id"`
	Surface  string    `json:"surface"`
	Trigger  string    `json:"trigger"`
	QueueID  string    `json:"queue_id,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// EvictionPayload is published when an item leaves the retry queue without syncing.
type EvictionPayload struct {
	Item   models.QueueItem `json:"item"`
	Reason string           `json:"reason"`
}

type ConnectivityPayload struct {
	Available bool                     `json:"available"`
	State     models.ConnectivityState `json:"state"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
