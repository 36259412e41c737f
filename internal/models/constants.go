package models

import "time"

const (
	// MirrorKeyPrefix starts every local draft mirror key.
	MirrorKeyPrefix = "draft:"
	// QueueKeyPrefix is shared by the retry queue and dead-letter snapshots.
	QueueKeyPrefix = "draftsync:"

	// QueueStorageKey holds the JSON snapshot of the retry queue.
	QueueStorageKey = QueueKeyPrefix + "retry_queue"
	// DeadLetterStorageKey holds items evicted from the retry queue.
	DeadLetterStorageKey = QueueKeyPrefix + "dead_letter"

	DefaultMaxRetries       = 5
	DefaultBaseDelay        = time.Second
	DefaultBackoffFactor    = 2
	DefaultGracePeriod      = 5 * time.Second
	DefaultAutosaveInterval = 60 * time.Second
	DefaultProbeInterval    = 10 * time.Second
	DefaultPollInterval     = 5 * time.Second

	// Пороги задержки для оценки качества соединения
	PoorLatencyThreshold = 2000 * time.Millisecond
	GoodLatencyThreshold = 1000 * time.Millisecond

	DefaultDeadLetterLimit = 100
)
