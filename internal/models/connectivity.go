package models

import "time"

type ConnectionStatus string

const (
	StatusExcellent ConnectionStatus = "excellent"
	StatusGood      ConnectionStatus = "good"
	StatusPoor      ConnectionStatus = "poor"
	StatusOffline   ConnectionStatus = "offline"
)

// ConnectivityState is recomputed as a whole on every probe.
type ConnectivityState struct {
	Status        ConnectionStatus `json:"status"`
	LatencyMs     *int64           `json:"latency_ms"`
	LastCheckedAt time.Time        `json:"last_checked_at"`
	LastError     *string          `json:"last_error"`
}
