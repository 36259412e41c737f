package models

import "time"

// SyncStats are cumulative for the lifetime of one coordinator.
type SyncStats struct {
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	ConflictCount int64 `json:"conflict_count"`
	TotalAttempts int64 `json:"total_attempts"`
}

// BatchResult summarizes one batch pass.
type BatchResult struct {
	Succeeded          int       `json:"succeeded"`
	Failed             int       `json:"failed"`
	Queued             int       `json:"queued"`
	Conflicted         int       `json:"conflicted"`
	Skipped            int       `json:"skipped"`
	Drained            int       `json:"drained"`
	ConflictedSurfaces []string  `json:"conflicted_surfaces,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// Attempted is the number of surfaces that reached the write or conflict stage.
func (r BatchResult) Attempted() int {
	return r.Succeeded + r.Failed + r.Conflicted
}
