package worker

import (
	"math"
	"time"

	"draftsync/internal/config"
	"draftsync/internal/models"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// PolicyFromConfig builds a policy from the sync section of the config.
func PolicyFromConfig(cfg config.SyncConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.BaseDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: models.DefaultBackoffFactor,
	}.withDefaults()
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = models.DefaultMaxRetries
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = models.DefaultBaseDelay
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = models.DefaultBackoffFactor
	}
	return r
}

// DelayFor returns the wait after a failure that left an item at retryCount:
// InitialDelay * BackoffFactor^retryCount, clamped to MaxDelay when set.
func (r RetryPolicy) DelayFor(retryCount int) time.Duration {
	r = r.withDefaults()
	if retryCount < 0 {
		retryCount = 0
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(retryCount))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = r.InitialDelay
	}
	return d
}
