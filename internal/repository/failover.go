package repository

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"draftsync/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLocalStorage writes to the primary tier and switches to the fallback
// once the primary fails. Recovery is attempted on reads after recoveryInterval.
//
// Keys under a pinned prefix never touch the primary: they are read and written
// on the fallback tier only, so an outage cannot split them across tiers.
type FailoverLocalStorage struct {
	primary   domain.LocalStorage
	fallback  domain.LocalStorage
	pinned    []string
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverLocalStorage(primary, fallback domain.LocalStorage, logger *zerolog.Logger, pinned ...string) *FailoverLocalStorage {
	return &FailoverLocalStorage{
		primary:  primary,
		fallback: fallback,
		pinned:   pinned,
		logger:   logger,
	}
}

func (r *FailoverLocalStorage) isPinned(key string) bool {
	for _, p := range r.pinned {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (r *FailoverLocalStorage) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary local storage failed, falling back")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverLocalStorage) recoveryDue() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverLocalStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if r.isPinned(key) {
		return r.fallback.Get(ctx, key)
	}
	if !r.isDown.Load() {
		val, ok, err := r.primary.Get(ctx, key)
		if err == nil {
			return val, ok, nil
		}
		r.markDown(err)
	}

	if r.isDown.Load() && r.recoveryDue() {
		val, ok, err := r.primary.Get(ctx, key)
		if err == nil {
			r.logger.Info().Msg("Primary local storage recovered")
			r.isDown.Store(false)
			return val, ok, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.Get(ctx, key)
}

func (r *FailoverLocalStorage) Set(ctx context.Context, key, value string) error {
	if r.isPinned(key) {
		return r.fallback.Set(ctx, key, value)
	}
	if !r.isDown.Load() {
		err := r.primary.Set(ctx, key, value)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Set(ctx, key, value)
}

func (r *FailoverLocalStorage) Remove(ctx context.Context, key string) error {
	if r.isPinned(key) {
		return r.fallback.Remove(ctx, key)
	}
	if !r.isDown.Load() {
		err := r.primary.Remove(ctx, key)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Remove(ctx, key)
}

// Keys lists keys from the tier currently serving writes.
func (r *FailoverLocalStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	if !r.isPinned(prefix) && !r.isDown.Load() {
		if lister, ok := r.primary.(domain.KeyLister); ok {
			keys, err := lister.Keys(ctx, prefix)
			if err == nil {
				return keys, nil
			}
			r.markDown(err)
		}
	}
	lister, ok := r.fallback.(domain.KeyLister)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	return lister.Keys(ctx, prefix)
}

// Degraded reports whether writes currently go to the fallback tier.
func (r *FailoverLocalStorage) Degraded() bool {
	return r.isDown.Load()
}
