package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rentmarket/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverGuardStore uses primary until it errors, then serves from fallback
// and probes primary again once per recoveryInterval.
type FailoverGuardStore struct {
	primary  domain.GuardStore
	fallback domain.GuardStore
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

var _ domain.GuardStore = (*FailoverGuardStore)(nil)

func NewFailoverGuardStore(primary, fallback domain.GuardStore, logger *zerolog.Logger) *FailoverGuardStore {
	return &FailoverGuardStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the call should go to primary.
func (r *FailoverGuardStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverGuardStore) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary guard store failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverGuardStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary guard store recovered")
	}
}

func (r *FailoverGuardStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.Acquire(ctx, key, owner, ttl)
		if err == nil {
			r.markUp()
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.Acquire(ctx, key, owner, ttl)
}

// Release goes to both stores since the guard may have been taken on either side.
func (r *FailoverGuardStore) Release(ctx context.Context, key, owner string) error {
	if !r.isDown.Load() {
		if err := r.primary.Release(ctx, key, owner); err != nil {
			r.markDown(err)
		}
	}
	return r.fallback.Release(ctx, key, owner)
}

func (r *FailoverGuardStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
