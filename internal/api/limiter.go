package api

import (
	"context"
	"strconv"
	"sync"
	"time"

	"rentmarket/internal/config"
	"rentmarket/internal/domain"
	"rentmarket/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// rateLimiter is the in-process token bucket per API client.
type rateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newRateLimiter(cfg config.APIRateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &rateLimiter{rps: cfg.RPS, burst: burst}
}

func (l *rateLimiter) allow(key string) bool {
	if l.rps <= 0 {
		return true
	}
	return l.getLimiter(key).Allow()
}

func (l *rateLimiter) getLimiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		if lim, ok := v.(*rate.Limiter); ok {
			return lim
		}
	}

	lim := rate.NewLimiter(rate.Limit(l.rps), l.burst)
	actual, loaded := l.limiters.LoadOrStore(key, lim)
	if loaded {
		if actualLim, ok := actual.(*rate.Limiter); ok {
			return actualLim
		}
	}
	return lim
}

// writeLimiter caps mutating calls per actor through the guard store, so the
// budget is shared by every replica behind the same Redis.
type writeLimiter struct {
	guards domain.GuardStore
	limit  int
	window time.Duration
	log    zerolog.Logger
}

func newWriteLimiter(guards domain.GuardStore, cfg config.APIRateLimitConfig, logger *zerolog.Logger) *writeLimiter {
	l := &writeLimiter{guards: guards, limit: cfg.WritesPerWindow, window: cfg.Window, log: zerolog.Nop()}
	if logger != nil {
		l.log = logger.With().Str("component", "write_limiter").Logger()
	}
	return l
}

func (l *writeLimiter) allow(ctx context.Context, actor models.Actor) bool {
	if l == nil || l.guards == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	ok, err := l.guards.CheckRateLimit(ctx, "actor:"+strconv.FormatInt(actor.UserID, 10), l.limit, l.window)
	if err != nil {
		// Лимит не должен блокировать запись при недоступном хранилище
		l.log.Warn().Err(err).Int64("actor_id", actor.UserID).Msg("write rate limit check failed")
		return true
	}
	return ok
}
