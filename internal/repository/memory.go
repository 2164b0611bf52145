package repository

import (
	"context"
	"sync"
	"time"

	"rentmarket/internal/domain"
)

type guardEntry struct {
	owner     string
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryGuardStore is the in-process GuardStore used when Redis is absent.
type MemoryGuardStore struct {
	mu         sync.Mutex
	guards     map[string]guardEntry
	rateLimits map[string]*rateLimitEntry
	now        func() time.Time
}

var _ domain.GuardStore = (*MemoryGuardStore)(nil)

func NewMemoryGuardStore() *MemoryGuardStore {
	return &MemoryGuardStore{
		guards:     make(map[string]guardEntry),
		rateLimits: make(map[string]*rateLimitEntry),
		now:        time.Now,
	}
}

func (r *MemoryGuardStore) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if g, ok := r.guards[key]; ok && now.Before(g.expiresAt) {
		return false, nil
	}
	r.guards[key] = guardEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (r *MemoryGuardStore) Release(_ context.Context, key, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.guards[key]; ok && g.owner == owner {
		delete(r.guards, key)
	}
	return nil
}

func (r *MemoryGuardStore) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
