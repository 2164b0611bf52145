package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuardStore(t *testing.T) {
	repo := NewMemoryGuardStore()
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("AcquireAndRelease", func(t *testing.T) {
		ok, err := repo.Acquire(ctx, "k", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, _ = repo.Acquire(ctx, "k", "b", time.Minute)
		assert.False(t, ok)

		require.NoError(t, repo.Release(ctx, "k", "b"))
		ok, _ = repo.Acquire(ctx, "k", "b", time.Minute)
		assert.False(t, ok, "release by a non-owner must not free the guard")

		require.NoError(t, repo.Release(ctx, "k", "a"))
		ok, _ = repo.Acquire(ctx, "k", "b", time.Minute)
		assert.True(t, ok)
	})

	t.Run("Expiry", func(t *testing.T) {
		ok, _ := repo.Acquire(ctx, "exp", "a", time.Second)
		require.True(t, ok)

		now = now.Add(2 * time.Second)
		ok, _ = repo.Acquire(ctx, "exp", "b", time.Second)
		assert.True(t, ok)
	})

	t.Run("CheckRateLimit", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			allowed, err := repo.CheckRateLimit(ctx, "actor:1", 2, time.Minute)
			require.NoError(t, err)
			assert.True(t, allowed)
		}
		allowed, _ := repo.CheckRateLimit(ctx, "actor:1", 2, time.Minute)
		assert.False(t, allowed)

		allowed, _ = repo.CheckRateLimit(ctx, "actor:2", 2, time.Minute)
		assert.True(t, allowed, "limits are per key")

		now = now.Add(2 * time.Minute)
		allowed, _ = repo.CheckRateLimit(ctx, "actor:1", 2, time.Minute)
		assert.True(t, allowed)
	})
}
