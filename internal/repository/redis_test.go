package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"rentmarket/internal/config"
	"rentmarket/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func TestRedisGuardStore(t *testing.T) {
	s, client := setupRedis(t)
	store := NewRedisGuardStore(client)
	ctx := context.Background()

	t.Run("AcquireIsExclusive", func(t *testing.T) {
		ok, err := store.Acquire(ctx, "payment:reservation:1", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Acquire(ctx, "payment:reservation:1", "b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.Get("rentmarket:payment:reservation:1")
		require.NoError(t, err)
		assert.Equal(t, "a", got)
	})

	t.Run("ReleaseOnlyByOwner", func(t *testing.T) {
		require.NoError(t, store.Release(ctx, "payment:reservation:1", "b"))
		assert.True(t, s.Exists("rentmarket:payment:reservation:1"))

		require.NoError(t, store.Release(ctx, "payment:reservation:1", "a"))
		assert.False(t, s.Exists("rentmarket:payment:reservation:1"))
	})

	t.Run("GuardExpires", func(t *testing.T) {
		ok, err := store.Acquire(ctx, "payment:reservation:2", "a", 10*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		s.FastForward(11 * time.Second)

		ok, err = store.Acquire(ctx, "payment:reservation:2", "b", 10*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("CheckRateLimit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			allowed, err := store.CheckRateLimit(ctx, "actor:9", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, allowed)
		}
		allowed, err := store.CheckRateLimit(ctx, "actor:9", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, allowed)

		s.FastForward(time.Minute + time.Second)

		allowed, err = store.CheckRateLimit(ctx, "actor:9", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("ServerDown", func(t *testing.T) {
		down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
		defer down.Close()
		broken := NewRedisGuardStore(down)

		_, err := broken.Acquire(ctx, "k", "o", time.Second)
		assert.Error(t, err)
		_, err = broken.CheckRateLimit(ctx, "k", 1, time.Second)
		assert.Error(t, err)
	})

	t.Run("NilClient", func(t *testing.T) {
		empty := NewRedisGuardStore(nil)
		_, err := empty.Acquire(ctx, "k", "o", time.Second)
		assert.ErrorIs(t, err, errNilClient)
		assert.ErrorIs(t, empty.Release(ctx, "k", "o"), errNilClient)
	})
}

func TestRedisNotifier(t *testing.T) {
	s, client := setupRedis(t)
	notifier := NewRedisNotifier(client, "rentmarket:notifications")
	ctx := context.Background()

	n := models.Notification{ID: 5, EventType: "reservation.created", ReservationID: 11, Payload: `{"reservation_id":11}`}
	require.NoError(t, notifier.Deliver(ctx, n))

	list, err := s.List("rentmarket:notifications")
	require.NoError(t, err)
	require.Len(t, list, 1)

	var decoded models.Notification
	require.NoError(t, json.Unmarshal([]byte(list[0]), &decoded))
	assert.Equal(t, int64(11), decoded.ReservationID)
	assert.Equal(t, "reservation.created", decoded.EventType)
}

func TestRedisClientHelpers(t *testing.T) {
	s, _ := setupRedis(t)
	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})

	assert.NoError(t, Ping(context.Background(), client))
	assert.NoError(t, Close(client))
	assert.NoError(t, Close(nil))
}
