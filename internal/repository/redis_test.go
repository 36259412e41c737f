package repository

import (
	"context"
	"testing"
	"time"

	"draftsync/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocalStorage(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer client.Close()

	repo := NewRedisLocalStorage(client, 0)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "draftsync:retry_queue", `[{"id":"1"}]`))

		got, ok, err := repo.Get(ctx, "draftsync:retry_queue")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `[{"id":"1"}]`, got)
		assert.Equal(t, time.Duration(0), s.TTL("draftsync:retry_queue"))
	})

	t.Run("GetMissing", func(t *testing.T) {
		got, ok, err := repo.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, got)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "draft:m1:flashcards", `{}`))
		require.NoError(t, repo.Remove(ctx, "draft:m1:flashcards"))

		_, ok, err := repo.Get(ctx, "draft:m1:flashcards")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TTL", func(t *testing.T) {
		expiring := NewRedisLocalStorage(client, time.Second)
		require.NoError(t, expiring.Set(ctx, "draft:m1:presentations", `{}`))

		s.FastForward(time.Second + time.Millisecond)

		_, ok, err := expiring.Get(ctx, "draft:m1:presentations")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TTLSparesQueueSnapshots", func(t *testing.T) {
		expiring := NewRedisLocalStorage(client, time.Second)
		require.NoError(t, expiring.Set(ctx, "draftsync:retry_queue", `[{"id":"q1"}]`))
		require.NoError(t, expiring.Set(ctx, "draftsync:dead_letter", `[{"id":"d1"}]`))
		require.NoError(t, expiring.Set(ctx, "draft:m2:assignment", `{}`))

		s.FastForward(time.Hour)

		got, ok, err := expiring.Get(ctx, "draftsync:retry_queue")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `[{"id":"q1"}]`, got)
		_, ok, err = expiring.Get(ctx, "draftsync:dead_letter")
		require.NoError(t, err)
		assert.True(t, ok)
		_, ok, err = expiring.Get(ctx, "draft:m2:assignment")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Keys", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "draft:m3:quiz:final_test", `{}`))
		require.NoError(t, repo.Set(ctx, "draft:m3:assignment", `{}`))
		require.NoError(t, repo.Set(ctx, "draft:m30:assignment", `{}`))

		keys, err := repo.Keys(ctx, "draft:m3:")
		require.NoError(t, err)
		assert.Equal(t, []string{"draft:m3:assignment", "draft:m3:quiz:final_test"}, keys)
	})

	t.Run("ServerDown", func(t *testing.T) {
		down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer down.Close()

		err := NewRedisLocalStorage(down, 0).Set(ctx, "k", "v")
		assert.Error(t, err)
	})

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisLocalStorage(nil, 0)
		_, _, err := repo.Get(ctx, "k")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})

	t.Run("Close", func(t *testing.T) {
		assert.NoError(t, Close(client))
	})
}
