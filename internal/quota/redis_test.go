package quota

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func TestRedisStoreMissingKeyReadsZero(t *testing.T) {
	store := newRedisStore(t)
	used, err := store.Used(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestRedisStoreIncrIsMonotonic(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	for want := 1; want <= 5; want++ {
		got, err := store.Incr(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	used, err := store.Used(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, used)
}

func TestRedisStoreSurvivesGuardRestart(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	guard := NewGuard(NewRedisStore(client), 3)
	for i := 0; i < 3; i++ {
		_, err := guard.Consume(ctx, "u1")
		require.NoError(t, err)
	}
	require.NoError(t, client.Close())

	// A fresh guard over the same store sees the persisted count.
	client = redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	guard = NewGuard(NewRedisStore(client), 3)

	allowed, err := guard.CheckAndReserve(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRedisStoreReset(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Incr(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "u1"))

	used, err := store.Used(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, used)
}
