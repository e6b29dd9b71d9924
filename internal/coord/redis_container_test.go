//go:build container

package coord

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"crmsync/internal/testutil"
)

func TestRedisStoreAgainstServer(t *testing.T) {
	s := NewRedisStore(&redis.Options{Addr: testutil.StartRedis(t)}, "test:")
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	ok, err := s.AcquireLock(ctx, "sync", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.AcquireLock(ctx, "sync", "b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	released, err := s.ReleaseLock(ctx, "sync", "b")
	require.NoError(t, err)
	require.False(t, released)
	refreshed, err := s.RefreshLock(ctx, "sync", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, refreshed)
	released, err = s.ReleaseLock(ctx, "sync", "a")
	require.NoError(t, err)
	require.True(t, released)

	now := time.Now()
	for i := 0; i < 3; i++ {
		ok, err := s.TakeWindow(ctx, "crm", 3, time.Hour, now)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err = s.TakeWindow(ctx, "crm", 3, time.Hour, now)
	require.NoError(t, err)
	require.False(t, ok)

	ok, _ = s.AcquireLease(ctx, "conns", "a", 1, time.Minute, now)
	require.True(t, ok)
	ok, _ = s.AcquireLease(ctx, "conns", "b", 1, time.Minute, now)
	require.False(t, ok)
	require.NoError(t, s.ReleaseLease(ctx, "conns", "a"))
	ok, _ = s.AcquireLease(ctx, "conns", "b", 1, time.Minute, now)
	require.True(t, ok)
}
