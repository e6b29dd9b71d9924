package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/coord"
)

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := &Locker{Store: coord.NewMemoryStore(), Poll: 5 * time.Millisecond}

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := l.Acquire(ctx, "data-sync", time.Minute, 20*time.Millisecond)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), winners)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	l := &Locker{Store: coord.NewMemoryStore(), Poll: 5 * time.Millisecond}

	first, ok, err := l.TryAcquire(ctx, "data-sync", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = first.Release(context.Background())
	}()

	second, ok, err := l.Acquire(ctx, "data-sync", time.Minute, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, first.Token, second.Token)

	require.ErrorIs(t, first.Refresh(ctx), ErrNotHeld)
	require.NoError(t, second.Refresh(ctx))
	require.NoError(t, second.Release(ctx))
}

func TestAcquireGivesUpAfterWait(t *testing.T) {
	ctx := context.Background()
	l := &Locker{Store: coord.NewMemoryStore(), Poll: 5 * time.Millisecond}
	_, ok, err := l.TryAcquire(ctx, "data-sync", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	_, ok, err = l.Acquire(ctx, "data-sync", time.Minute, 30*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.Less(t, time.Since(start), time.Second)
}
