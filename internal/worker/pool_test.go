package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsJobs(t *testing.T) {
	p := NewPool(8, nil)
	p.Start(2)
	defer p.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int]bool{}
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, p.Submit("job", func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			seen[i] = true
			mu.Unlock()
		}))
	}
	wg.Wait()
	require.Len(t, seen, 5)
}

func TestPoolQueueFull(t *testing.T) {
	p := NewPool(1, nil)
	// not started: the single slot fills and the next submit is rejected
	require.NoError(t, p.Submit("a", func(ctx context.Context) {}))
	err := p.Submit("b", func(ctx context.Context) {})
	require.True(t, errors.Is(err, ErrQueueFull))
	p.Stop()
	require.ErrorIs(t, p.Submit("c", func(ctx context.Context) {}), ErrStopped)
}

func TestPoolStopCancelsJobs(t *testing.T) {
	p := NewPool(1, nil)
	p.Start(1)
	started := make(chan struct{})
	done := make(chan error, 1)
	require.NoError(t, p.Submit("long", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		done <- ctx.Err()
	}))
	<-started
	p.Stop()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("job was not cancelled")
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(2, nil)
	p.Start(1)
	defer p.Stop()
	require.NoError(t, p.Submit("boom", func(ctx context.Context) { panic("boom") }))
	ran := make(chan struct{})
	require.NoError(t, p.Submit("after", func(ctx context.Context) { close(ran) }))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestPoolStopHandsQueuedJobsCancelledContext(t *testing.T) {
	p := NewPool(4, nil)
	var errs []error
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Submit("queued", func(ctx context.Context) {
			errs = append(errs, ctx.Err())
		}))
	}
	p.Stop()
	require.Len(t, errs, 2)
	for _, err := range errs {
		require.ErrorIs(t, err, context.Canceled)
	}
}
