package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crmsync/internal/coord"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func TestRateLimiterBlocksCallAfterBudget(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)}
	limiter := &RateLimiter{
		Store:  coord.NewMemoryStore(),
		Key:    "crm:rate",
		Limit:  5,
		Window: time.Minute,
		Now:    clock.Now,
		Sleep:  clock.Sleep,
	}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
	require.Empty(t, clock.sleeps, "first N calls proceed immediately")

	require.NoError(t, limiter.Wait(ctx))
	require.Equal(t, []time.Duration{50 * time.Second}, clock.sleeps)
	require.Equal(t, time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC), clock.now)
}

func TestRateLimiterSharedAcrossInstances(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := coord.NewMemoryStore()
	a := &RateLimiter{Store: store, Key: "crm:rate", Limit: 2, Window: time.Minute, Now: clock.Now, Sleep: clock.Sleep}
	b := &RateLimiter{Store: store, Key: "crm:rate", Limit: 2, Window: time.Minute, Now: clock.Now, Sleep: clock.Sleep}
	ctx := context.Background()

	require.NoError(t, a.Wait(ctx))
	require.NoError(t, b.Wait(ctx))
	require.NoError(t, a.Wait(ctx))
	require.Len(t, clock.sleeps, 1)
}

func TestRateLimiterHonoursCancel(t *testing.T) {
	limiter := &RateLimiter{Store: coord.NewMemoryStore(), Key: "k", Limit: 1, Window: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, limiter.Wait(ctx))
	require.ErrorIs(t, limiter.Wait(ctx), context.DeadlineExceeded)
}

func TestConnectionLimiterBlocksUntilRelease(t *testing.T) {
	limiter := &ConnectionLimiter{
		Store: coord.NewMemoryStore(),
		Key:   "crm:conns",
		Max:   2,
		Poll:  5 * time.Millisecond,
	}
	ctx := context.Background()

	r1, err := limiter.Acquire(ctx)
	require.NoError(t, err)
	r2, err := limiter.Acquire(ctx)
	require.NoError(t, err)
	defer r2()

	acquired := make(chan func(), 1)
	go func() {
		r3, err := limiter.Acquire(ctx)
		if err == nil {
			acquired <- r3
		}
	}()

	select {
	case <-acquired:
		t.Fatalf("third acquire must block while two leases are held")
	case <-time.After(30 * time.Millisecond):
	}

	r1()
	select {
	case r3 := <-acquired:
		r3()
	case <-time.After(time.Second):
		t.Fatalf("third acquire did not proceed after release")
	}
}
