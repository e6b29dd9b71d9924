package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"crmsync/internal/coord"
)

// RateLimiter admits at most Limit calls per Window across every process
// sharing Store. Callers over budget block until the next window opens.
type RateLimiter struct {
	Store  coord.Store
	Key    string
	Limit  int
	Window time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.Store == nil || r.Limit <= 0 || r.Window <= 0 {
		return nil
	}
	for {
		now := r.now()
		ok, err := r.Store.TakeWindow(ctx, r.Key, r.Limit, r.Window, now)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		next := coord.WindowStart(now, r.Window).Add(r.Window)
		if err := r.sleep(ctx, next.Sub(now)); err != nil {
			return err
		}
	}
}

func (r *RateLimiter) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *RateLimiter) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// ConnectionLimiter caps concurrent in-flight calls across processes. Each
// slot is a lease that expires after LeaseTTL if its holder dies.
type ConnectionLimiter struct {
	Store    coord.Store
	Key      string
	Max      int
	LeaseTTL time.Duration
	Poll     time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c *ConnectionLimiter) Acquire(ctx context.Context) (func(), error) {
	if c == nil || c.Store == nil || c.Max <= 0 {
		return func() {}, nil
	}
	member := uuid.NewString()
	for {
		ok, err := c.Store.AcquireLease(ctx, c.Key, member, c.Max, c.leaseTTL(), c.now())
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = c.Store.ReleaseLease(rctx, c.Key, member)
			}, nil
		}
		if err := c.sleep(ctx, c.poll()); err != nil {
			return nil, err
		}
	}
}

func (c *ConnectionLimiter) leaseTTL() time.Duration {
	if c.LeaseTTL > 0 {
		return c.LeaseTTL
	}
	return 2 * time.Minute
}

func (c *ConnectionLimiter) poll() time.Duration {
	if c.Poll > 0 {
		return c.Poll
	}
	return 100 * time.Millisecond
}

func (c *ConnectionLimiter) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *ConnectionLimiter) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
