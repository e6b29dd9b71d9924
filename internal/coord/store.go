package coord

import (
	"context"
	"time"
)

// Store holds the state shared by every worker process: named locks, rate
// windows and connection leases. RedisStore is the production backend;
// MemoryStore only coordinates goroutines of one process.
type Store interface {
	// AcquireLock sets key to token when the key is free. ttl bounds how long
	// a crashed holder can block others.
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// RefreshLock extends the ttl when token still holds key.
	RefreshLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// ReleaseLock deletes key when token still holds it.
	ReleaseLock(ctx context.Context, key, token string) (bool, error)

	// TakeWindow counts one call against the fixed window containing now and
	// reports whether it fit under limit.
	TakeWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error)

	// AcquireLease adds member to the lease set when fewer than max unexpired
	// leases exist. Leases expire after ttl.
	AcquireLease(ctx context.Context, key, member string, max int, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, key, member string) error
}

// WindowStart is the beginning of the fixed window containing now.
func WindowStart(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return now
	}
	return time.UnixMilli(now.UnixMilli() - now.UnixMilli()%window.Milliseconds()).UTC()
}
