package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"crmsync/internal/coord"
)

var ErrNotHeld = errors.New("lock no longer held")

// Locker hands out named, TTL-bounded locks backed by the shared store.
type Locker struct {
	Store coord.Store
	Poll  time.Duration
}

type Lease struct {
	locker *Locker
	Key    string
	Token  string
	TTL    time.Duration
}

func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	token := uuid.NewString()
	ok, err := l.Store.AcquireLock(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lease{locker: l, Key: key, Token: token, TTL: ttl}, true, nil
}

// Acquire polls until the lock is free or wait elapses. It returns false,
// not an error, when the wait runs out.
func (l *Locker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lease, bool, error) {
	deadline := time.Now().Add(wait)
	for {
		lease, ok, err := l.TryAcquire(ctx, key, ttl)
		if err != nil || ok {
			return lease, ok, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false, nil
		}
		pause := l.poll()
		if pause > remaining {
			pause = remaining
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Locker) poll() time.Duration {
	if l.Poll > 0 {
		return l.Poll
	}
	return 200 * time.Millisecond
}

func (le *Lease) Refresh(ctx context.Context) error {
	ok, err := le.locker.Store.RefreshLock(ctx, le.Key, le.Token, le.TTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}

func (le *Lease) Release(ctx context.Context) error {
	ok, err := le.locker.Store.ReleaseLock(ctx, le.Key, le.Token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}

// KeepAlive refreshes the lease every interval until ctx is done or a
// refresh fails; the failure is passed to onLost.
func (le *Lease) KeepAlive(ctx context.Context, interval time.Duration, onLost func(error)) {
	if interval <= 0 {
		interval = le.TTL / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := le.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if onLost != nil {
					onLost(err)
				}
				return
			}
		}
	}
}
