package coord

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memLock struct {
	token   string
	expires time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	locks   map[string]memLock
	windows map[string]int
	leases  map[string]map[string]time.Time

	// Now is overridable for tests.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:   map[string]memLock{},
		windows: map[string]int{},
		leases:  map[string]map[string]time.Time{},
	}
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MemoryStore) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if cur, ok := s.locks[key]; ok && now.Before(cur.expires) {
		return false, nil
	}
	s.locks[key] = memLock{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) RefreshLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cur, ok := s.locks[key]
	if !ok || cur.token != token || !now.Before(cur.expires) {
		return false, nil
	}
	cur.expires = now.Add(ttl)
	s.locks[key] = cur
	return true, nil
}

func (s *MemoryStore) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.locks[key]
	if !ok || cur.token != token {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

func (s *MemoryStore) TakeWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error) {
	prefix := key + ":"
	bucket := prefix + strconv.FormatInt(WindowStart(now, window).UnixMilli(), 10)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.windows {
		if k != bucket && strings.HasPrefix(k, prefix) {
			delete(s.windows, k)
		}
	}
	if s.windows[bucket] >= limit {
		return false, nil
	}
	s.windows[bucket]++
	return true, nil
}

func (s *MemoryStore) AcquireLease(ctx context.Context, key, member string, max int, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.leases[key]
	if set == nil {
		set = map[string]time.Time{}
		s.leases[key] = set
	}
	for m, exp := range set {
		if !now.Before(exp) {
			delete(set, m)
		}
	}
	if len(set) >= max {
		return false, nil
	}
	set[member] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) ReleaseLease(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.leases[key]; set != nil {
		delete(set, member)
	}
	return nil
}
