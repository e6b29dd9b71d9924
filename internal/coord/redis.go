package coord

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0`)

	windowScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
  return 0
end
n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1`)

	leaseScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[2]) then
  redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
  return 1
end
return 0`)
)

type RedisStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisStore(opt *redis.Options, prefix string) *RedisStore {
	return &RedisStore{Client: redis.NewClient(opt), Prefix: prefix}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}

func (s *RedisStore) key(k string) string {
	return s.Prefix + k
}

func (s *RedisStore) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.Client.SetNX(ctx, s.key(key), token, ttl).Result()
}

func (s *RedisStore) RefreshLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, s.Client, []string{s.key(key)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.Client, []string{s.key(key)}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) TakeWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error) {
	start := WindowStart(now, window)
	bucket := s.key(key) + ":" + strconv.FormatInt(start.UnixMilli(), 10)
	// Keep the bucket a little past its window so late callers still see it.
	ttl := window + time.Second
	n, err := windowScript.Run(ctx, s.Client, []string{bucket}, limit, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) AcquireLease(ctx context.Context, key, member string, max int, ttl time.Duration, now time.Time) (bool, error) {
	nowMs := now.UnixMilli()
	expires := now.Add(ttl).UnixMilli()
	n, err := leaseScript.Run(ctx, s.Client, []string{s.key(key)},
		nowMs, max, expires, member, (ttl * 2).Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) ReleaseLease(ctx context.Context, key, member string) error {
	return s.Client.ZRem(ctx, s.key(key), member).Err()
}
