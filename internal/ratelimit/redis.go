package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/rpc-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Check and count in one round trip so concurrent gateway replicas cannot
// lose or overshoot increments. Returns {count, pttl_ms, allowed}.
var incrementScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if count >= limit then
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
    ttl = tonumber(ARGV[2])
  end
  return {count, ttl, 0}
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {count, redis.call('PTTL', KEYS[1]), 1}
`)

// RedisStore shares counters between gateway replicas. Window expiry is
// delegated to key TTLs.
type RedisStore struct {
	redis *storage.RedisClient
	now   func() time.Time
}

func NewRedisStore(redis *storage.RedisClient) *RedisStore {
	return &RedisStore{redis: redis, now: time.Now}
}

func redisKey(key string) string {
	return fmt.Sprintf("ratelimit:rpc:%s", key)
}

func (s *RedisStore) Increment(ctx context.Context, key string, limit int, window time.Duration) (Entry, bool, error) {
	vals, err := s.redis.Run(ctx, incrementScript, []string{redisKey(key)}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Entry{}, false, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(vals) != 3 {
		return Entry{}, false, fmt.Errorf("rate limit script returned %d values", len(vals))
	}

	entry := Entry{
		Count:   int(vals[0]),
		ResetAt: s.now().Add(time.Duration(vals[1]) * time.Millisecond),
	}

	return entry, vals[2] == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	rk := redisKey(key)

	val, err := s.redis.Get(ctx, rk)
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return Entry{}, false, fmt.Errorf("corrupt rate limit counter for %s: %w", key, err)
	}

	ttl, err := s.redis.PTTL(ctx, rk)
	if err != nil {
		return Entry{}, false, err
	}
	if ttl <= 0 {
		return Entry{}, false, nil
	}

	return Entry{Count: count, ResetAt: s.now().Add(ttl)}, true, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.redis.Del(ctx, redisKey(key))
}

// Evict is a no-op, Redis expires windows on its own.
func (s *RedisStore) Evict(ctx context.Context) (int, error) {
	return 0, nil
}

func (s *RedisStore) Name() string {
	return "redis"
}
