package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/rpc-gateway/internal/config"
	"github.com/aman-churiwal/rpc-gateway/internal/storage"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter applies a fixed window of limit requests per window to every
// identity.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
	}
}

// NewStore picks the backing store from configuration. The redis client is
// only required for the redis backend.
func NewStore(cfg config.RateLimitConfig, redis *storage.RedisClient) (Store, error) {
	switch cfg.Store {
	case config.StoreRedis:
		if redis == nil {
			return nil, fmt.Errorf("rate limit store %q requires a redis connection", cfg.Store)
		}
		return NewRedisStore(redis), nil
	case config.StoreMemory, "":
		return NewMemoryStore(cfg.Window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit store: %s", cfg.Store)
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	entry, allowed, err := l.store.Increment(ctx, key, l.limit, l.window)
	if err != nil {
		return Decision{}, err
	}

	remaining := l.limit - entry.Count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   entry.ResetAt,
	}, nil
}

func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) Window() time.Duration {
	return l.window
}

func (l *Limiter) Store() Store {
	return l.store
}
