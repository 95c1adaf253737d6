package ratelimit

import (
	"context"
	"time"
)

// Entry is the per-identity counter of the current window.
type Entry struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"window_reset_at"`
}

// Store keeps fixed-window counters keyed by client identity.
type Store interface {
	// Increment atomically checks the entry for key against limit and, when
	// the request fits, counts it. An expired or missing entry starts a new
	// window of the given length with a count of one. A rejected request
	// does not change the count.
	Increment(ctx context.Context, key string, limit int, window time.Duration) (Entry, bool, error)

	// Get returns the live entry for key, if any.
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Reset drops the entry for key.
	Reset(ctx context.Context, key string) error

	// Evict removes entries whose window has fully elapsed and reports how
	// many were removed.
	Evict(ctx context.Context) (int, error)

	Name() string
}
