package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiterRejectsAfterLimit(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(newMemoryStore(time.Minute, clock.Now), 100, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		decision, err := limiter.Allow(ctx, "1.2.3.4-abcd")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d", i)
		require.Equal(t, 100-i, decision.Remaining)
	}

	decision, err := limiter.Allow(ctx, "1.2.3.4-abcd")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), decision.ResetAt)
}

func TestRejectedRequestsDoNotIncrement(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(time.Minute, clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := store.Increment(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
	}

	entry, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, entry.Count)
}

func TestWindowResetIsExact(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(newMemoryStore(time.Minute, clock.Now), 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "id")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	decision, err := limiter.Allow(ctx, "id")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// Just before the boundary the identity is still limited.
	clock.Advance(time.Minute - time.Nanosecond)
	decision, err = limiter.Allow(ctx, "id")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	clock.Advance(time.Nanosecond)
	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "id")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d after reset", i+1)
	}
	decision, err = limiter.Allow(ctx, "id")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestIdentitiesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(newMemoryStore(time.Minute, clock.Now), 1, time.Minute)
	ctx := context.Background()

	first, err := limiter.Allow(ctx, "1.2.3.4-aaaa")
	require.NoError(t, err)
	second, err := limiter.Allow(ctx, "1.2.3.4-bbbb")
	require.NoError(t, err)

	assert.True(t, first.Allowed)
	assert.True(t, second.Allowed)
}

func TestPassiveSweepEvictsExpiredEntries(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(time.Minute, clock.Now)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, _, err := store.Increment(ctx, key, 10, time.Minute)
		require.NoError(t, err)
	}
	require.Equal(t, 3, store.Len())

	clock.Advance(2 * time.Minute)

	// The next request triggers the sweep; only its own entry remains.
	_, allowed, err := store.Increment(ctx, "d", 10, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)
	assert.Equal(t, 1, store.Len())
}

func TestSweepRunsAtMostOncePerInterval(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(time.Minute, clock.Now)
	ctx := context.Background()

	_, _, err := store.Increment(ctx, "a", 10, time.Second)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	_, _, err = store.Increment(ctx, "b", 10, time.Second)
	require.NoError(t, err)

	// "a" expired but the sweep interval has not elapsed yet.
	assert.Equal(t, 2, store.Len())

	removed, err := store.Evict(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestResetDropsEntry(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(time.Minute, clock.Now)
	ctx := context.Background()

	_, _, err := store.Increment(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	_, allowed, err := store.Increment(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, store.Reset(ctx, "a"))

	_, allowed, err = store.Increment(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	limiter := NewLimiter(store, 50, time.Minute)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Allow(ctx, "shared")
			if err != nil {
				return
			}
			if decision.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
	entry, ok, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 50, entry.Count)
}
