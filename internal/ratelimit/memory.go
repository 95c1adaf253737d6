package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process store. Expired entries are swept lazily while
// serving requests, at most once per sweep interval; there is no background
// timer, so memory is bounded by the identities seen within roughly two
// windows.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	now       func() time.Time
	lastSweep time.Time
	interval  time.Duration
}

func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	return newMemoryStore(sweepInterval, time.Now)
}

func newMemoryStore(sweepInterval time.Duration, now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]*Entry),
		now:       now,
		lastSweep: now(),
		interval:  sweepInterval,
	}
}

func (m *MemoryStore) Increment(ctx context.Context, key string, limit int, window time.Duration) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= m.interval {
		m.sweep(now)
	}

	entry, exists := m.entries[key]
	if !exists || !now.Before(entry.ResetAt) {
		entry = &Entry{Count: 1, ResetAt: now.Add(window)}
		m.entries[key] = entry
		return *entry, true, nil
	}

	if entry.Count >= limit {
		return *entry, false, nil
	}

	entry.Count++
	return *entry, true, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[key]
	if !exists || !m.now().Before(entry.ResetAt) {
		return Entry{}, false, nil
	}

	return *entry, true, nil
}

func (m *MemoryStore) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Evict(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sweep(m.now()), nil
}

// Len reports the number of tracked identities, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

func (m *MemoryStore) Name() string {
	return "memory"
}

// caller holds m.mu
func (m *MemoryStore) sweep(now time.Time) int {
	removed := 0
	for key, entry := range m.entries {
		if !now.Before(entry.ResetAt) {
			delete(m.entries, key)
			removed++
		}
	}
	m.lastSweep = now

	return removed
}
