package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a MemoryCache when no limit is configured.
const DefaultMaxEntries = 10000

type memoryEntry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

func (e memoryEntry[V]) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// MemoryCache is an in-process Cache bounded to a maximum number of entries.
// When full, the oldest entry is evicted to make room.
type MemoryCache[V any] struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry[V]
	maxEntries int
	now        func() time.Time
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	maxEntries int
	now        func() time.Time
}

// WithMaxEntries sets the entry bound.
func WithMaxEntries(n int) MemoryOption {
	return func(o *memoryOptions) {
		o.maxEntries = n
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		o.now = now
	}
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache[V any](opts ...MemoryOption) *MemoryCache[V] {
	o := memoryOptions{maxEntries: DefaultMaxEntries, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxEntries <= 0 {
		o.maxEntries = DefaultMaxEntries
	}
	return &MemoryCache[V]{
		entries:    make(map[string]memoryEntry[V]),
		maxEntries: o.maxEntries,
		now:        o.now,
	}
}

// Get implements Cache.
func (c *MemoryCache[V]) Get(_ context.Context, key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok || e.expired(c.now()) {
		return zero, false
	}
	return e.value, true
}

// SetIfAbsent implements Cache. An expired entry counts as absent.
func (c *MemoryCache[V]) SetIfAbsent(_ context.Context, key string, value V, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if !e.expired(now) {
			return false
		}
		delete(c.entries, key)
	}
	if len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = memoryEntry[V]{value: value, storedAt: now, ttl: ttl}
	return true
}

// Delete implements Cache.
func (c *MemoryCache[V]) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *MemoryCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep implements Sweeper.
func (c *MemoryCache[V]) Sweep(_ context.Context) (int, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed, nil
}

// evictLocked drops expired entries, or the single oldest entry if none expired.
// Caller must hold c.mu.
func (c *MemoryCache[V]) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			continue
		}
		if !found || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.storedAt, true
		}
	}
	if len(c.entries) >= c.maxEntries && found {
		delete(c.entries, oldestKey)
	}
}
