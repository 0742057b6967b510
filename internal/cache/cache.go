// Package cache provides TTL key-value caches shared by the geo resolver and
// the ranking engine's preference profiles.
//
// Entries are written with insert-if-absent semantics so concurrent populators
// never overwrite each other with partial values, and reads never return an
// entry past its TTL.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL key-value store.
type Cache[V any] interface {
	// Get returns the value for key if present and unexpired.
	Get(ctx context.Context, key string) (V, bool)
	// SetIfAbsent stores value under key unless an unexpired entry already exists.
	// Returns true if the value was stored.
	SetIfAbsent(ctx context.Context, key string, value V, ttl time.Duration) bool
	// Delete removes key. Missing keys are ignored.
	Delete(ctx context.Context, key string)
}

// Sweeper is implemented by caches that need explicit removal of expired entries.
type Sweeper interface {
	// Sweep removes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}
