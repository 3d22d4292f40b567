// Package cache provides pluggable storage for acquired tokens. The memory
// backend is the default; the Redis backend lets multiple proxy instances
// share tokens so each server's credentials are exchanged once per expiry
// window instead of once per instance.
package cache

import (
	"context"
	"time"
)

// Backend is a minimal TTL'd key-value store.
type Backend interface {
	// Get returns the value for key, or found=false on a miss. Expired
	// entries are misses.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key. A non-positive ttl means the entry is
	// already stale and must not be stored.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
