package cache

import (
	"fmt"

	"github.com/c360/runtimeworker/errors"
)

// Cache is a generic, thread-safe in-memory cache keyed by string.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found.
	Get(key string) (V, bool)

	// Set stores a value. Returns true if a new entry was created, false if
	// an existing entry was replaced.
	Set(key string, value V) (bool, error)

	// Delete removes an entry. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries.
	Clear() error

	// Size returns the current number of entries.
	Size() int

	// Weight returns the summed weight of all entries.
	Weight() int64

	// Keys returns all keys, most recently used first.
	Keys() []string

	// Stats returns the cache statistics. Never nil.
	Stats() *Statistics

	// Close releases resources.
	Close() error
}

// EvictCallback is called outside the cache lock when an entry leaves the
// cache through eviction, deletion or Clear.
type EvictCallback[V any] func(key string, value V)

// Weigher reports the weight of a value, typically its size in bytes.
type Weigher[V any] func(value V) int64

// NewLRU creates a cache bounded by maxEntries and, with WithMaxWeight, by
// total weight. The least recently used entries are evicted first.
func NewLRU[V any](maxEntries int, options ...Option[V]) (Cache[V], error) {
	if maxEntries <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("max entries must be positive, got %d", maxEntries),
			"cache", "NewLRU", "size validation")
	}

	opts := applyOptions(options...)
	if opts.maxWeight > 0 && opts.weigher == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("max weight %d set without a weigher", opts.maxWeight),
			"cache", "NewLRU", "weight validation")
	}

	return newLRUCache(maxEntries, opts)
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
