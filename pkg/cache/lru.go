package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/c360/runtimeworker/errors"
)

type lruEntry[V any] struct {
	key    string
	value  V
	weight int64
}

// lruCache evicts the least recently used entries once either the entry
// count or the weight bound is exceeded.
type lruCache[V any] struct {
	mu         sync.Mutex
	maxEntries int
	maxWeight  int64
	weight     int64
	items      map[string]*list.Element
	order      *list.List // front = most recently used
	weigher    Weigher[V]
	stats      *Statistics
	metrics    *cacheMetrics
	evictFn    EvictCallback[V]
}

func newLRUCache[V any](maxEntries int, opts *cacheOptions[V]) (*lruCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newLRUCache", "metrics registration")
		}
	}

	return &lruCache[V]{
		maxEntries: maxEntries,
		maxWeight:  opts.maxWeight,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		weigher:    opts.weigher,
		stats:      NewStatistics(),
		metrics:    metrics,
		evictFn:    opts.evictCallback,
	}, nil
}

// Get retrieves a value by key and marks it as recently used.
func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
		return zero, false
	}

	c.order.MoveToFront(element)
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return element.Value.(*lruEntry[V]).value, true
}

// Set stores a value and marks it as recently used. A value heavier than
// the weight bound is rejected with an invalid-data error and leaves the
// cache untouched.
func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var weight int64
	if c.weigher != nil {
		weight = c.weigher(value)
	}
	if c.maxWeight > 0 && weight > c.maxWeight {
		c.stats.Reject()
		if c.metrics != nil {
			c.metrics.rejects.Inc()
		}
		return false, errors.WrapInvalid(
			fmt.Errorf("entry weight %d exceeds limit %d", weight, c.maxWeight),
			"cache", "Set", "weight check")
	}

	c.mu.Lock()
	created := true
	if element, exists := c.items[key]; exists {
		entry := element.Value.(*lruEntry[V])
		c.weight += weight - entry.weight
		entry.value = value
		entry.weight = weight
		c.order.MoveToFront(element)
		created = false
	} else {
		c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value, weight: weight})
		c.weight += weight
	}

	evicted := c.evictOverflowLocked()
	c.stats.Set()
	if c.metrics != nil {
		c.metrics.sets.Inc()
	}
	c.recordSizeLocked()
	c.mu.Unlock()

	c.notify(evicted)
	return created, nil
}

// Delete removes an entry by key.
func (c *lruCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return false, nil
	}
	entry := c.removeLocked(element)
	c.stats.Delete()
	c.recordSizeLocked()
	c.mu.Unlock()

	c.notify([]*lruEntry[V]{entry})
	return true, nil
}

// Clear removes all entries.
func (c *lruCache[V]) Clear() error {
	c.mu.Lock()
	var removed []*lruEntry[V]
	if c.evictFn != nil {
		removed = make([]*lruEntry[V], 0, len(c.items))
		for element := c.order.Back(); element != nil; element = element.Prev() {
			removed = append(removed, element.Value.(*lruEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.weight = 0
	c.recordSizeLocked()
	c.mu.Unlock()

	c.notify(removed)
	return nil
}

// Size returns the current number of entries.
func (c *lruCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Weight returns the summed weight of all entries.
func (c *lruCache[V]) Weight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weight
}

// Keys returns all keys, most recently used first.
func (c *lruCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*lruEntry[V]).key)
	}
	return keys
}

// Stats returns cache statistics.
func (c *lruCache[V]) Stats() *Statistics {
	return c.stats
}

// Close is a no-op; the LRU cache runs no background goroutines.
func (c *lruCache[V]) Close() error {
	return nil
}

// evictOverflowLocked drops entries from the back until both bounds hold.
// The front entry is never evicted. Must be called with mu held.
func (c *lruCache[V]) evictOverflowLocked() []*lruEntry[V] {
	var evicted []*lruEntry[V]
	for c.order.Len() > 1 && (len(c.items) > c.maxEntries || (c.maxWeight > 0 && c.weight > c.maxWeight)) {
		evicted = append(evicted, c.removeLocked(c.order.Back()))
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.evictions.Inc()
		}
	}
	return evicted
}

func (c *lruCache[V]) removeLocked(element *list.Element) *lruEntry[V] {
	entry := element.Value.(*lruEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)
	c.weight -= entry.weight
	return entry
}

func (c *lruCache[V]) recordSizeLocked() {
	c.stats.UpdateSize(int64(len(c.items)), c.weight)
	if c.metrics != nil {
		c.metrics.updateSize(len(c.items), c.weight)
	}
}

// notify runs the eviction callback outside the lock.
func (c *lruCache[V]) notify(entries []*lruEntry[V]) {
	if c.evictFn == nil {
		return
	}
	for _, entry := range entries {
		c.evictFn(entry.key, entry.value)
	}
}
