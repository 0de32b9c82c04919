// Package cache provides a generic, thread-safe LRU cache bounded by entry
// count and, optionally, by total weight.
//
// The persistent storage layer uses it as an in-memory hot tier for blobs:
//
//	hot, err := cache.NewLRU[[]byte](4096,
//	    cache.WithWeigher(func(v []byte) int64 { return int64(len(v)) }),
//	    cache.WithMaxWeight[[]byte](64<<20),
//	    cache.WithMetrics[[]byte](registry, "storage_hot"),
//	)
//
// Statistics are always collected and available through Stats. With
// WithMetrics the same counters are exported as runtime_worker_cache_*
// series labelled with the component prefix.
//
// Eviction callbacks run after the cache lock is released, so a callback
// may safely call back into the cache.
package cache
