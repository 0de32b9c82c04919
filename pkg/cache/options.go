package cache

import (
	"github.com/c360/runtimeworker/metric"
)

// Option configures cache behavior.
type Option[V any] func(*cacheOptions[V])

// Stats are always collected; Prometheus export is optional.
type cacheOptions[V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string

	evictCallback EvictCallback[V]

	weigher   Weigher[V]
	maxWeight int64
}

// WithMetrics exports cache statistics through the registry, labelled with
// prefix as the component. Ignored when registry is nil or prefix is empty.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback invoked when entries leave the cache.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithWeigher sets the function used to weigh entries.
func WithWeigher[V any](weigher Weigher[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.weigher = weigher
	}
}

// WithMaxWeight bounds the summed weight of all entries. Requires a weigher.
// If maxWeight is <= 0, this option is ignored.
func WithMaxWeight[V any](maxWeight int64) Option[V] {
	return func(opts *cacheOptions[V]) {
		if maxWeight > 0 {
			opts.maxWeight = maxWeight
		}
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
