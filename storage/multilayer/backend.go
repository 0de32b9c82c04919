// Package multilayer stacks storage layers into a single Store.
package multilayer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/metric"
	"github.com/c360/runtimeworker/storage"
)

// Option configures a Backend
type Option func(*Backend)

// WithLogger sets the backend logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records per-layer operations in the core metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(b *Backend) {
		b.metrics = m
	}
}

// Backend reads layers in order, returning the first hit and copying it
// into every earlier layer. Writes go to all layers in order and stop at
// the first failure. Layer 0 is therefore always consulted first, and a
// successful write is always readable from Layer 0.
type Backend struct {
	layers  []storage.Store
	names   []string
	metrics *metric.Metrics
	logger  *slog.Logger
}

var _ storage.Store = (*Backend)(nil)

// New creates a backend over layers, fastest first
func New(layers []storage.Store, opts ...Option) (*Backend, error) {
	if len(layers) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "MultilayerBackend", "New", "layer list")
	}

	b := &Backend{
		layers: make([]storage.Store, len(layers)),
		names:  make([]string, len(layers)),
		logger: slog.Default().With("component", "multilayer-storage"),
	}
	for i, layer := range layers {
		if layer == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("layer %d is nil", i),
				"MultilayerBackend", "New", "layer validation")
		}
		b.layers[i] = layer
		b.names[i] = storage.LayerName(layer, fmt.Sprintf("layer%d", i))
	}
	for _, opt := range opts {
		opt(b)
	}

	b.logger.Debug("Multilayer storage assembled", "layers", b.names)
	return b, nil
}

// Layers returns the layer names in lookup order
func (b *Backend) Layers() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Get returns the value from the first layer holding key
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	var lastErr error
	for i, layer := range b.layers {
		value, err := layer.Get(ctx, key)
		switch {
		case err == nil:
			b.record(i, "get", "hit")
			b.fill(ctx, i, key, value)
			return value, nil
		case errors.Is(err, errors.ErrKeyNotFound):
			b.record(i, "get", "miss")
		default:
			b.record(i, "get", "error")
			b.logger.Warn("Storage layer read failed",
				"layer", b.names[i], "key", key, "error", err)
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, errors.WrapTransient(ctx.Err(), "MultilayerBackend", "Get", "context check")
		}
	}

	if lastErr != nil {
		return nil, errors.Wrap(lastErr, "MultilayerBackend", "Get", "read from all layers")
	}
	return nil, errors.Wrap(fmt.Errorf("%w: %s", errors.ErrKeyNotFound, key),
		"MultilayerBackend", "Get", "lookup")
}

// Put writes value to every layer, Layer 0 first
func (b *Backend) Put(ctx context.Context, key string, value []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	for i, layer := range b.layers {
		if err := layer.Put(ctx, key, value); err != nil {
			b.record(i, "put", "error")
			return errors.Wrap(err, "MultilayerBackend", "Put",
				fmt.Sprintf("write to layer %s", b.names[i]))
		}
		b.record(i, "put", "ok")
	}
	return nil
}

// fill copies a value found at layer hit into all layers before it. Fill
// failures are logged only; the read already succeeded.
func (b *Backend) fill(ctx context.Context, hit int, key string, value []byte) {
	for i := 0; i < hit; i++ {
		if err := b.layers[i].Put(ctx, key, value); err != nil {
			b.record(i, "fill", "error")
			b.logger.Warn("Storage layer fill failed",
				"layer", b.names[i], "key", key, "error", err)
			continue
		}
		b.record(i, "fill", "ok")
	}
}

func (b *Backend) record(layer int, op, result string) {
	if b.metrics != nil {
		b.metrics.RecordStorageOp(b.names[layer], op, result)
	}
}
