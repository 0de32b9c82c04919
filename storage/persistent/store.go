// Package persistent implements the worker's local storage layer: a
// content store on the filesystem fronted by an in-memory LRU.
package persistent

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/metric"
	"github.com/c360/runtimeworker/pkg/cache"
	"github.com/c360/runtimeworker/storage"
)

const (
	tempPrefix  = ".tmp-"
	probePrefix = ".probe-"

	// DefaultHotEntries bounds the number of values kept in memory.
	DefaultHotEntries = 1024
	// DefaultHotBytes bounds the summed size of values kept in memory.
	DefaultHotBytes = 32 << 20
	// DefaultMaxValueSize is the largest value Put accepts.
	DefaultMaxValueSize = 64 << 20
)

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics exports hot-tier cache metrics through registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Store) {
		s.registry = registry
	}
}

// WithHotCache sizes the in-memory tier. entries <= 0 disables it.
func WithHotCache(entries int, maxBytes int64) Option {
	return func(s *Store) {
		s.hotEntries = entries
		s.hotBytes = maxBytes
	}
}

// WithMaxValueSize bounds the size of a single value
func WithMaxValueSize(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxValueSize = n
		}
	}
}

// Store keeps each value in its own file at <dir>/<key[0:2]>/<key>. Writes
// go to a temporary file that is synced and renamed into place, so a
// reader never observes a partial value.
type Store struct {
	dir          string
	hot          cache.Cache[[]byte]
	hotEntries   int
	hotBytes     int64
	maxValueSize int64
	registry     *metric.MetricsRegistry
	logger       *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open creates dir if needed and verifies it is writable. Any failure is
// fatal: the worker must not run without its local layer.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "PersistentStore", "Open", "storage directory")
	}

	s := &Store{
		dir:          dir,
		hotEntries:   DefaultHotEntries,
		hotBytes:     DefaultHotBytes,
		maxValueSize: DefaultMaxValueSize,
		logger:       slog.Default().With("component", "persistent-storage"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "PersistentStore", "Open", "create storage directory")
	}
	if err := probeWritable(dir); err != nil {
		return nil, errors.WrapFatal(err, "PersistentStore", "Open", "storage directory write probe")
	}
	s.removeStaleTemps()

	if s.hotEntries > 0 {
		hot, err := cache.NewLRU[[]byte](s.hotEntries,
			cache.WithWeigher[[]byte](func(v []byte) int64 { return int64(len(v)) }),
			cache.WithMaxWeight[[]byte](s.hotBytes),
			cache.WithMetrics[[]byte](s.registry, "storage_hot"))
		if err != nil {
			return nil, errors.WrapFatal(err, "PersistentStore", "Open", "create hot cache")
		}
		s.hot = hot
	}

	s.logger.Info("Persistent storage opened",
		"dir", dir,
		"hot_entries", s.hotEntries,
		"hot_bytes", s.hotBytes)

	return s, nil
}

// Name reports the layer name
func (s *Store) Name() string {
	return "local"
}

// Dir returns the storage directory
func (s *Store) Dir() string {
	return s.dir
}

// Get returns the value for key from memory or disk
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "PersistentStore", "Get", "context check")
	}

	if s.hot != nil {
		if v, ok := s.hot.Get(key); ok {
			return clone(v), nil
		}
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(fmt.Errorf("%w: %s", errors.ErrKeyNotFound, key),
				"PersistentStore", "Get", "lookup")
		}
		return nil, errors.WrapTransient(err, "PersistentStore", "Get", "read value file")
	}

	s.remember(key, data)
	return clone(data), nil
}

// Put durably stores value under key
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if int64(len(value)) > s.maxValueSize {
		return errors.WrapInvalid(
			fmt.Errorf("value size %d exceeds limit %d", len(value), s.maxValueSize),
			"PersistentStore", "Put", "size check")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "PersistentStore", "Put", "context check")
	}

	if err := s.writeFile(key, value); err != nil {
		return errors.WrapTransient(err, "PersistentStore", "Put", "write value file")
	}

	s.remember(key, clone(value))
	return nil
}

// Close releases the hot tier
func (s *Store) Close() error {
	if s.hot != nil {
		return s.hot.Close()
	}
	return nil
}

// HotStats returns hot-tier statistics, or nil when the tier is disabled
func (s *Store) HotStats() *cache.Statistics {
	if s.hot == nil {
		return nil
	}
	return s.hot.Stats()
}

func (s *Store) path(key string) string {
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(s.dir, shard, key)
}

func (s *Store) writeFile(key string, value []byte) error {
	final := s.path(key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, final); err != nil {
		return err
	}
	committed = true

	return syncDir(filepath.Dir(final))
}

func (s *Store) remember(key string, value []byte) {
	if s.hot == nil {
		return
	}
	if _, err := s.hot.Set(key, value); err != nil {
		s.logger.Debug("Value not cached in memory", "key", key, "size", len(value), "error", err)
	}
}

func (s *Store) removeStaleTemps() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Type()&fs.ModeType != 0 || !strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			s.logger.Debug("Removed stale temporary file", "name", e.Name())
		}
	}
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, probePrefix+"*")
	if err != nil {
		return err
	}
	name := f.Name()
	defer os.Remove(name)

	if _, err := f.Write([]byte("ok")); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
