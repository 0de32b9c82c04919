package multilayer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/metric"
	"github.com/c360/runtimeworker/storage"
	"github.com/c360/runtimeworker/storage/persistent"
)

// memStore is an in-memory layer that counts calls
type memStore struct {
	name string

	mu     sync.Mutex
	data   map[string][]byte
	gets   int
	puts   int
	getErr error
	putErr error
}

func newMemStore(name string) *memStore {
	return &memStore{name: name, data: make(map[string][]byte)}
}

func (m *memStore) Name() string { return m.name }

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrKeyNotFound, key)
	}
	return v, nil
}

func (m *memStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.data[key] = value
	return nil
}

func (m *memStore) counts() (gets, puts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets, m.puts
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = New([]storage.Store{newMemStore("a"), nil})
	require.Error(t, err)
}

func TestBackend_ReadAfterWriteServedByLayerZero(t *testing.T) {
	local := newMemStore("local")
	remote := newMemStore("remote")
	b, err := New([]storage.Store{local, remote}, quiet())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		value := []byte(fmt.Sprintf("value-%d", i))
		key := storage.ContentKey(value)
		require.NoError(t, b.Put(ctx, key, value))

		got, err := b.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, got)
	}

	gets, puts := remote.counts()
	assert.Equal(t, 0, gets, "remote layer must not be read after a write")
	assert.Equal(t, 20, puts, "writes go through to the remote layer")
}

func TestBackend_MissFallsThroughAndFills(t *testing.T) {
	local := newMemStore("local")
	remote := newMemStore("remote")
	remote.data["k"] = []byte("from-remote")

	registry := metric.NewMetricsRegistry()
	b, err := New([]storage.Store{local, remote}, quiet(), WithMetrics(registry.CoreMetrics()))
	require.NoError(t, err)
	ctx := context.Background()

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-remote"), got)
	assert.Equal(t, []byte("from-remote"), local.data["k"])

	// Second read stays local
	_, err = b.Get(ctx, "k")
	require.NoError(t, err)
	remoteGets, _ := remote.counts()
	assert.Equal(t, 1, remoteGets)

	m := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOps.WithLabelValues("local", "get", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOps.WithLabelValues("local", "get", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOps.WithLabelValues("remote", "get", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageOps.WithLabelValues("local", "fill", "ok")))
}

func TestBackend_NotFoundEverywhere(t *testing.T) {
	b, err := New([]storage.Store{newMemStore("local"), newMemStore("remote")}, quiet())
	require.NoError(t, err)

	_, err = b.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestBackend_LayerErrorFallsThrough(t *testing.T) {
	local := newMemStore("local")
	local.getErr = errors.New("disk hiccup")
	remote := newMemStore("remote")
	remote.data["k"] = []byte("v")

	b, err := New([]storage.Store{local, remote}, quiet())
	require.NoError(t, err)

	got, err := b.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestBackend_ErrorReportedWhenNoLayerHits(t *testing.T) {
	local := newMemStore("local")
	local.getErr = errors.New("disk hiccup")

	b, err := New([]storage.Store{local, newMemStore("remote")}, quiet())
	require.NoError(t, err)

	_, err = b.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrKeyNotFound)
	assert.Contains(t, err.Error(), "disk hiccup")
}

func TestBackend_PutStopsAtFirstFailure(t *testing.T) {
	local := newMemStore("local")
	local.putErr = errors.New("disk full")
	remote := newMemStore("remote")

	b, err := New([]storage.Store{local, remote}, quiet())
	require.NoError(t, err)

	err = b.Put(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "layer local")

	_, puts := remote.counts()
	assert.Equal(t, 0, puts)
}

func TestBackend_InvalidKey(t *testing.T) {
	local := newMemStore("local")
	b, err := New([]storage.Store{local}, quiet())
	require.NoError(t, err)

	_, err = b.Get(context.Background(), "../x")
	assert.ErrorIs(t, err, errors.ErrInvalidKey)
	assert.ErrorIs(t, b.Put(context.Background(), "../x", nil), errors.ErrInvalidKey)

	gets, puts := local.counts()
	assert.Zero(t, gets)
	assert.Zero(t, puts)
}

func TestBackend_WithPersistentLayer(t *testing.T) {
	local, err := persistent.Open(filepath.Join(t.TempDir(), "storage"),
		persistent.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer local.Close()

	remote := newMemStore("remote")
	b, err := New([]storage.Store{local, remote}, quiet())
	require.NoError(t, err)
	assert.Equal(t, []string{"local", "remote"}, b.Layers())

	ctx := context.Background()
	value := []byte("artifact chunk")
	key := storage.ContentKey(value)
	require.NoError(t, b.Put(ctx, key, value))

	got, err := local.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}
