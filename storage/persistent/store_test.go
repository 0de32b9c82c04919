package persistent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/metric"
	"github.com/c360/runtimeworker/storage"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func openTemp(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "storage"), append([]Option{quiet()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "storage")

	s, err := Open(dir, quiet())
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "local", s.Name())
	assert.Equal(t, dir, s.Dir())

	// Write probe leaves nothing behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpen_Failures(t *testing.T) {
	t.Run("empty dir", func(t *testing.T) {
		_, err := Open("", quiet())
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("parent is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "not-a-dir")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

		_, err := Open(filepath.Join(file, "storage"), quiet())
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("read-only directory", func(t *testing.T) {
		if runtime.GOOS == "windows" || os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for this user")
		}
		dir := filepath.Join(t.TempDir(), "ro")
		require.NoError(t, os.Mkdir(dir, 0o555))

		_, err := Open(dir, quiet())
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})
}

func TestOpen_RemovesStaleTemps(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, tempPrefix+"123")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	s, err := Open(dir, quiet())
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_PutGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	value := []byte("runtime state")
	key := storage.ContentKey(value)

	require.NoError(t, s.Put(ctx, key, value))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	// Sharded file layout
	onDisk, err := os.ReadFile(filepath.Join(s.Dir(), key[:2], key))
	require.NoError(t, err)
	assert.Equal(t, value, onDisk)

	// Returned slices are copies
	got[0] = 'X'
	again, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, again)
}

func TestStore_Overwrite(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("one")))
	require.NoError(t, s.Put(ctx, "k1", []byte("two")))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestStore_GetMissing(t *testing.T) {
	s := openTemp(t)

	_, err := s.Get(context.Background(), "absent")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestStore_InvalidKeys(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "a/b", ".hidden"} {
		err := s.Put(ctx, key, []byte("x"))
		assert.ErrorIs(t, err, errors.ErrInvalidKey, "put %q", key)

		_, err = s.Get(ctx, key)
		assert.ErrorIs(t, err, errors.ErrInvalidKey, "get %q", key)
	}
}

func TestStore_ValueSizeLimit(t *testing.T) {
	s := openTemp(t, WithMaxValueSize(8))

	err := s.Put(context.Background(), "big", make([]byte, 9))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "storage")
	ctx := context.Background()

	first, err := Open(dir, quiet())
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "durable", []byte("value")))
	require.NoError(t, first.Close())

	second, err := Open(dir, quiet())
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

func TestStore_HotTier(t *testing.T) {
	s := openTemp(t, WithHotCache(2, 1024))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", []byte("1")))
	_, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.HotStats().Hits())

	// Values removed from disk are still served from memory
	require.NoError(t, os.Remove(s.path("a")))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

func TestStore_HotTierDisabled(t *testing.T) {
	s := openTemp(t, WithHotCache(0, 0))
	assert.Nil(t, s.HotStats())

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", []byte("1")))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

func TestStore_HotTierMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s := openTemp(t, WithMetrics(registry))

	require.NoError(t, s.Put(context.Background(), "a", []byte("1")))

	families, err := registry.Gatherer().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "runtime_worker_cache_size" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStore_CancelledContext(t *testing.T) {
	s := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Put(ctx, "k", []byte("v")))
	_, err := s.Get(ctx, "k")
	assert.Error(t, err)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			value := []byte(fmt.Sprintf("value-%d", n))
			assert.NoError(t, s.Put(ctx, "shared", value))
			assert.NoError(t, s.Put(ctx, storage.ContentKey(value), value))
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Contains(t, string(got), "value-")

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), tempPrefix)
	}
}
