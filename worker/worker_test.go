package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/runtimeworker/environment"
	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/identity"
	"github.com/c360/runtimeworker/metric"
	"github.com/c360/runtimeworker/pkg/retry"
	"github.com/c360/runtimeworker/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	calls    atomic.Int32
	failures int32
}

func (p *fakeProvider) Attest(_ context.Context, report identity.Report) (*identity.Identity, error) {
	n := p.calls.Add(1)
	if n <= p.failures {
		return nil, errors.WrapTransient(errors.ErrConnectionTimeout, "fake", "Attest", "attest")
	}
	return &identity.Identity{
		RuntimeDigest: report.RuntimeDigest,
		Evidence:      []byte("quote:" + report.Nonce),
		IssuedAt:      time.Now().UTC(),
	}, nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	return v, nil
}

func (m *memStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func writeRuntime(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtime.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func startWorker(t *testing.T, cfg Config, provider identity.Provider, store storage.Store, opts ...Option) (*Worker, *environment.Environment) {
	t.Helper()
	env := environment.New(context.Background(), environment.WithLogger(quietLogger()))
	t.Cleanup(func() { _ = env.Shutdown() })

	opts = append([]Option{WithLogger(quietLogger()), WithAttestRetry(retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	})}, opts...)
	w, err := New(cfg, provider, store, opts...)
	require.NoError(t, err)
	require.NoError(t, w.Start(env))

	select {
	case <-w.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("worker never became ready")
	}
	return w, env
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, &fakeProvider{}, newMemStore())
	assert.True(t, errors.IsInvalid(err))

	_, err = New(Config{RuntimePath: "x"}, nil, newMemStore())
	assert.True(t, errors.IsInvalid(err))

	w, err := New(Config{RuntimePath: "x"}, &fakeProvider{}, newMemStore())
	require.NoError(t, err)
	_, err = w.Runtime()
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestWorker_RuntimeInfo(t *testing.T) {
	path := writeRuntime(t, "runtime-bytes")
	provider := &fakeProvider{}
	w, env := startWorker(t, Config{RuntimePath: path}, provider, newMemStore())

	status, ok := env.Health().Get("worker")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())

	out, err := w.Handle(context.Background(), MethodRuntimeInfo, nil)
	require.NoError(t, err)

	var info RuntimeInfo
	require.NoError(t, json.Unmarshal(out, &info))
	assert.Equal(t, path, info.Path)
	assert.Equal(t, storage.ContentKey([]byte("runtime-bytes")), info.Digest)
	assert.Equal(t, int64(len("runtime-bytes")), info.Size)
	assert.False(t, info.AttestedAt.IsZero())
	assert.Equal(t, int32(1), provider.calls.Load())

	rt, err := w.Runtime()
	require.NoError(t, err)
	assert.Equal(t, info.Digest, rt.Identity.RuntimeDigest)
}

func TestWorker_StorageInsertAndGet(t *testing.T) {
	store := newMemStore()
	registry := metric.NewMetricsRegistry()
	w, _ := startWorker(t, Config{RuntimePath: writeRuntime(t, "rt")}, &fakeProvider{}, store,
		WithMetrics(registry.CoreMetrics()))
	ctx := context.Background()

	body, _ := json.Marshal(InsertRequest{Value: []byte("hello")})
	out, err := w.Handle(ctx, MethodStorageInsert, body)
	require.NoError(t, err)

	var inserted InsertResponse
	require.NoError(t, json.Unmarshal(out, &inserted))
	assert.Equal(t, storage.ContentKey([]byte("hello")), inserted.Key)
	assert.Contains(t, store.data, inserted.Key)

	body, _ = json.Marshal(GetRequest{Key: inserted.Key})
	out, err = w.Handle(ctx, MethodStorageGet, body)
	require.NoError(t, err)

	var got GetResponse
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, []byte("hello"), got.Value)

	body, _ = json.Marshal(GetRequest{Key: "absent"})
	_, err = w.Handle(ctx, MethodStorageGet, body)
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	core := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(core.WorkerCalls.WithLabelValues(MethodStorageInsert, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.WorkerCalls.WithLabelValues(MethodStorageGet, "error")))
}

func TestWorker_BadRequests(t *testing.T) {
	w, _ := startWorker(t, Config{RuntimePath: writeRuntime(t, "rt")}, &fakeProvider{}, newMemStore())

	_, err := w.Handle(context.Background(), "runtime.explode", nil)
	assert.ErrorIs(t, err, errors.ErrUnknownMethod)
	assert.True(t, errors.IsInvalid(err))

	_, err = w.Handle(context.Background(), MethodStorageInsert, []byte("{"))
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestWorker_MissingRuntime(t *testing.T) {
	provider := &fakeProvider{}
	dir := t.TempDir()
	w, env := startWorker(t, Config{RuntimePath: filepath.Join(dir, "absent")}, provider, newMemStore())

	_, err := w.Runtime()
	assert.ErrorIs(t, err, errors.ErrRuntimeNotFound)

	status, _ := env.Health().Get("worker")
	assert.True(t, status.IsUnhealthy())
	assert.NotContains(t, status.Message, dir)
	assert.True(t, errors.IsFatal(err))

	_, err = w.Handle(context.Background(), MethodRuntimeInfo, nil)
	assert.ErrorIs(t, err, errors.ErrRuntimeNotFound)
	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestWorker_AttestRetriesTransientFailures(t *testing.T) {
	provider := &fakeProvider{failures: 2}
	w, _ := startWorker(t, Config{RuntimePath: writeRuntime(t, "rt")}, provider, newMemStore())

	_, err := w.Runtime()
	require.NoError(t, err)
	assert.Equal(t, int32(3), provider.calls.Load())
}

func TestWorker_AttestFailure(t *testing.T) {
	provider := &fakeProvider{failures: 100}
	w, _ := startWorker(t, Config{RuntimePath: writeRuntime(t, "rt")}, provider, newMemStore())

	_, err := w.Runtime()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, int32(3), provider.calls.Load())
}

func TestWorker_SavedIdentity(t *testing.T) {
	runtimePath := writeRuntime(t, "rt")
	idPath := filepath.Join(t.TempDir(), "identity.json")

	first := &fakeProvider{}
	startWorker(t, Config{RuntimePath: runtimePath, SavedIdentityPath: idPath}, first, newMemStore())
	assert.Equal(t, int32(1), first.calls.Load())
	require.FileExists(t, idPath)

	second := &fakeProvider{}
	w, _ := startWorker(t, Config{RuntimePath: runtimePath, SavedIdentityPath: idPath}, second, newMemStore())
	assert.Equal(t, int32(0), second.calls.Load())

	rt, err := w.Runtime()
	require.NoError(t, err)
	saved, err := identity.Load(idPath)
	require.NoError(t, err)
	assert.Equal(t, saved.Evidence, rt.Identity.Evidence)
}

func TestWorker_SavedIdentityForOtherRuntime(t *testing.T) {
	idPath := filepath.Join(t.TempDir(), "identity.json")
	startWorker(t, Config{RuntimePath: writeRuntime(t, "old"), SavedIdentityPath: idPath}, &fakeProvider{}, newMemStore())

	provider := &fakeProvider{}
	startWorker(t, Config{RuntimePath: writeRuntime(t, "new"), SavedIdentityPath: idPath}, provider, newMemStore())
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestWorker_CustomEngine(t *testing.T) {
	engine := EngineFunc(func(_ context.Context, rt *Runtime, method string, body []byte) ([]byte, error) {
		return []byte(method + "@" + rt.Digest[:8]), nil
	})
	w, _ := startWorker(t, Config{RuntimePath: writeRuntime(t, "rt")}, &fakeProvider{}, newMemStore(), WithEngine(engine))

	out, err := w.Handle(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, "anything@"+storage.ContentKey([]byte("rt"))[:8], string(out))
}

func TestWorker_CallsAreSequential(t *testing.T) {
	var active, maxActive atomic.Int32
	engine := EngineFunc(func(context.Context, *Runtime, string, []byte) ([]byte, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	})
	w, _ := startWorker(t, Config{RuntimePath: writeRuntime(t, "rt")}, &fakeProvider{}, newMemStore(), WithEngine(engine))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Handle(context.Background(), "m", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestWorker_HandleAfterShutdown(t *testing.T) {
	w, env := startWorker(t, Config{RuntimePath: writeRuntime(t, "rt")}, &fakeProvider{}, newMemStore())
	require.NoError(t, env.Shutdown())

	_, err := w.Handle(context.Background(), MethodRuntimeInfo, nil)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}
