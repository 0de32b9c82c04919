// Package worker runs the computation engine for one runtime artifact.
//
// A Worker loads the artifact named by Config.RuntimePath on its engine
// goroutine, obtains an attested identity for it and then serves calls
// routed from the host one at a time.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/c360/runtimeworker/environment"
	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/health"
	"github.com/c360/runtimeworker/identity"
	"github.com/c360/runtimeworker/metric"
	"github.com/c360/runtimeworker/pkg/retry"
	"github.com/c360/runtimeworker/storage"
)

// Config names the runtime artifact and where its identity is kept
type Config struct {
	RuntimePath string
	// SavedIdentityPath, when set, caches the attested identity across runs.
	SavedIdentityPath string
}

// Option configures a Worker
type Option func(*Worker)

// WithLogger sets the worker logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics records engine calls
func WithMetrics(m *metric.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithEngine replaces the built-in engine
func WithEngine(e Engine) Option {
	return func(w *Worker) {
		if e != nil {
			w.engine = e
		}
	}
}

// WithAttestRetry sets the retry policy for attestation
func WithAttestRetry(cfg retry.Config) Option {
	return func(w *Worker) {
		w.attestRetry = cfg
	}
}

type call struct {
	ctx    context.Context
	method string
	body   []byte
	reply  chan result
}

type result struct {
	body []byte
	err  error
}

// Worker implements the protocol Handler interface
type Worker struct {
	cfg         Config
	provider    identity.Provider
	store       storage.Store
	engine      Engine
	logger      *slog.Logger
	metrics     *metric.Metrics
	attestRetry retry.Config
	health      *health.Monitor

	calls   chan call
	ready   chan struct{}
	stopped chan struct{}
	runtime *Runtime
	loadErr error
}

// New creates a worker. The engine does not run until Start.
func New(cfg Config, provider identity.Provider, store storage.Store, opts ...Option) (*Worker, error) {
	if cfg.RuntimePath == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Worker", "New", "runtime path")
	}
	if provider == nil || store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Worker", "New", "collaborator validation")
	}

	w := &Worker{
		cfg:         cfg,
		provider:    provider,
		store:       store,
		engine:      BuiltinEngine{},
		logger:      slog.Default().With("component", "worker"),
		attestRetry: retry.Quick(),
		calls:       make(chan call),
		ready:       make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start runs the engine goroutine as an environment task
func (w *Worker) Start(env *environment.Environment) error {
	w.health = env.Health()
	w.health.UpdateDegraded("worker", "loading runtime")
	return env.Spawn("worker-engine", w.run)
}

// Ready is closed once loading has finished, successfully or not
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Runtime returns the loaded runtime, or the load error. Only valid after
// Ready is closed.
func (w *Worker) Runtime() (*Runtime, error) {
	select {
	case <-w.ready:
		return w.runtime, w.loadErr
	default:
		return nil, errors.WrapTransient(errors.ErrNotStarted, "Worker", "Runtime", "runtime not loaded")
	}
}

func (w *Worker) run(ctx context.Context) error {
	defer close(w.stopped)

	w.runtime, w.loadErr = w.load(ctx)
	w.health.UpdateError("worker", w.loadErr)
	close(w.ready)
	if w.loadErr != nil {
		w.logger.Error("Runtime load failed", "path", w.cfg.RuntimePath, "error", w.loadErr)
	} else {
		w.logger.Info("Runtime loaded",
			"path", w.runtime.Path,
			"digest", w.runtime.Digest,
			"size", w.runtime.Size)
	}

	for {
		select {
		case <-ctx.Done():
			return w.loadErr
		case c := <-w.calls:
			c.reply <- w.serve(c)
		}
	}
}

func (w *Worker) serve(c call) result {
	if w.loadErr != nil {
		return result{err: w.loadErr}
	}

	start := time.Now()
	body, err := w.engine.Call(c.ctx, w.runtime, c.method, c.body)
	if w.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		w.metrics.RecordWorkerCall(c.method, status, time.Since(start))
	}
	return result{body: body, err: err}
}

// Handle queues a call for the engine goroutine and waits for its result
func (w *Worker) Handle(ctx context.Context, method string, body []byte) ([]byte, error) {
	c := call{ctx: ctx, method: method, body: body, reply: make(chan result, 1)}

	select {
	case w.calls <- c:
	case <-w.stopped:
		return nil, errors.WrapTransient(errors.ErrShuttingDown, "Worker", "Handle", "submit "+method)
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Worker", "Handle", "submit "+method)
	}

	select {
	case r := <-c.reply:
		return r.body, r.err
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Worker", "Handle", "await "+method)
	}
}

func (w *Worker) load(ctx context.Context) (*Runtime, error) {
	data, err := os.ReadFile(w.cfg.RuntimePath)
	if err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("%w: %s", errors.ErrRuntimeNotFound, w.cfg.RuntimePath)
		}
		return nil, errors.WrapFatal(err, "Worker", "load", "read runtime")
	}

	rt := &Runtime{
		Path:   w.cfg.RuntimePath,
		Digest: storage.ContentKey(data),
		Size:   int64(len(data)),
		Store:  w.store,
	}

	id, err := w.obtainIdentity(ctx, rt.Digest)
	if err != nil {
		return nil, err
	}
	rt.Identity = id
	return rt, nil
}

func (w *Worker) obtainIdentity(ctx context.Context, digest string) (*identity.Identity, error) {
	if path := w.cfg.SavedIdentityPath; path != "" {
		saved, err := identity.Load(path)
		switch {
		case err == nil && saved.Validate(digest) == nil:
			w.logger.Debug("Using saved identity", "path", path)
			return saved, nil
		case err == nil:
			w.logger.Warn("Saved identity does not match runtime, attesting again", "path", path)
		case !errors.Is(err, errors.ErrKeyNotFound):
			w.logger.Warn("Saved identity unreadable, attesting again", "path", path, "error", err)
		}
	}

	report := identity.Report{RuntimeDigest: digest, Nonce: uuid.NewString()}
	id, err := retry.DoWithResult(ctx, w.attestRetry, func() (*identity.Identity, error) {
		id, err := w.provider.Attest(ctx, report)
		if err != nil && !errors.IsTransient(err) {
			return nil, retry.NonRetryable(err)
		}
		return id, err
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "Worker", "load", "attest runtime")
	}
	if err := id.Validate(digest); err != nil {
		return nil, errors.WrapFatal(err, "Worker", "load", "validate identity")
	}

	if path := w.cfg.SavedIdentityPath; path != "" {
		if err := identity.Save(path, id); err != nil {
			w.logger.Warn("Failed to save identity", "path", path, "error", err)
		}
	}
	return id, nil
}
