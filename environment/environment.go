package environment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/health"
	"github.com/c360/runtimeworker/metric"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for tasks.
const DefaultShutdownTimeout = 5 * time.Second

// Signal is anything that can be awaited
type Signal interface {
	Done() <-chan struct{}
}

// Option configures an Environment
type Option func(*Environment)

// WithLogger sets the environment logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Environment) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithShutdownTimeout sets how long Shutdown waits for background tasks
func WithShutdownTimeout(d time.Duration) Option {
	return func(e *Environment) {
		if d > 0 {
			e.shutdownTimeout = d
		}
	}
}

// Environment owns every background task of the process. Tasks receive
// the environment context and must return once it is cancelled. A failing
// task is logged and does not cancel its siblings.
type Environment struct {
	ctx             context.Context
	cancel          context.CancelFunc
	group           errgroup.Group
	logger          *slog.Logger
	shutdownTimeout time.Duration
	health          *health.Monitor

	mu        sync.Mutex
	closed    bool
	tasks     map[string]int
	collector *metric.Collector
}

// New creates an environment whose context derives from parent
func New(parent context.Context, opts ...Option) *Environment {
	ctx, cancel := context.WithCancel(parent)
	e := &Environment{
		ctx:             ctx,
		cancel:          cancel,
		logger:          slog.Default().With("component", "environment"),
		shutdownTimeout: DefaultShutdownTimeout,
		health:          health.NewMonitor("runtime-worker"),
		tasks:           make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Context returns the environment context. It is cancelled by Shutdown.
func (e *Environment) Context() context.Context {
	return e.ctx
}

// Spawn runs fn as a background task. Returns ErrShuttingDown once
// Shutdown has started.
func (e *Environment) Spawn(name string, fn func(ctx context.Context) error) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Environment", "Spawn",
			fmt.Sprintf("start task %s", name))
	}
	e.tasks[name]++
	// Registered under mu so Shutdown never waits on a group still growing
	e.group.Go(func() error {
		defer e.taskDone(name)

		err := e.runTask(name, fn)
		if err != nil && e.ctx.Err() == nil {
			e.logger.Error("Task failed", "task", name, "error", err)
		}
		return err
	})
	e.mu.Unlock()

	e.logger.Debug("Task started", "task", name)
	return nil
}

func (e *Environment) runTask(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapFatal(fmt.Errorf("panic: %v", r), "Environment", "Spawn",
				fmt.Sprintf("run task %s", name))
		}
	}()
	return fn(e.ctx)
}

func (e *Environment) taskDone(name string) {
	e.mu.Lock()
	e.tasks[name]--
	if e.tasks[name] <= 0 {
		delete(e.tasks, name)
	}
	e.mu.Unlock()
	e.logger.Debug("Task finished", "task", name)
}

// Running returns the names of tasks that have not returned yet
func (e *Environment) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.tasks))
	for name := range e.tasks {
		names = append(names, name)
	}
	return names
}

// BlockOn runs fn with the environment context and blocks the caller until
// it returns. If the environment shuts down first, BlockOn returns
// ErrShuttingDown without waiting for fn.
func BlockOn[T any](e *Environment, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		v, err := fn(e.ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-e.ctx.Done():
		var zero T
		return zero, errors.WrapTransient(errors.ErrShuttingDown, "Environment", "BlockOn", "wait for result")
	}
}

// Await blocks until s resolves or the environment shuts down
func (e *Environment) Await(s Signal) error {
	select {
	case <-s.Done():
		return nil
	case <-e.ctx.Done():
		return errors.WrapTransient(errors.ErrShuttingDown, "Environment", "Await", "wait for signal")
	}
}

// InstallCollector makes c the process metric collector and starts its
// exporter tasks. Only one collector may ever be installed.
func (e *Environment) InstallCollector(c *metric.Collector) error {
	if c == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Environment", "InstallCollector", "collector validation")
	}

	e.mu.Lock()
	if e.collector != nil {
		e.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyInstalled, "Environment", "InstallCollector", "install collector")
	}
	e.collector = c
	e.mu.Unlock()

	c.ServeHealth(e.health.Handler())

	for _, task := range c.Tasks() {
		if err := e.Spawn(task.Name, task.Run); err != nil {
			return err
		}
	}

	e.logger.Info("Metric collector installed", "mode", c.Mode())
	return nil
}

// Health returns the process health monitor
func (e *Environment) Health() *health.Monitor {
	return e.health
}

// Collector returns the installed collector, or nil
func (e *Environment) Collector() *metric.Collector {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collector
}

// Metrics returns the core metrics of the installed collector, or nil
func (e *Environment) Metrics() *metric.Metrics {
	if c := e.Collector(); c != nil {
		return c.Registry.CoreMetrics()
	}
	return nil
}

// Registry returns the installed metric registry, or nil
func (e *Environment) Registry() *metric.MetricsRegistry {
	if c := e.Collector(); c != nil {
		return c.Registry
	}
	return nil
}

// Shutdown cancels the environment context and waits for all tasks, up to
// the configured timeout. Tasks still running after the timeout are
// abandoned. Safe to call more than once.
func (e *Environment) Shutdown() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.group.Wait()
	}()

	timer := time.NewTimer(e.shutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Debug("Background task ended with error", "error", err)
		}
		return nil
	case <-timer.C:
		running := e.Running()
		e.logger.Warn("Background tasks did not stop in time",
			"timeout", e.shutdownTimeout,
			"tasks", running)
		return errors.WrapTransient(
			fmt.Errorf("%d task(s) still running: %v", len(running), running),
			"Environment", "Shutdown", "wait for tasks")
	}
}
