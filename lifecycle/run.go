// Package lifecycle is the worker's composition root. Run assembles the
// components in a fixed order, serves the host until the shutdown signal
// resolves and then tears everything down.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/c360/runtimeworker/componentregistry"
	"github.com/c360/runtimeworker/environment"
	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/health"
	"github.com/c360/runtimeworker/metric"
	"github.com/c360/runtimeworker/protocol"
	"github.com/c360/runtimeworker/storage"
	"github.com/c360/runtimeworker/storage/multilayer"
	"github.com/c360/runtimeworker/storage/persistent"
	"github.com/c360/runtimeworker/tracing"
	"github.com/c360/runtimeworker/transport"
	"github.com/c360/runtimeworker/worker"
)

// StorageSubdir is the cache directory entry holding the persistent layer
const StorageSubdir = "storage"

const flushTimeout = 2 * time.Second

// Options is everything Run needs. Registry must already have its flags
// parsed.
type Options struct {
	RuntimePath string
	HostSocket  string
	CacheDir    string

	Registry *componentregistry.Registry
	Tracing  tracing.Config
	Dial     transport.DialConfig

	ServiceName string
	Logger      *slog.Logger

	// Observer, when set, is called on every state change
	Observer func(State)
}

func (o Options) validate() error {
	switch {
	case o.RuntimePath == "":
		return errors.WrapFatal(fmt.Errorf("%w: runtime path", errors.ErrMissingConfig), "lifecycle", "Run", "validate options")
	case o.HostSocket == "":
		return errors.WrapFatal(fmt.Errorf("%w: host socket", errors.ErrMissingConfig), "lifecycle", "Run", "validate options")
	case o.CacheDir == "":
		return errors.WrapFatal(fmt.Errorf("%w: cache dir", errors.ErrMissingConfig), "lifecycle", "Run", "validate options")
	case o.Registry == nil:
		return errors.WrapFatal(fmt.Errorf("%w: component registry", errors.ErrMissingConfig), "lifecycle", "Run", "validate options")
	}
	return nil
}

type tracker struct {
	mu       sync.Mutex
	state    State
	observer func(State)
	metrics  *metric.Metrics
	health   *health.Monitor
	logger   *slog.Logger
}

func (t *tracker) enter(s State) {
	t.mu.Lock()
	t.state = s
	m, h := t.metrics, t.health
	t.mu.Unlock()

	t.logger.Debug("Process state changed", "state", s.String())
	if m != nil {
		m.RecordProcessState(s.String(), AllStates())
	}
	if h != nil {
		reportState(h, s)
	}
	if t.observer != nil {
		t.observer(s)
	}
}

func (t *tracker) attach(m *metric.Metrics, h *health.Monitor) {
	t.mu.Lock()
	t.metrics = m
	t.health = h
	s := t.state
	t.mu.Unlock()
	if m != nil {
		m.RecordProcessState(s.String(), AllStates())
	}
	if h != nil {
		reportState(h, s)
	}
}

func reportState(h *health.Monitor, s State) {
	switch s {
	case Serving:
		h.UpdateHealthy("process", s.String())
	case ShuttingDown, Terminated:
		h.UpdateUnhealthy("process", s.String())
	default:
		h.UpdateDegraded("process", s.String())
	}
}

// Run starts the worker and blocks until the host shuts it down. Any startup
// failure is returned as a fatal error after teardown; a resolved shutdown
// signal returns nil.
func Run(ctx context.Context, opts Options) (err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "runtime-worker"
	}

	t := &tracker{observer: opts.Observer, logger: logger}
	t.enter(Configuring)

	var (
		env       *environment.Environment
		collector *metric.Collector
		proto     *protocol.Protocol
		local     *persistent.Store
	)
	defer func() {
		if err != nil {
			logger.Error("Worker startup failed", "error", err)
		}
		if proto != nil {
			_ = proto.Close()
		}
		if env != nil {
			if shutdownErr := env.Shutdown(); shutdownErr != nil {
				logger.Warn("Environment shutdown incomplete", "error", shutdownErr)
			}
		}
		if local != nil {
			_ = local.Close()
		}
		t.enter(Terminated)
		if collector != nil {
			if flushErr := collector.Flush(context.Background(), flushTimeout); flushErr != nil {
				logger.Debug("Final metrics push failed", "error", flushErr)
			}
		}
	}()

	if err := opts.validate(); err != nil {
		return err
	}

	// Components
	container, err := opts.Registry.Build(ctx, logger)
	if err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "build component container")
	}

	env, err = componentregistry.Inject[*environment.Environment](container)
	if err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "inject environment")
	}

	// Metrics
	owned, err := componentregistry.InjectOwned[*metric.Collector](container)
	if err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "inject metric collector")
	}
	if err := env.InstallCollector(owned); err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "install metric collector")
	}
	collector = owned
	t.attach(env.Metrics(), env.Health())

	// Tracing
	reporter, err := tracing.New(opts.ServiceName, opts.Tracing, logger)
	if err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "create tracing reporter")
	}
	if err := env.Spawn("tracing-reporter", reporter.ReportForever); err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "start tracing reporter")
	}

	startupCtx, startup := reporter.Start(env.Context(), "worker.startup",
		attribute.String("runtime", opts.RuntimePath))
	defer func() {
		if err != nil {
			startup.RecordError(err)
			startup.SetStatus(codes.Error, "startup failed")
			startup.End()
		}
	}()

	// Runtime artifact must exist before anything touches the host
	if _, statErr := os.Stat(opts.RuntimePath); statErr != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %s: %v", errors.ErrRuntimeNotFound, opts.RuntimePath, statErr),
			"lifecycle", "Run", "check runtime")
	}

	// Host connection
	t.enter(Connecting)
	ch, err := step(startupCtx, reporter, "connect", func(context.Context) (*transport.Channel, error) {
		return environment.BlockOn(env, func(ctx context.Context) (*transport.Channel, error) {
			return transport.Dial(ctx, opts.HostSocket, opts.Dial,
				transport.WithLogger(logger.With("component", "transport")),
				transport.WithMetrics(env.Metrics()))
		})
	})
	if err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "connect to host")
	}
	logger.Info("Connected to host", "socket", opts.HostSocket)

	// Composition
	t.enter(Composing)
	router := protocol.NewRouter()
	p, shutdown, err := protocol.New(env, ch, router,
		protocol.WithLogger(logger.With("component", "protocol")),
		protocol.WithMetrics(env.Registry()))
	if err != nil {
		_ = ch.Close()
		return errors.WrapFatal(err, "lifecycle", "Run", "create protocol")
	}
	proto = p

	local, err = step(startupCtx, reporter, "open-cache", func(context.Context) (*persistent.Store, error) {
		return persistent.Open(filepath.Join(opts.CacheDir, StorageSubdir),
			persistent.WithLogger(logger.With("component", "persistent-storage")),
			persistent.WithMetrics(env.Registry()))
	})
	if err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "open persistent storage")
	}

	backend, err := multilayer.New([]storage.Store{local, proto},
		multilayer.WithLogger(logger.With("component", "multilayer-storage")),
		multilayer.WithMetrics(env.Metrics()))
	if err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "compose storage")
	}

	w, err := worker.New(worker.Config{RuntimePath: opts.RuntimePath}, proto, backend,
		worker.WithLogger(logger.With("component", "worker")),
		worker.WithMetrics(env.Metrics()))
	if err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "create worker")
	}
	if err := w.Start(env); err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "start worker")
	}
	if err := router.Bind(w); err != nil {
		return errors.WrapFatal(err, "lifecycle", "Run", "bind worker")
	}

	startup.End()
	t.enter(Serving)
	logger.Info("Worker serving", "runtime", opts.RuntimePath, "cache_dir", opts.CacheDir)

	// The shutdown signal is the normal exit. Cancelling ctx ends the wait
	// the same way.
	if awaitErr := env.Await(shutdown); awaitErr != nil {
		logger.Info("Environment cancelled while serving", "error", awaitErr)
	}
	t.enter(ShuttingDown)
	logger.Info("Node has terminated, shutting down", "reason", shutdown.Reason().String())
	return nil
}

func step[T any](ctx context.Context, r *tracing.Reporter, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := r.Start(ctx, "worker."+name)
	defer span.End()

	v, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return v, err
}
