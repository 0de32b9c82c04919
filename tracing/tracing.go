// Package tracing sets up OpenTelemetry tracing for the worker process and
// the background task that reports finished spans.
package tracing

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/c360/runtimeworker/config"
	"github.com/c360/runtimeworker/errors"
)

// OutputStdout writes spans to standard output
const OutputStdout = "stdout"

// Config controls span collection
type Config struct {
	Enabled       bool
	Output        string
	SampleRatio   float64
	FlushInterval time.Duration
}

// DefaultConfig returns tracing disabled, sampling everything once enabled
func DefaultConfig() Config {
	return Config{
		Output:        OutputStdout,
		SampleRatio:   1.0,
		FlushInterval: 10 * time.Second,
	}
}

// RegisterFlags adds the --tracing-* flags to fs
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.Enabled, "tracing-enabled", c.Enabled, "Record trace spans")
	fs.StringVar(&c.Output, "tracing-output", c.Output, "Span output: stdout or a file path")
	fs.Float64Var(&c.SampleRatio, "tracing-sample-ratio", c.SampleRatio, "Fraction of traces to sample (0..1)")
	config.DurationVar(fs, &c.FlushInterval, "tracing-flush-interval", c.FlushInterval, "How often finished spans are reported")
}

// Validate checks the configuration
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Output == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: tracing output", errors.ErrMissingConfig), "tracing", "Validate", "output")
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return errors.WrapInvalid(fmt.Errorf("%w: sample ratio %v not in [0,1]", errors.ErrInvalidConfig, c.SampleRatio),
			"tracing", "Validate", "sample ratio")
	}
	if c.FlushInterval <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: flush interval must be positive", errors.ErrInvalidConfig),
			"tracing", "Validate", "flush interval")
	}
	return nil
}

// Reporter owns the tracer provider. A disabled reporter hands out no-op
// tracers and its ReportForever returns as soon as the context ends.
type Reporter struct {
	cfg      Config
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	output   io.Closer
	logger   *slog.Logger
}

// New creates a reporter for service
func New(service string, cfg Config, logger *slog.Logger) (*Reporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Reporter{cfg: cfg, logger: logger.With("component", "tracing")}
	if !cfg.Enabled {
		r.tracer = noop.NewTracerProvider().Tracer(service)
		return r, nil
	}

	var w io.Writer = os.Stdout
	if cfg.Output != OutputStdout {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.WrapFatal(err, "tracing", "New", "open "+cfg.Output)
		}
		w = f
		r.output = f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		r.closeOutput()
		return nil, errors.WrapFatal(err, "tracing", "New", "create exporter")
	}

	res := resource.NewSchemaless(attribute.String("service.name", service))
	r.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.FlushInterval)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	r.tracer = r.provider.Tracer(service)
	return r, nil
}

// Enabled reports whether spans are recorded
func (r *Reporter) Enabled() bool {
	return r.provider != nil
}

// Tracer returns the process tracer
func (r *Reporter) Tracer() trace.Tracer {
	return r.tracer
}

// Start begins a span
func (r *Reporter) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// ReportForever flushes finished spans every FlushInterval until ctx ends,
// then flushes once more and shuts the provider down.
func (r *Reporter) ReportForever(ctx context.Context) error {
	if r.provider == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.Close()
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(ctx, r.cfg.FlushInterval)
			if err := r.provider.ForceFlush(flushCtx); err != nil && ctx.Err() == nil {
				r.logger.Warn("Span flush failed", "error", err)
			}
			cancel()
		}
	}
}

// Close flushes and stops the provider. Safe to call more than once.
func (r *Reporter) Close() error {
	if r.provider == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.provider.Shutdown(ctx)
	r.closeOutput()
	if err != nil {
		return errors.WrapTransient(err, "tracing", "Close", "shut down provider")
	}
	return nil
}

func (r *Reporter) closeOutput() {
	if r.output != nil {
		_ = r.output.Close()
		r.output = nil
	}
}
