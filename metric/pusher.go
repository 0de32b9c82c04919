package metric

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/time/rate"

	"github.com/c360/runtimeworker/errors"
)

// Default push settings
const (
	DefaultPushAddress  = "127.0.0.1:9091"
	DefaultPushJob      = "runtime-worker"
	DefaultPushInterval = 5 * time.Second
)

// PusherConfig configures the periodic push to a Prometheus push gateway.
type PusherConfig struct {
	Address  string        // push gateway address, scheme optional
	Job      string        // job label
	Instance string        // instance grouping label
	Interval time.Duration // tick period

	// EscalateAfter is the number of consecutive failures after which the
	// failure streak is escalated (error log, escalated gauge, OnEscalate
	// hook). Zero disables escalation; failures are then only logged.
	EscalateAfter int
}

// Validate checks the pusher configuration
func (c PusherConfig) Validate() error {
	if c.Address == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Pusher", "Validate", "push gateway address")
	}
	if c.Job == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Pusher", "Validate", "job name")
	}
	if c.Instance == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Pusher", "Validate", "instance label")
	}
	if c.Interval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("interval must be positive, got %s", c.Interval),
			"Pusher", "Validate", "push interval")
	}
	if c.EscalateAfter < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("escalate_after cannot be negative, got %d", c.EscalateAfter),
			"Pusher", "Validate", "escalation threshold")
	}
	return nil
}

// EscalateFunc is called once per failure streak when the streak reaches
// the configured threshold.
type EscalateFunc func(consecutiveFailures int, lastErr error)

// PusherOption configures a Pusher
type PusherOption func(*Pusher)

// WithPushLogger sets the pusher logger
func WithPushLogger(logger *slog.Logger) PusherOption {
	return func(p *Pusher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPushClient sets the HTTP client used to reach the gateway
func WithPushClient(client push.HTTPDoer) PusherOption {
	return func(p *Pusher) {
		if client != nil {
			p.client = client
		}
	}
}

// OnEscalate sets the escalation hook
func OnEscalate(fn EscalateFunc) PusherOption {
	return func(p *Pusher) {
		p.onEscalate = fn
	}
}

// Pusher periodically ships a snapshot of the metric registry to a push
// gateway. Delivery failures never stop the loop: the next tick is the retry.
type Pusher struct {
	cfg        PusherConfig
	gatherer   prometheus.Gatherer
	metrics    *Metrics
	client     push.HTTPDoer
	logger     *slog.Logger
	onEscalate EscalateFunc

	failureLog rate.Sometimes
	ticks      atomic.Int64

	mu        sync.Mutex
	failures  int
	escalated bool
}

// NewPusher creates a pusher for the given registry
func NewPusher(registry *MetricsRegistry, cfg PusherConfig, opts ...PusherOption) (*Pusher, error) {
	if registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Pusher", "NewPusher", "metrics registry validation")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pusher{
		cfg:        cfg,
		gatherer:   registry.Gatherer(),
		metrics:    registry.CoreMetrics(),
		client:     &http.Client{Timeout: cfg.Interval},
		logger:     slog.Default().With("component", "metrics-pusher"),
		failureLog: rate.Sometimes{First: 3, Interval: time.Minute},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Run pushes metrics on every tick until ctx is cancelled. It only returns
// on cancellation.
func (p *Pusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("Starting metrics pusher",
		"address", p.cfg.Address,
		"job", p.cfg.Job,
		"instance", p.cfg.Instance,
		"interval", p.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Metrics pusher stopped", "ticks", p.ticks.Load())
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Pusher) tick(ctx context.Context) {
	p.ticks.Add(1)

	pushCtx, cancel := context.WithTimeout(ctx, p.cfg.Interval)
	defer cancel()

	p.observe(p.PushMetrics(pushCtx))
}

// PushMetrics gathers the registry, encodes it in the text exposition format
// and replaces the metric group for this job/instance on the gateway.
func (p *Pusher) PushMetrics(ctx context.Context) error {
	err := push.New(p.cfg.Address, p.cfg.Job).
		Gatherer(p.gatherer).
		Grouping("instance", p.cfg.Instance).
		Format(expfmt.NewFormat(expfmt.TypeTextPlain)).
		Client(p.client).
		PushContext(ctx)
	if err != nil {
		return errors.WrapTransient(err, "Pusher", "PushMetrics", "push to gateway")
	}
	return nil
}

func (p *Pusher) observe(err error) {
	p.mu.Lock()
	var (
		recovered bool
		escalate  bool
	)
	if err == nil {
		recovered = p.escalated
		p.failures = 0
		p.escalated = false
	} else {
		p.failures++
		if p.cfg.EscalateAfter > 0 && p.failures >= p.cfg.EscalateAfter && !p.escalated {
			p.escalated = true
			escalate = true
		}
	}
	failures, escalated := p.failures, p.escalated
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordPush(err == nil, failures, escalated)
	}

	switch {
	case err == nil && recovered:
		p.logger.Info("Metrics push recovered")
	case err != nil && escalate:
		p.logger.Error("Metrics push failing persistently",
			"consecutive_failures", failures,
			"error", err)
		if p.onEscalate != nil {
			p.onEscalate(failures, err)
		}
	case err != nil:
		p.failureLog.Do(func() {
			p.logger.Warn("Metrics push failed", "consecutive_failures", failures, "error", err)
		})
	}
}

// Ticks returns the number of ticks handled so far
func (p *Pusher) Ticks() int64 {
	return p.ticks.Load()
}

// ConsecutiveFailures returns the current failure streak length
func (p *Pusher) ConsecutiveFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Escalated reports whether the current failure streak has been escalated
func (p *Pusher) Escalated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.escalated
}
