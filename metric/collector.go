package metric

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360/runtimeworker/errors"
)

// Collector modes
const (
	ModePush = "push"
	ModePull = "pull"
	ModeNone = "none"
)

// CollectorConfig selects how the registry leaves the process
type CollectorConfig struct {
	Mode string

	Push PusherConfig

	PullAddress string
	PullPath    string
}

// DefaultCollectorConfig returns push mode against the local gateway
func DefaultCollectorConfig(instance string) CollectorConfig {
	return CollectorConfig{
		Mode: ModePush,
		Push: PusherConfig{
			Address:  DefaultPushAddress,
			Job:      DefaultPushJob,
			Instance: instance,
			Interval: DefaultPushInterval,
		},
		PullAddress: ":9090",
		PullPath:    "/metrics",
	}
}

// Task is a named long-running function owned by the collector
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Collector is the process metric collector: one registry plus whatever
// exporter the mode selects.
type Collector struct {
	Registry *MetricsRegistry
	Pusher   *Pusher // set in push mode
	Server   *Server // set in pull mode
	mode     string
}

// NewCollector builds the registry and the exporter for cfg.Mode
func NewCollector(cfg CollectorConfig, logger *slog.Logger, opts ...PusherOption) (*Collector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{
		Registry: NewMetricsRegistry(),
		mode:     cfg.Mode,
	}

	switch cfg.Mode {
	case ModePush, "":
		c.mode = ModePush
		pusherOpts := append([]PusherOption{WithPushLogger(logger.With("component", "metrics-pusher"))}, opts...)
		pusher, err := NewPusher(c.Registry, cfg.Push, pusherOpts...)
		if err != nil {
			return nil, err
		}
		c.Pusher = pusher
	case ModePull:
		c.Server = NewServer(cfg.PullAddress, cfg.PullPath, c.Registry, logger)
	case ModeNone:
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown metrics mode %q", cfg.Mode),
			"Collector", "NewCollector", "mode validation")
	}

	return c, nil
}

// Mode returns the effective exporter mode
func (c *Collector) Mode() string {
	return c.mode
}

// ServeHealth exposes h as /health next to the metrics endpoint. A no-op
// outside pull mode.
func (c *Collector) ServeHealth(h http.Handler) {
	if c.Server != nil {
		c.Server.SetHealthHandler(h)
	}
}

// Tasks returns the background tasks the collector needs running
func (c *Collector) Tasks() []Task {
	var tasks []Task
	if c.Pusher != nil {
		tasks = append(tasks, Task{Name: "metrics-pusher", Run: c.Pusher.Run})
	}
	if c.Server != nil {
		tasks = append(tasks, Task{Name: "metrics-server", Run: c.Server.Run})
	}
	return tasks
}

// Flush performs one final push in push mode. Used at teardown so the last
// state transitions reach the gateway.
func (c *Collector) Flush(ctx context.Context, timeout time.Duration) error {
	if c.Pusher == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Pusher.PushMetrics(ctx)
}
