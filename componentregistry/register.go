// Package componentregistry declares the components the worker process can
// build from command-line configuration and the container they are
// injected from.
package componentregistry

import (
	"errors"
	"flag"

	"github.com/google/uuid"

	"github.com/c360/runtimeworker/config"
	"github.com/c360/runtimeworker/environment"
	pkgerrors "github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/metric"
)

// Component names
const (
	EnvironmentComponent = "environment"
	PrometheusComponent  = "prometheus"
)

// Register registers the worker's components with the provided registry:
//   - environment (root context, task group, shutdown timeout)
//   - prometheus (metric registry and its push or pull exporter)
func Register(registry *Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	if err := registry.RegisterFactory(environmentRegistration()); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "environment component registration")
	}

	if err := registry.RegisterFactory(prometheusRegistration()); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "prometheus component registration")
	}

	return nil
}

func environmentRegistration() Registration {
	timeout := environment.DefaultShutdownTimeout

	return Registration{
		Name:        EnvironmentComponent,
		Description: "Process execution environment",
		Flags: func(fs *flag.FlagSet) {
			config.DurationVar(fs, &timeout, "env-shutdown-timeout", timeout,
				"How long shutdown waits for background tasks")
		},
		Factory: func(bc BuildContext) (any, error) {
			return environment.New(bc.Context,
				environment.WithLogger(bc.Logger),
				environment.WithShutdownTimeout(timeout)), nil
		},
	}
}

func prometheusRegistration() Registration {
	cfg := metric.DefaultCollectorConfig("worker-" + uuid.NewString())

	return Registration{
		Name:        PrometheusComponent,
		Description: "Prometheus metric collector",
		Flags: func(fs *flag.FlagSet) {
			fs.StringVar(&cfg.Mode, "prometheus-mode", cfg.Mode,
				"Metrics export mode: push, pull or none")
			fs.StringVar(&cfg.Push.Address, "prometheus-push-address", cfg.Push.Address,
				"Prometheus push gateway address")
			fs.StringVar(&cfg.Push.Job, "prometheus-push-job-name", cfg.Push.Job,
				"Job label for pushed metrics")
			fs.StringVar(&cfg.Push.Instance, "prometheus-push-instance-label", cfg.Push.Instance,
				"Instance label for pushed metrics")
			config.DurationVar(fs, &cfg.Push.Interval, "prometheus-push-interval", cfg.Push.Interval,
				"Period between metric pushes")
			fs.IntVar(&cfg.Push.EscalateAfter, "prometheus-push-escalate-after", cfg.Push.EscalateAfter,
				"Consecutive push failures before escalating (0 disables)")
			fs.StringVar(&cfg.PullAddress, "prometheus-pull-address", cfg.PullAddress,
				"Listen address for the metrics endpoint in pull mode")
			fs.StringVar(&cfg.PullPath, "prometheus-pull-path", cfg.PullPath,
				"HTTP path of the metrics endpoint in pull mode")
		},
		Factory: func(bc BuildContext) (any, error) {
			return metric.NewCollector(cfg, bc.Logger)
		},
	}
}
