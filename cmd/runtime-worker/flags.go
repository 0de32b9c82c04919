package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/c360/runtimeworker/componentregistry"
	"github.com/c360/runtimeworker/config"
	"github.com/c360/runtimeworker/tracing"
	"github.com/c360/runtimeworker/transport"
)

// envPrefix prefixes every environment variable fallback
const envPrefix = "RUNTIME_WORKER"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	RuntimePath string
	HostSocket  string
	CacheDir    string
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	Dial        transport.DialConfig
	Tracing     tracing.Config
	ShowVersion bool
}

// parseFlags resolves the command line in order of increasing precedence:
// flag defaults, the --config file, RUNTIME_WORKER_* environment
// variables and finally flags given explicitly. Component flags are
// contributed by the registry and land in its registrations directly.
func parseFlags(args []string, registry *componentregistry.Registry, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{
		Dial:    transport.DefaultDialConfig(),
		Tracing: tracing.DefaultConfig(),
	}

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.HostSocket, "host-socket", "",
		"Path to the host's unix socket (env: RUNTIME_WORKER_HOST_SOCKET)")
	fs.StringVar(&cfg.CacheDir, "cache-dir", "",
		"Directory for the local storage cache (env: RUNTIME_WORKER_CACHE_DIR)")
	fs.StringVar(&cfg.ConfigPath, "config", "",
		"Optional json, yaml or toml settings file (env: RUNTIME_WORKER_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error (env: RUNTIME_WORKER_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "json",
		"Log format: json, text (env: RUNTIME_WORKER_LOG_FORMAT)")
	fs.IntVar(&cfg.Dial.Attempts, "connect-attempts", cfg.Dial.Attempts,
		"Connection attempts to the host socket")
	config.DurationVar(fs, &cfg.Dial.Backoff, "connect-backoff", cfg.Dial.Backoff,
		"Delay before the second connection attempt, doubled per attempt")
	config.DurationVar(fs, &cfg.Dial.Timeout, "connect-timeout", cfg.Dial.Timeout,
		"Bound on each connection attempt")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	cfg.Tracing.RegisterFlags(fs)
	registry.RegisterFlags(fs)

	fs.Usage = func() { printDetailedHelp(fs, stderr) }

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}

	explicit := config.Explicit(fs)

	if cfg.ConfigPath == "" {
		cfg.ConfigPath = os.Getenv(config.EnvName(envPrefix, "config"))
	}
	if cfg.ConfigPath != "" {
		if err := applyConfigFile(fs, cfg.ConfigPath, explicit); err != nil {
			return nil, err
		}
	}

	if _, err := config.ApplyEnv(fs, envPrefix, explicit); err != nil {
		return nil, err
	}

	switch len(positional) {
	case 0:
		return nil, fmt.Errorf("missing RUNTIME argument")
	case 1:
		cfg.RuntimePath = positional[0]
	default:
		return nil, fmt.Errorf("unexpected arguments after RUNTIME: %v", positional[1:])
	}

	return cfg, nil
}

// parseInterspersed lets flags follow the positional argument, which the
// flag package alone stops at.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		if args[0] == "--" {
			return append(positional, args[1:]...), nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func applyConfigFile(fs *flag.FlagSet, path string, explicit map[string]bool) error {
	loader := config.NewLoader()
	loader.AddLayer(path)

	raw, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if err := config.ApplyValues(fs, config.Flatten(raw), explicit); err != nil {
		return fmt.Errorf("apply config %s: %w", path, err)
	}
	return nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	if cfg.HostSocket == "" {
		return fmt.Errorf("--host-socket is required")
	}
	if cfg.CacheDir == "" {
		return fmt.Errorf("--cache-dir is required")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.Dial.Attempts < 1 {
		return fmt.Errorf("invalid connect attempts: %d", cfg.Dial.Attempts)
	}
	if cfg.Dial.Backoff < 0 || cfg.Dial.Timeout < 0 {
		return fmt.Errorf("connect backoff and timeout cannot be negative")
	}

	return cfg.Tracing.Validate()
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - runtime worker process

Usage: %s [options] RUNTIME

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Every option can also be set through RUNTIME_WORKER_<NAME>, with the flag
name upper-cased and dashes replaced by underscores. A --config file holds
the same settings, grouped in sections:

  [prometheus]
  mode = "push"
  push_interval = "5s"

Examples:
  # Serve a runtime for the host listening on /run/host.sock
  %s --host-socket=/run/host.sock --cache-dir=/var/cache/worker runtime.bin

  # Debug logging and traces on stdout
  %s --log-level=debug --log-format=text --tracing-enabled \
     --host-socket=/run/host.sock --cache-dir=/tmp/w runtime.bin

Version: %s
Build: %s
`, appName, appName, Version, BuildTime)
}

