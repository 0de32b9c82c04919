// Package main implements the runtime worker process. The host starts it
// with the path of a runtime artifact and a unix socket to connect back
// on; the worker serves the host's requests until told to shut down.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/runtimeworker/componentregistry"
	"github.com/c360/runtimeworker/lifecycle"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "runtime-worker"
)

// shutdownGrace bounds teardown after a termination signal
const shutdownGrace = 30 * time.Second

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Worker failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	registry := componentregistry.NewRegistry()
	if err := componentregistry.Register(registry); err != nil {
		return fmt.Errorf("register components: %w", err)
	}

	cliCfg, err := parseFlags(args, registry, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat, stdout)
	slog.SetDefault(logger)

	logger.Info("Starting runtime worker",
		"version", Version,
		"build_time", BuildTime,
		"runtime", cliCfg.RuntimePath,
		"host_socket", cliCfg.HostSocket)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	finished := make(chan struct{})
	defer close(finished)

	// Teardown after a signal is bounded
	go func() {
		select {
		case <-finished:
			return
		case <-signalCtx.Done():
		}
		select {
		case <-finished:
		case <-time.After(shutdownGrace):
			logger.Error("Shutdown grace period exceeded", "grace", shutdownGrace)
			os.Exit(1)
		}
	}()

	return lifecycle.Run(signalCtx, lifecycle.Options{
		RuntimePath: cliCfg.RuntimePath,
		HostSocket:  cliCfg.HostSocket,
		CacheDir:    cliCfg.CacheDir,
		Registry:    registry,
		Tracing:     cliCfg.Tracing,
		Dial:        cliCfg.Dial,
		ServiceName: appName,
		Logger:      logger,
	})
}
