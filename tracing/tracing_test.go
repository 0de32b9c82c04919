package tracing

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/c360/runtimeworker/errors"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_Flags(t *testing.T) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--tracing-enabled",
		"--tracing-output", "/tmp/spans.json",
		"--tracing-sample-ratio", "0.25",
		"--tracing-flush-interval", "2s",
	}))

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "/tmp/spans.json", cfg.Output)
	assert.Equal(t, 0.25, cfg.SampleRatio)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Enabled = true
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.SampleRatio = 2
	assert.True(t, errors.IsInvalid(bad.Validate()))

	bad = cfg
	bad.FlushInterval = 0
	assert.True(t, errors.IsInvalid(bad.Validate()))

	bad = cfg
	bad.Output = ""
	assert.ErrorIs(t, bad.Validate(), errors.ErrMissingConfig)
}

func TestReporter_Disabled(t *testing.T) {
	r, err := New("runtime-worker", DefaultConfig(), quietLogger())
	require.NoError(t, err)
	assert.False(t, r.Enabled())

	_, span := r.Start(context.Background(), "startup")
	span.End()
	assert.False(t, span.SpanContext().IsValid())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, r.ReportForever(ctx))
	assert.NoError(t, r.Close())
}

func TestReporter_WritesSpansToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "spans.json")
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Output = out
	cfg.FlushInterval = 10 * time.Millisecond

	r, err := New("runtime-worker", cfg, quietLogger())
	require.NoError(t, err)
	assert.True(t, r.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.ReportForever(ctx) }()

	_, span := r.Start(context.Background(), "connect-host", attribute.String("socket", "/run/host.sock"))
	span.End()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && len(data) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "connect-host")
	assert.Contains(t, string(data), "runtime-worker")
}

func TestNew_UnwritableOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Output = filepath.Join(t.TempDir(), "missing", "spans.json")

	_, err := New("runtime-worker", cfg, quietLogger())
	assert.True(t, errors.IsFatal(err))
}
