package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/runtimeworker/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "worker.json", `{"cache-dir": "/var/cache/rw", "prometheus": {"push-interval": "10s", "mode": "push"}}`},
		{"yaml", "worker.yaml", "cache-dir: /var/cache/rw\nprometheus:\n  push-interval: 10s\n  mode: push\n"},
		{"yml", "worker.yml", "cache-dir: /var/cache/rw\nprometheus:\n  push-interval: 10s\n  mode: push\n"},
		{"toml", "worker.toml", "cache-dir = \"/var/cache/rw\"\n[prometheus]\npush-interval = \"10s\"\nmode = \"push\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := LoadFile(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)

			flat := Flatten(raw)
			assert.Equal(t, map[string]string{
				"cache-dir":                "/var/cache/rw",
				"prometheus-push-interval": "10s",
				"prometheus-mode":          "push",
			}, flat)
		})
	}
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(writeFile(t, "worker.ini", "a=b"))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = LoadFile(writeFile(t, "broken.json", `{"a": `))
	assert.True(t, errors.IsInvalid(err))

	deep := strings.Repeat("[", MaxNesting+1) + strings.Repeat("]", MaxNesting+1)
	_, err = LoadFile(writeFile(t, "deep.json", `{"a": `+deep+`}`))
	assert.Error(t, err)

	_, err = LoadFile(t.TempDir() + "/")
	assert.Error(t, err)
}

func TestLoader_LayersOverride(t *testing.T) {
	loader := NewLoader()
	loader.AddLayer(writeFile(t, "base.yaml", "prometheus:\n  mode: push\n  push-job-name: base\nlog-level: info\n"))
	loader.AddLayer(writeFile(t, "override.json", `{"prometheus": {"push-job-name": "override"}}`))

	raw, err := loader.Load()
	require.NoError(t, err)

	flat := Flatten(raw)
	assert.Equal(t, "push", flat["prometheus-mode"])
	assert.Equal(t, "override", flat["prometheus-push-job-name"])
	assert.Equal(t, "info", flat["log-level"])
}

func TestFlatten(t *testing.T) {
	flat := Flatten(map[string]any{
		"tracing": map[string]any{
			"sample_ratio": 0.5,
			"enabled":      true,
		},
		"tags":  []any{"a", "b"},
		"empty": nil,
	})
	assert.Equal(t, map[string]string{
		"tracing-sample-ratio": "0.5",
		"tracing-enabled":      "true",
		"tags":                 "a,b",
	}, flat)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"5s", 5 * time.Second},
		{"1m30s", 90 * time.Second},
		{"2d", 48 * time.Hour},
		{"5000000000", 5 * time.Second},
		{" 10ms ", 10 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "soon", "xd"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func newFlagSet() (*flag.FlagSet, *string, *time.Duration) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	level := fs.String("log-level", "info", "")
	var interval time.Duration
	DurationVar(fs, &interval, "prometheus-push-interval", 5*time.Second, "")
	return fs, level, &interval
}

func TestDurationVar(t *testing.T) {
	fs, _, interval := newFlagSet()
	assert.Equal(t, 5*time.Second, *interval)
	assert.Equal(t, "5s", fs.Lookup("prometheus-push-interval").DefValue)

	require.NoError(t, fs.Parse([]string{"--prometheus-push-interval", "250ms"}))
	assert.Equal(t, 250*time.Millisecond, *interval)

	assert.Error(t, fs.Parse([]string{"--prometheus-push-interval", "often"}))
}

func TestApplyValues_Precedence(t *testing.T) {
	fs, level, interval := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--log-level", "debug"}))

	err := ApplyValues(fs, map[string]string{
		"log-level":                "warn",
		"prometheus-push-interval": "10s",
	}, Explicit(fs))
	require.NoError(t, err)

	assert.Equal(t, "debug", *level, "command line wins over file")
	assert.Equal(t, 10*time.Second, *interval)
}

func TestApplyValues_UnknownKey(t *testing.T) {
	fs, _, _ := newFlagSet()
	err := ApplyValues(fs, map[string]string{"log-levle": "warn"}, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestApplyValues_BadValue(t *testing.T) {
	fs, _, _ := newFlagSet()
	err := ApplyValues(fs, map[string]string{"prometheus-push-interval": "often"}, nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RW_TEST_LOG_LEVEL", "error")
	t.Setenv("RW_TEST_PROMETHEUS_PUSH_INTERVAL", "1s")

	fs, level, interval := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--prometheus-push-interval", "3s"}))

	applied, err := ApplyEnv(fs, "RW_TEST", Explicit(fs))
	require.NoError(t, err)
	assert.Equal(t, []string{"log-level"}, applied)
	assert.Equal(t, "error", *level)
	assert.Equal(t, 3*time.Second, *interval)
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("RW_TEST_PROMETHEUS_PUSH_INTERVAL", "often")
	fs, _, _ := newFlagSet()

	_, err := ApplyEnv(fs, "RW_TEST", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "RUNTIME_WORKER_HOST_SOCKET", EnvName("RUNTIME_WORKER", "host-socket"))
	assert.Equal(t, "CACHE_DIR", EnvName("", "cache-dir"))
}

func TestApplyEnv_ControlCharacter(t *testing.T) {
	t.Setenv("RW_TEST_LOG_LEVEL", "info\x1b[2J")
	fs, _, _ := newFlagSet()

	_, err := ApplyEnv(fs, "RW_TEST", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.ErrorContains(t, err, "control character")
}

func TestLoadFile_TooLarge(t *testing.T) {
	big := `{"pad": "` + strings.Repeat("x", MaxFileSize) + `"}`
	_, err := LoadFile(writeFile(t, "big.json", big))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.ErrorContains(t, err, "limit")
}
