package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := setupLogger(tt.level, "json", &bytes.Buffer{})
			assert.True(t, logger.Enabled(context.Background(), tt.want))
			assert.False(t, logger.Enabled(context.Background(), tt.want-1))
		})
	}
}

func TestSetupLogger_Formats(t *testing.T) {
	var jsonOut, textOut bytes.Buffer

	setupLogger("info", "json", &jsonOut).Info("hello")
	setupLogger("info", "text", &textOut).Info("hello")

	assert.Contains(t, jsonOut.String(), `"msg":"hello"`)
	assert.Contains(t, jsonOut.String(), `"service":"runtime-worker"`)
	assert.Contains(t, textOut.String(), "msg=hello")
	assert.Contains(t, textOut.String(), "service=runtime-worker")
	assert.NotContains(t, textOut.String(), "source=")
}
