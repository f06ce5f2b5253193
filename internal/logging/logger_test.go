package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNew_EnvOverridesConfig(t *testing.T) {
	t.Setenv(LevelEnv, "error")

	var buf bytes.Buffer
	logger := New(&buf, "debug")
	logger.Warn("hidden")
	logger.Error("shown", "component", "indexer")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "component=indexer")
	assert.NotContains(t, out, "time=")
}

func TestShortPath(t *testing.T) {
	assert.Equal(t, "internal/harness/context.go", shortPath("/home/ci/src/rindexer-e2e/internal/harness/context.go"))
	assert.Equal(t, "main.go", shortPath("/elsewhere/main.go"))
}
