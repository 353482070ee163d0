package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelWarn, Output: &buf})
	ctx := context.Background()

	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, nil, "warn message")
	logger.Error(ctx, errors.New("boom"), "error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
	assert.Contains(t, out, "boom")
}

func TestLoggerJSONFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	logger.WithComponent("watcher").With("cycle", "abc").Info(context.Background(), "rebuilding", "paths", 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rebuilding", entry["msg"])
	assert.Equal(t, "watcher", entry["component"])
	assert.Equal(t, "abc", entry["cycle"])
	assert.Equal(t, float64(3), entry["paths"])
}

func TestWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(&LoggerConfig{Level: LevelInfo, Output: &buf})
	_ = parent.With("child", true)

	parent.Info(context.Background(), "parent")
	assert.NotContains(t, buf.String(), "child")
}

func TestMultiLogger(t *testing.T) {
	var a, b bytes.Buffer
	multi := NewMultiLogger(
		NewLogger(&LoggerConfig{Level: LevelInfo, Output: &a}),
		NewLogger(&LoggerConfig{Level: LevelInfo, Output: &b}),
	)

	multi.WithComponent("build").Info(context.Background(), "cycle complete")

	assert.Contains(t, a.String(), "cycle complete")
	assert.Contains(t, b.String(), "component=build")
}

func TestNewFileLogger(t *testing.T) {
	t.Run("valid directory", func(t *testing.T) {
		tmpDir := t.TempDir()

		fileLogger, err := NewFileLogger(DefaultConfig(), tmpDir)
		require.NoError(t, err)

		fileLogger.Info(context.Background(), "written to file")
		require.NoError(t, fileLogger.Close())

		data, err := os.ReadFile(fileLogger.Path())
		require.NoError(t, err)
		assert.Contains(t, string(data), "written to file")
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := NewFileLogger(DefaultConfig(), "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "cannot be empty")
	})
}

func TestPerfLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelInfo, Output: &buf})

	op := StartOperation(logger, "build")
	op.End(context.Background(), "artifacts", 2)
	assert.True(t, strings.Contains(buf.String(), "operation=build"))
	assert.Contains(t, buf.String(), "duration_ms=")

	buf.Reset()
	StartOperation(logger, "build").EndWithError(context.Background(), errors.New("failed"))
	assert.Contains(t, buf.String(), "Operation failed")
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Error(context.Background(), errors.New("ignored"), "nothing happens")
}
