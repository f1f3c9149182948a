package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{
		Level:       slog.LevelDebug,
		Format:      TEXT,
		Output:      &buf,
		DefaultTags: map[string]interface{}{"test": true},
	})

	logger.Debug("This is a debug message")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "This is a debug message")
	assert.Contains(t, buf.String(), "test=true")

	buf.Reset()
	logger.With("customField", "value").Error("This is an error")
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "customField=value")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{
		Level:  slog.LevelInfo,
		Format: JSON,
		Output: &buf,
	})
	logger.Info("JSON message", "tool", "read_sync_state")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "JSON message", record["msg"])
	assert.Equal(t, "read_sync_state", record["tool"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: slog.LevelWarn, Output: &buf})
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.True(t, strings.Contains(buf.String(), "shown"))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, JSON, ParseFormat("json"))
	assert.Equal(t, JSON, ParseFormat(" JSON "))
	assert.Equal(t, TEXT, ParseFormat("text"))
	assert.Equal(t, TEXT, ParseFormat(""))
}
