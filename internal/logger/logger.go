// Package logger builds the structured slog loggers used by the synk service.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFormat defines how log records are rendered
type LogFormat int

// Log format constants
const (
	TEXT LogFormat = iota
	JSON
)

// Config holds configuration options for the logger
type Config struct {
	Level       slog.Level
	Format      LogFormat
	Output      io.Writer
	DefaultTags map[string]interface{}
}

// DefaultConfig returns a default logger configuration. Output goes to stderr
// so that stdout stays free for the stdio protocol stream.
func DefaultConfig() *Config {
	return &Config{
		Level:       slog.LevelInfo,
		Format:      TEXT,
		Output:      os.Stderr,
		DefaultTags: map[string]interface{}{"service": "synk"},
	}
}

// New creates a new logger with the given configuration
func New(config *Config) *slog.Logger {
	if config == nil {
		config = DefaultConfig()
	}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: config.Level}

	var handler slog.Handler
	if config.Format == JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	if len(config.DefaultTags) > 0 {
		args := make([]any, 0, len(config.DefaultTags)*2)
		for k, v := range config.DefaultTags {
			args = append(args, k, v)
		}
		logger = logger.With(args...)
	}
	return logger
}

// ParseLevel converts a string level to a slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat converts "json" to JSON and anything else to TEXT.
func ParseFormat(format string) LogFormat {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return JSON
	}
	return TEXT
}

// Setup builds a logger from level and format strings and installs it as the
// slog default.
func Setup(level, format string, out io.Writer) *slog.Logger {
	config := DefaultConfig()
	config.Level = ParseLevel(level)
	config.Format = ParseFormat(format)
	if out != nil {
		config.Output = out
	}

	logger := New(config)
	slog.SetDefault(logger)
	return logger
}
