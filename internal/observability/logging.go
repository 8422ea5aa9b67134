// Package observability provides structured logging and Prometheus
// metrics for the chat client.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text". JSON is
	// recommended for production, text for development.
	Format string

	// Output is the writer for log output (defaults to os.Stderr).
	Output io.Writer
}

// NewLogger creates a slog.Logger from the given configuration.
func NewLogger(config LogConfig) *slog.Logger {
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(config.Level)}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}

// NopLogger returns a logger that discards everything, for tests and
// callers that opt out.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
