// Package logging builds the structured loggers used across helpmetest.
// Everything is written as JSON to stderr or a log file; stdout is reserved for
// the MCP stdio transport.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Logger is a structured logger for helpmetest components
type Logger struct {
	*slog.Logger
}

// Options configures where and how much is logged.
type Options struct {
	Level  slog.Level
	Output io.Writer
}

// NewLogger creates a new structured logger
func NewLogger(component string, opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: opts.Level,
	})

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "helpmetest"),
	)

	return &Logger{Logger: logger}
}

// Discard returns a logger that drops everything; handy for tests and for
// components constructed without a logger.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil || l.Logger == nil {
		return Discard()
	}
	return l
}

// WithComponent returns a logger for a sub-component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", component))}
}

// WithSession returns a logger with session-specific fields
func (l *Logger) WithSession(token string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("session", token),
		),
	}
}

// WithRoom returns a logger with UI room fields
func (l *Logger) WithRoom(room string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("room", room),
		),
	}
}

// CommandStarted logs the start of an interactive command
func (l *Logger) CommandStarted(ctx context.Context, messageID, command string) {
	l.DebugContext(ctx, "interactive command started",
		slog.String("message_id", messageID),
		slog.String("command", command),
	)
}

// CommandFinished logs the outcome of an interactive command
func (l *Logger) CommandFinished(ctx context.Context, messageID string, success bool, events int) {
	l.InfoContext(ctx, "interactive command finished",
		slog.String("message_id", messageID),
		slog.Bool("success", success),
		slog.Int("events", events),
	)
}

// DeliveryFailed logs a failed best-effort UI delivery
func (l *Logger) DeliveryFailed(ctx context.Context, room, messageID string, err error) {
	l.WarnContext(ctx, "ui notification delivery failed",
		slog.String("room", room),
		slog.String("message_id", messageID),
		slog.String("error", err.Error()),
	)
}

// ParseLevel maps a level name to a slog level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// OpenLogFile opens (creating parents) an append-only log file.
func OpenLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
