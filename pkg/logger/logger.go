// Package logger configures structured logging for the Afritech Bridge
// progress engine. All components log through log/slog; this package only
// builds the root logger from configuration and offers small helpers for
// attaching common attribute groups.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls how the root logger is built.
type Options struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string

	// Format is "json" (production) or "text" (development).
	Format string

	// Output defaults to os.Stdout when nil.
	Output io.Writer

	// AddSource includes file:line of the call site.
	AddSource bool
}

// New builds a *slog.Logger from the options.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     parseLevel(opts.Level),
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	return slog.New(handler)
}

// WithSession returns a logger with session identity attached, so every log
// line produced for one lesson view carries the same ids.
func WithSession(log *slog.Logger, sessionID, lessonID string) *slog.Logger {
	return log.With("session_id", sessionID, "lesson_id", lessonID)
}

// parseLevel maps a config string to a slog.Level, defaulting to Info.
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
