package annserve

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with annserve-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithIndex adds an index name field to the logger.
func (l *Logger) WithIndex(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", name),
	}
}

// WithK adds a k (neighbor count) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("k", k),
	}
}

// LogQuery logs a single-index query.
func (l *Logger) LogQuery(ctx context.Context, name, id string, k, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"index", name,
			"id", id,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"index", name,
			"id", id,
			"k", k,
			"results", results,
		)
	}
}

// LogCrossQuery logs a cross-index query.
func (l *Logger) LogCrossQuery(ctx context.Context, source, id, catalog string, k, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "cross query failed",
			"source_index", source,
			"id", id,
			"catalog_index", catalog,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "cross query completed",
			"source_index", source,
			"id", id,
			"catalog_index", catalog,
			"k", k,
			"results", results,
		)
	}
}

// LogRefresh logs an index refresh.
func (l *Logger) LogRefresh(ctx context.Context, name string, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "refresh failed",
			"index", name,
			"elapsed", elapsed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "refresh completed",
			"index", name,
			"elapsed", elapsed,
		)
	}
}
