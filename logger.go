package simigo

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/simigo/store"
)

// Logger wraps slog.Logger with simigo-specific context.
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
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// LogFind logs a find operation.
func (l *Logger) LogFind(ctx context.Context, url string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "find failed",
			"url", url,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "find completed",
			"url", url,
			"results", results,
		)
	}
}

// LogSave logs a save operation.
func (l *Logger) LogSave(ctx context.Context, requestID, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "save failed",
			"request_id", requestID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "save completed",
			"request_id", requestID,
			"image", name,
		)
	}
}

// LogSweep logs an expiry sweep cycle.
func (l *Logger) LogSweep(ctx context.Context, removed, pending int) {
	if removed > 0 {
		l.InfoContext(ctx, "sweep completed",
			"removed", removed,
			"pending", pending,
		)
	} else {
		l.DebugContext(ctx, "sweep completed",
			"removed", removed,
			"pending", pending,
		)
	}
}

// LogRefresh logs a store refresh cycle.
func (l *Logger) LogRefresh(ctx context.Context, stats store.RefreshStats, generation uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "refresh failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "refresh completed",
			"generation", generation,
			"scanned", stats.Scanned,
			"extracted", stats.Extracted,
			"cache_hits", stats.CacheHits,
			"failed", stats.Failed,
			"removed", stats.Removed,
		)
	}
}
