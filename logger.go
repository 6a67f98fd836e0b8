package baggo

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/baggo/ingest"
	"github.com/hupe1980/baggo/model"
)

// Logger wraps slog.Logger with baggo-specific context.
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

// WithBag adds a bag ID field to the logger.
func (l *Logger) WithBag(id model.BagID) *Logger {
	return &Logger{
		Logger: l.Logger.With("bag_id", id.String()),
	}
}

// WithSession adds a session ID field to the logger.
func (l *Logger) WithSession(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("session_id", id),
	}
}

// WithPath adds a file path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogIngest logs an ingestion run.
func (l *Logger) LogIngest(ctx context.Context, root string, summary *ingest.Summary, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ingest failed",
			"root", root,
			"error", err,
		)
		return
	}
	if summary.Failed > 0 {
		l.WarnContext(ctx, "ingest completed with failures",
			"root", root,
			"ingested", summary.Ingested,
			"unchanged", summary.Unchanged,
			"skipped", summary.SkippedUnsupported,
			"failed", summary.Failed,
			"duration", duration,
		)
	} else {
		l.InfoContext(ctx, "ingest completed",
			"root", root,
			"ingested", summary.Ingested,
			"unchanged", summary.Unchanged,
			"skipped", summary.SkippedUnsupported,
			"duration", duration,
		)
	}
}

// LogDelete logs a catalog delete.
func (l *Logger) LogDelete(ctx context.Context, id model.BagID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"bag_id", id.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"bag_id", id.String(),
		)
	}
}

// LogReplayStart logs the launch of a replay session.
func (l *Logger) LogReplayStart(ctx context.Context, id model.BagID, topics []string, speedFactor float64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "replay start failed",
			"bag_id", id.String(),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "replay started",
			"bag_id", id.String(),
			"topics", topics,
			"speed_factor", speedFactor,
		)
	}
}
