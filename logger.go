package sparkboard

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with sparkboard-specific context.
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

// WithScope adds the tenant scope field to the logger.
func (l *Logger) WithScope(scope string) *Logger {
	return &Logger{
		Logger: l.Logger.With("scope", scope),
	}
}

// WithKind adds an entity kind field to the logger.
func (l *Logger) WithKind(kind string) *Logger {
	return &Logger{
		Logger: l.Logger.With("kind", kind),
	}
}

// LogMutation logs a primary-store mutation.
func (l *Logger) LogMutation(ctx context.Context, op, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "mutation failed",
			"op", op,
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "mutation completed",
			"op", op,
			"id", id,
		)
	}
}

// LogUsage logs a usage-counter record.
func (l *Logger) LogUsage(ctx context.Context, prefix string, periodNum int64, counted bool) {
	l.DebugContext(ctx, "usage recorded",
		"prefix", prefix,
		"period_num", periodNum,
		"counted", counted,
	)
}

// LogExport logs a scope export.
func (l *Logger) LogExport(ctx context.Context, blob string, records int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "export failed",
			"blob", blob,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "export completed",
			"blob", blob,
			"records", records,
		)
	}
}

// LogDestroy logs an administrative delete-all-for-scope.
func (l *Logger) LogDestroy(ctx context.Context, scope string, deleted int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "scope destroy failed",
			"scope", scope,
			"deleted", deleted,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "scope destroyed",
			"scope", scope,
			"deleted", deleted,
		)
	}
}
