package hybridsearch

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with hybridsearch-specific context helpers.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler falls
// back to a text handler on stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that emits JSON-formatted log lines.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NewTextLogger creates a Logger that emits human-readable text log lines.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NoopLogger returns a Logger that discards everything. Used as the default
// so HybridIndex never needs a nil check before logging.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(1000)})
	return &Logger{Logger: slog.New(handler)}
}

// LogAdd logs a single Add call.
func (l *Logger) LogAdd(ctx context.Context, docID uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed", "doc_id", docID, "error", err)
		return
	}
	l.DebugContext(ctx, "add buffered", "doc_id", docID)
}

// LogCommit logs a Commit call.
func (l *Logger) LogCommit(ctx context.Context, pending int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed", "pending", pending, "error", err)
		return
	}
	l.InfoContext(ctx, "commit completed", "pending", pending)
}

// LogDelete logs a Delete call.
func (l *Logger) LogDelete(ctx context.Context, docID uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed", "doc_id", docID, "error", err)
		return
	}
	l.DebugContext(ctx, "delete completed", "doc_id", docID)
}

// LogSearch logs a search call across any of the three search modalities.
func (l *Logger) LogSearch(ctx context.Context, kind string, k, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "kind", kind, "k", k, "error", err)
		return
	}
	l.DebugContext(ctx, "search completed", "kind", kind, "k", k, "results", found)
}

// LogCompact logs a Compact call.
func (l *Logger) LogCompact(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compact failed", "error", err)
		return
	}
	l.InfoContext(ctx, "compact completed")
}
