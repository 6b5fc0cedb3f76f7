package blockcache

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with cache-specific context.
// Operation helpers log successes at debug level and failures at error or
// warn level, always with the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger writing JSON to stderr from level up.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger writing text to stderr from level up.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithTier adds a tier field to the logger (e.g. "main", "sub").
func (l *Logger) WithTier(tier string) *Logger {
	return &Logger{Logger: l.Logger.With("tier", tier)}
}

// WithBacking adds a backing field to the logger.
func (l *Logger) WithBacking(backing string) *Logger {
	return &Logger{Logger: l.Logger.With("backing", backing)}
}

// outcome logs op for key. Attributes are only built when the level is
// enabled, since puts and evictions log on every call.
func (l *Logger) outcome(ctx context.Context, op string, failLevel slog.Level, key any, err error, attrs ...slog.Attr) {
	level, msg := slog.LevelDebug, op+" completed"
	if err != nil {
		level, msg = failLevel, op+" failed"
	}
	if !l.Enabled(ctx, level) {
		return
	}

	attrs = append(attrs, slog.Any("key", key))
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	l.LogAttrs(ctx, level, msg, attrs...)
}

// LogPut logs a put of size encoded bytes.
func (l *Logger) LogPut(ctx context.Context, key any, size int, err error) {
	l.outcome(ctx, "put", slog.LevelError, key, err, slog.Int("size", size))
}

// LogBatchPut logs a batch put.
func (l *Logger) LogBatchPut(ctx context.Context, count, failed int) {
	if failed == 0 {
		l.DebugContext(ctx, "batch put completed", "count", count)
		return
	}
	l.WarnContext(ctx, "batch put completed with failures",
		"total", count,
		"failed", failed,
		"success", count-failed,
	)
}

// LogRemove logs a remove.
func (l *Logger) LogRemove(ctx context.Context, key any, err error) {
	l.outcome(ctx, "remove", slog.LevelError, key, err)
}

// LogEviction logs an eviction offer and whether it was vetoed.
func (l *Logger) LogEviction(ctx context.Context, key any, vetoed bool) {
	l.outcome(ctx, "eviction", slog.LevelDebug, key, nil, slog.Bool("vetoed", vetoed))
}

// LogDemotion logs the move of an entry into the sub tier.
func (l *Logger) LogDemotion(ctx context.Context, key any, err error) {
	l.outcome(ctx, "demotion", slog.LevelWarn, key, err)
}

// LogPromotion logs the move of an entry back into the main tier.
func (l *Logger) LogPromotion(ctx context.Context, key any, err error) {
	l.outcome(ctx, "promotion", slog.LevelWarn, key, err)
}
