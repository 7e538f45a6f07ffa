package starrocks

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with scan-specific helpers so call sites log
// consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. If handler is nil, a
// text handler to stderr at info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))}
}

// LogSegmentOpen logs a segment open.
func (l *Logger) LogSegmentOpen(ctx context.Context, name string, rows uint32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "segment open failed",
			"segment", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "segment opened",
			"segment", name,
			"rows", rows,
		)
	}
}

// LogScanStart logs the outcome of predicate compilation for a scan.
func (l *Logger) LogScanStart(ctx context.Context, segments, filters, keyRanges, residual int) {
	l.DebugContext(ctx, "scan compiled",
		"segments", segments,
		"filters", filters,
		"key_ranges", keyRanges,
		"residual_conjuncts", residual,
	)
}

// LogScanSkip logs a segment skipped by proven-no-match pruning.
func (l *Logger) LogScanSkip(ctx context.Context, name string) {
	l.DebugContext(ctx, "segment skipped",
		"segment", name,
	)
}
