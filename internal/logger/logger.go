// Package logger provides the process-wide structured logger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"ctrader_gateway/internal/trace"
)

var globalLogger *slog.Logger

// Config holds logging configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // json or text
}

// Init installs the global logger writing to stdout.
func Init(cfg Config) {
	InitWithWriter(cfg, os.Stdout)
}

// InitWithWriter installs the global logger writing to w.
func InitWithWriter(cfg Config, w io.Writer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}

// L returns the global logger, falling back to slog's default before Init.
func L() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// withTrace appends trace_id/span_id when ctx carries a recording span.
func withTrace(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	if traceID, spanID, ok := trace.Fields(ctx); ok {
		return append(args, "trace_id", traceID, "span_id", spanID)
	}
	return args
}

// Debug logs a debug message.
func Debug(ctx context.Context, msg string, args ...any) {
	L().DebugContext(ctx, msg, withTrace(ctx, args)...)
}

// Info logs an info message.
func Info(ctx context.Context, msg string, args ...any) {
	L().InfoContext(ctx, msg, withTrace(ctx, args)...)
}

// Warn logs a warning message.
func Warn(ctx context.Context, msg string, args ...any) {
	L().WarnContext(ctx, msg, withTrace(ctx, args)...)
}

// Error logs an error message.
func Error(ctx context.Context, msg string, args ...any) {
	L().ErrorContext(ctx, msg, withTrace(ctx, args)...)
}

// ErrorWithErr logs msg with err under the "error" key.
func ErrorWithErr(ctx context.Context, msg string, err error, args ...any) {
	Error(ctx, msg, append([]any{"error", err}, args...)...)
}

// Timer measures one operation and logs its duration when stopped.
type Timer struct {
	ctx   context.Context
	name  string
	start time.Time
}

// StartTimer begins timing the named operation.
func StartTimer(ctx context.Context, name string) *Timer {
	return &Timer{ctx: ctx, name: name, start: time.Now()}
}

// Stop logs the elapsed time at debug level, or at error level when err is set.
func (t *Timer) Stop(err error) {
	elapsed := time.Since(t.start)
	if err != nil {
		Error(t.ctx, "operation failed", "operation", t.name, "duration_ms", elapsed.Milliseconds(), "error", err)
		return
	}
	Debug(t.ctx, "operation completed", "operation", t.name, "duration_ms", elapsed.Milliseconds())
}
