// Package telemetry is the ambient logging and tracing layer used by
// pkg/runtime and cmd/dagcore-demo: a thin *slog.Logger wrapper in the shape
// the teacher repo's internal/infrastructure/logger wraps it, plus an
// otel tracer accessor in the shape its internal/infrastructure/tracing
// acquires one. Unlike the teacher, this package never configures an
// exporter or a TracerProvider itself — dagcore is a library, not a
// service, so wiring the SDK is the host application's job.
package telemetry

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with the With/*Context surface the rest of
// dagcore programs against.
type Logger struct {
	logger *slog.Logger
}

// Config selects level and output format for New.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.Level == "debug",
	}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return &Logger{logger: slog.New(handler)}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a derived logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)   { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)   { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any)  { l.logger.Error(msg, args...) }

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

var defaultLogger = New(Config{Level: "info", Format: "json"})

// Default returns the package-level logger used when a caller doesn't
// carry its own.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the package-level logger.
func SetDefault(l *Logger) { defaultLogger = l }
