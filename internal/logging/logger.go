// Package logging provides the structured logger used by the dex cache.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents different logging levels
type LogLevel int

// Supported levels, lowest first.
const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// String returns the lowercase level name.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// LogConfig holds configuration for the cache logger.
type LogConfig struct {
	// Level sets the minimum log level
	Level LogLevel
	// EnableCallerInfo includes file and line number in logs
	EnableCallerInfo bool
	// Output receives log records. Defaults to os.Stderr.
	Output io.Writer
}

// DefaultLogConfig returns a default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  LogLevelInfo,
		Output: os.Stderr,
	}
}

// Logger provides structured logging for cache lookups.
// A nil *Logger discards everything.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a new text logger with the given configuration.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:     config.Level.slogLevel(),
		AddSource: config.EnableCallerInfo,
	})

	return &Logger{logger: slog.New(handler)}
}

// NewNopLogger creates a logger that discards all log messages.
func NewNopLogger() *Logger {
	return &Logger{}
}

// FromSlog wraps an existing slog logger.
func FromSlog(l *slog.Logger) *Logger {
	return &Logger{logger: l}
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Log(ctx, level, msg, args...)
}

// Debug logs debug-level messages
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs info-level messages
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs warning-level messages
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs error-level messages
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

// With returns a logger with additional context fields
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.logger == nil {
		return l
	}
	return &Logger{logger: l.logger.With(args...)}
}

// WithOperation returns a logger with operation context
func (l *Logger) WithOperation(op Operation) *Logger {
	return l.With("operation", string(op))
}

// WithKey returns a logger with cache key context
func (l *Logger) WithKey(key fmt.Stringer) *Logger {
	return l.With("key", key.String())
}

// Operation names a logged cache operation.
type Operation string

// Operation constants for cache operations
const (
	OpLookup   Operation = "lookup"
	OpBuildKey Operation = "build_key"
	OpExists   Operation = "exists"
	OpFetch    Operation = "fetch"
	OpPut      Operation = "put"
	OpCleanup  Operation = "cleanup"
)

// LogCacheHit logs a cache hit event.
func LogCacheHit(ctx context.Context, logger *Logger, input, path string) {
	logger.Debug(ctx, "cache hit",
		"input", input,
		"path", path,
		"result", "hit")
}

// LogCacheMiss logs a cache miss event.
func LogCacheMiss(ctx context.Context, logger *Logger, input, reason string) {
	logger.Debug(ctx, "cache miss",
		"input", input,
		"reason", reason,
		"result", "miss")
}

// LogIneligible logs an input that bypassed the cache.
func LogIneligible(ctx context.Context, logger *Logger, input, reason string) {
	logger.Debug(ctx, "cache bypassed",
		"input", input,
		"reason", reason,
		"result", "ineligible")
}

// LogStoreError logs a store failure that degraded a lookup to a miss.
func LogStoreError(ctx context.Context, logger *Logger, op Operation, err error) {
	logger.Warn(ctx, "cache store failed, treating as miss",
		"operation", string(op),
		"error", err.Error())
}

// ParseLogLevel parses a string log level into a LogLevel.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}
