package logger

import (
	"context"
	"log/slog"
)

// Logger is the global logger instance
var Logger *slog.Logger

// ContextKey is used for context values
type ContextKey string

const (
	// RequestIDKey is the context key for the RPC request ID
	RequestIDKey ContextKey = "request_id"
	// JobIDKey is the context key for the job ID
	JobIDKey ContextKey = "job_id"
	// ServiceKey is the context key for the handling service name
	ServiceKey ContextKey = "service"
)

func init() {
	config := LoadConfig()
	Logger = NewLogger(config)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// DebugContext logs a debug message with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	Logger.Debug(msg, appendContextArgs(ctx, args...)...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// InfoContext logs an info message with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	Logger.Info(msg, appendContextArgs(ctx, args...)...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// WarnContext logs a warning message with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	Logger.Warn(msg, appendContextArgs(ctx, args...)...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// ErrorContext logs an error message with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Logger.Error(msg, appendContextArgs(ctx, args...)...)
}

// With returns a new Logger that includes the given attributes in each output operation
func With(args ...any) *slog.Logger {
	return Logger.With(args...)
}

// WithContext returns a new Logger that includes context information
func WithContext(ctx context.Context) *slog.Logger {
	return Logger.With(appendContextArgs(ctx)...)
}

// appendContextArgs extracts context values and appends them to the args
func appendContextArgs(ctx context.Context, args ...any) []any {
	if ctx == nil {
		return args
	}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		args = append(args, "request_id", requestID)
	}

	if jobID, ok := ctx.Value(JobIDKey).(string); ok {
		args = append(args, "job_id", jobID)
	}

	if service, ok := ctx.Value(ServiceKey).(string); ok {
		args = append(args, "service", service)
	}

	return args
}
