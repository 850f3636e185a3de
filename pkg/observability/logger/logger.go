package logger

import (
	"context"
)

// Logger is the structured logging interface used across the coordinator.
// All log methods accept a message string followed by key-value pairs.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info-level message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning-level message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error-level message with optional key-value pairs
	Error(msg string, args ...any)

	// With creates a child logger with additional key-value pairs that will be
	// included in all subsequent log entries
	With(args ...any) Logger

	// WithContext creates a child logger carrying the execution ID from ctx
	WithContext(ctx context.Context) Logger
}

type contextKey string

// executionIDKey carries the per-claim execution ID through job handler contexts.
const executionIDKey contextKey = "execution_id"

// ContextWithExecutionID returns a context carrying the execution ID assigned
// to a claimed job. Loggers derived via WithContext attach it to every entry.
func ContextWithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// ExecutionIDFromContext extracts the execution ID, if any, from ctx.
func ExecutionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(executionIDKey).(string); ok {
		return id
	}
	return ""
}
