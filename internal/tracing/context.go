package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// ScopeIDKey is the context key for the statistics scope (session or period id)
	ScopeIDKey ContextKey = "scope_id"
	// CommandKey is the context key for the control command name
	CommandKey ContextKey = "command"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	ScopeID string
	Command string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithScopeID adds a statistics scope ID to the context
func WithScopeID(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, ScopeIDKey, scopeID)
}

// WithCommand adds the control command name to the context
func WithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, CommandKey, command)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetScopeID retrieves the scope ID from the context
func GetScopeID(ctx context.Context) string {
	if scopeID, ok := ctx.Value(ScopeIDKey).(string); ok {
		return scopeID
	}
	return ""
}

// GetCommand retrieves the command name from the context
func GetCommand(ctx context.Context) string {
	if command, ok := ctx.Value(CommandKey).(string); ok {
		return command
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		ScopeID: GetScopeID(ctx),
		Command: GetCommand(ctx),
	}
}

// NewRequestContext creates a new context for a host command with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// LoggerFromContext creates a logger carrying the tracing fields from the context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		baseLogger = baseLogger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.ScopeID != "" {
		baseLogger = baseLogger.With().Str("scope_id", tc.ScopeID).Logger()
	}
	if tc.Command != "" {
		baseLogger = baseLogger.With().Str("command", tc.Command).Logger()
	}

	return baseLogger
}
