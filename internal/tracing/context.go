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
	// TriggerKey is the context key for what started an operation
	TriggerKey ContextKey = "trigger"
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"
)

// Triggers of discovery and reload passes
const (
	TriggerStartup = "startup"
	TriggerWatch   = "watch"
	TriggerCron    = "cron"
	TriggerCLI     = "cli"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	Trigger   string
	RequestID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTrigger records what started the operation
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, TriggerKey, trigger)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTrigger retrieves the trigger from the context
func GetTrigger(ctx context.Context) string {
	if trigger, ok := ctx.Value(TriggerKey).(string); ok {
		return trigger
	}
	return ""
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		Trigger:   GetTrigger(ctx),
		RequestID: GetRequestID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.Trigger != "" {
		ctx = WithTrigger(ctx, tc.Trigger)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	return ctx
}

// NewOperationContext starts a traced operation with a fresh trace ID
func NewOperationContext(ctx context.Context, trigger string) context.Context {
	return WithTrigger(WithTraceID(ctx, NewTraceID()), trigger)
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	zctx := logger.With()
	if tc.TraceID != "" {
		zctx = zctx.Str("trace_id", tc.TraceID)
	}
	if tc.Trigger != "" {
		zctx = zctx.Str("trigger", tc.Trigger)
	}
	if tc.RequestID != "" {
		zctx = zctx.Str("request_id", tc.RequestID)
	}
	return zctx.Logger()
}
