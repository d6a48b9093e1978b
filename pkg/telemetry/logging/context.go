package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// EventIDKey is the context key for resource event IDs.
	EventIDKey contextKey = "event_id"

	// ResourceIDKey is the context key for resource identifiers.
	ResourceIDKey contextKey = "resource_id"

	// ScopeKey is the context key for scope references ("kind:id").
	ScopeKey contextKey = "scope"

	// RunIDKey is the context key for scheduled job runs.
	RunIDKey contextKey = "run_id"
)

// WithEventID adds an event ID to the context.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

// GetEventID retrieves the event ID from the context.
func GetEventID(ctx context.Context) string {
	if id, ok := ctx.Value(EventIDKey).(string); ok {
		return id
	}
	return ""
}

// WithResourceID adds a resource identifier to the context.
func WithResourceID(ctx context.Context, resourceID string) context.Context {
	return context.WithValue(ctx, ResourceIDKey, resourceID)
}

// GetResourceID retrieves the resource identifier from the context.
func GetResourceID(ctx context.Context) string {
	if id, ok := ctx.Value(ResourceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithScope adds a scope reference to the context.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// GetScope retrieves the scope reference from the context.
func GetScope(ctx context.Context) string {
	if s, ok := ctx.Value(ScopeKey).(string); ok {
		return s
	}
	return ""
}

// WithRunID adds a job run identifier to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the job run identifier from the context.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// extractContextFields extracts common fields from context for logging.
// Returns a slice of key-value pairs suitable for logger.With().
func extractContextFields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	var fields []any

	if id := GetRunID(ctx); id != "" {
		fields = append(fields, "run_id", id)
	}
	if id := GetEventID(ctx); id != "" {
		fields = append(fields, "event_id", id)
	}
	if id := GetResourceID(ctx); id != "" {
		fields = append(fields, "resource_id", id)
	}
	if s := GetScope(ctx); s != "" {
		fields = append(fields, "scope", s)
	}

	// Trace and span IDs come from the active OpenTelemetry span.
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			"trace_id", sc.TraceID().String(),
			"span_id", sc.SpanID().String(),
		)
	}

	return fields
}

// ContextLogger is a logger that automatically includes context fields.
type ContextLogger struct {
	logger *Logger
	ctx    context.Context
}

// NewContextLogger creates a logger that automatically includes context fields.
func NewContextLogger(logger *Logger, ctx context.Context) *ContextLogger {
	return &ContextLogger{
		logger: logger.WithContext(ctx),
		ctx:    ctx,
	}
}

// Debug logs a debug message with context fields.
func (cl *ContextLogger) Debug(msg string, args ...any) {
	cl.logger.Debug(msg, args...)
}

// Info logs an info message with context fields.
func (cl *ContextLogger) Info(msg string, args ...any) {
	cl.logger.Info(msg, args...)
}

// Warn logs a warning message with context fields.
func (cl *ContextLogger) Warn(msg string, args ...any) {
	cl.logger.Warn(msg, args...)
}

// Error logs an error message with context fields.
func (cl *ContextLogger) Error(msg string, args ...any) {
	cl.logger.Error(msg, args...)
}

// With creates a new context logger with additional fields.
func (cl *ContextLogger) With(args ...any) *ContextLogger {
	return &ContextLogger{
		logger: cl.logger.With(args...),
		ctx:    cl.ctx,
	}
}
