package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if project := ProjectFromContext(ctx); project != "" {
		fields = append(fields, zap.String("project", project))
	}
	if phase := PhaseFromContext(ctx); phase != "" {
		fields = append(fields, zap.String("phase", phase))
	}
	if iter, ok := IterationFromContext(ctx); ok {
		fields = append(fields, zap.Int("iteration", iter))
	}

	return fields
}

// Context key types
type projectCtxKey struct{}
type phaseCtxKey struct{}
type iterationCtxKey struct{}
type loggerCtxKey struct{}

// WithProject adds the project name to context.
func WithProject(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, projectCtxKey{}, name)
}

// ProjectFromContext extracts the project name from context.
func ProjectFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(projectCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithPhase adds the current lifecycle phase to context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// PhaseFromContext extracts the phase from context.
func PhaseFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(phaseCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithIteration adds the loop iteration number to context.
func WithIteration(ctx context.Context, iteration int) context.Context {
	return context.WithValue(ctx, iterationCtxKey{}, iteration)
}

// IterationFromContext extracts the iteration number from context.
func IterationFromContext(ctx context.Context) (int, bool) {
	i, ok := ctx.Value(iterationCtxKey{}).(int)
	return i, ok
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
