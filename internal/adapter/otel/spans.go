package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "onboardforge"

// StartOrchestrationSpan starts a span for one orchestrator run over a context.
func StartOrchestrationSpan(ctx context.Context, contextID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "orchestrate",
		trace.WithAttributes(
			attribute.String("context.id", contextID),
		),
	)
}

// StartAgentSpan starts a span for a single agent call within a run.
func StartAgentSpan(ctx context.Context, role, phaseID, subtaskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent."+role,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("agent.role", role),
			attribute.String("phase.id", phaseID),
			attribute.String("subtask.id", subtaskID),
		),
	)
}

// StartAppendSpan starts a span for a history append.
func StartAppendSpan(ctx context.Context, contextID, operation string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "context.append",
		trace.WithAttributes(
			attribute.String("context.id", contextID),
			attribute.String("entry.operation", operation),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
