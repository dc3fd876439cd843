package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "retrotalk"

func GetTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartOperationSpan starts a span for a retrospect operation.
func StartOperationSpan(ctx context.Context, operation, userID, retrospectID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("retrospect.operation", operation),
		attribute.String("retrospect.user_id", userID),
	}
	if retrospectID != "" {
		attrs = append(attrs, attribute.String("retrospect.id", retrospectID))
	}
	return GetTracer().Start(ctx, "retrospect."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// StartAssistantSpan starts a client span for an assistant call.
func StartAssistantSpan(ctx context.Context, provider, operation string, historyLen int) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "assistant."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("assistant.provider", provider),
			attribute.Int("assistant.history_len", historyLen),
		),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
