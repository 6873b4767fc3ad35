package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "marketplace-fulfillment"

// Tracer starts spans on the globally registered provider. Without an SDK
// provider installed the spans are no-ops.
type Tracer struct {
	t trace.Tracer
}

func New(name string) *Tracer {
	if name == "" {
		name = defaultTracerName
	}
	return &Tracer{t: otel.Tracer(name)}
}

func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.t == nil {
		return New("").Start(ctx, name, attrs...)
	}
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on the span (if any) and ends it.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
