package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OTelHandler forwards spans to an OpenTelemetry tracer. Because agentrun's
// Span already carries a start/end pair rather than a push/pop pair, each
// *End span is rendered as a single, already-finished OpenTelemetry span
// spanning [now-Duration, now] using trace.WithTimestamp.
type OTelHandler struct {
	Tracer trace.Tracer
}

// NewOTelHandler returns a Handler that records spans with the given
// tracer, typically obtained via otel.Tracer("agentrun").
func NewOTelHandler(tracer trace.Tracer) *OTelHandler {
	return &OTelHandler{Tracer: tracer}
}

func (h *OTelHandler) Handle(ctx context.Context, span Span) {
	if span.Duration == 0 {
		return // only emit completed spans; *Start events have no duration yet
	}

	attrs := make([]attribute.KeyValue, 0, len(span.Fields)+1)
	for _, f := range span.Fields {
		attrs = append(attrs, attribute.String(f.Key, toString(f.Value)))
	}

	start := span.Timestamp.Add(-span.Duration)
	end := span.Timestamp

	_, otspan := h.Tracer.Start(ctx, string(span.Name),
		trace.WithTimestamp(start),
		trace.WithAttributes(attrs...),
	)
	if span.Err != nil {
		otspan.RecordError(span.Err)
	}
	otspan.End(trace.WithTimestamp(end))
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return stringify(v)
}
