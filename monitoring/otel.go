package monitoring

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OtelCollector attaches pipeline events to the active span of the request
// context captured at construction time.
type OtelCollector struct {
	span trace.Span
}

// NewOtelCollector binds to the span in ctx. With no active span every
// Record is a no-op.
func NewOtelCollector(ctx context.Context) *OtelCollector {
	return &OtelCollector{span: trace.SpanFromContext(ctx)}
}

// Record implements Collector.
func (c *OtelCollector) Record(event Event) {
	if c.span == nil || !c.span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("consult.query_id", event.QueryID),
		attribute.Int("consult.attempt", event.Attempt),
	}
	switch event.Kind {
	case KindVerdict:
		attrs = append(attrs,
			attribute.Bool("consult.passed", event.Passed),
			attribute.Float64("consult.score", event.Score))
	case KindTransition:
		attrs = append(attrs, attribute.String("consult.state", event.State))
	case KindOutcome:
		attrs = append(attrs,
			attribute.String("consult.outcome", string(event.Outcome)),
			attribute.Int("consult.attempts_used", event.AttemptsUsed))
	}
	c.span.AddEvent(string(event.Kind), trace.WithAttributes(attrs...))
}

var _ Collector = (*OtelCollector)(nil)
