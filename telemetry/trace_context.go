package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TraceContext holds the identifiers used to correlate a log line with the
// span that was active when it was emitted.
type TraceContext struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// GetTraceContext extracts the active span's trace and span ids from ctx,
// for inclusion in structured log fields. Returns a zero TraceContext if no
// valid span is active; an unsampled span still yields its ids, with Sampled
// false. Used by the router's logging middleware to tag
// each dispatch log line with the trace it belongs to.
func GetTraceContext(ctx context.Context) TraceContext {
	if ctx == nil {
		return TraceContext{}
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return TraceContext{}
	}
	return TraceContext{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
		Sampled: sc.IsSampled(),
	}
}
