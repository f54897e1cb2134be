// Package telemetry implements core.Telemetry over OpenTelemetry's SDK. The
// Message Router wraps every Dispatch in a span, the DAG Executor wraps
// every step invocation in a span, and the Lifecycle Manager wraps every
// periodic retention/backup cycle in one — all through the tracer this
// package builds. Spans are exported by logging them through a core.Logger
// rather than shipping them to an OTLP collector: axis is local-first and
// assumes no always-on collector process to receive them.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/shreyasdbz/axis/core"
)

// Provider implements core.Telemetry using an OpenTelemetry TracerProvider.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	logger core.Logger
}

// New builds a Provider tagged with serviceName. Finished spans are handed
// to logger rather than an exporter endpoint.
func New(serviceName string, logger core.Logger) *Provider {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		res = resource.Default()
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(&logExporter{logger: logger}),
		sdktrace.WithResource(res),
	)
	return &Provider{tp: tp, tracer: tp.Tracer("axis"), logger: logger}
}

// StartSpan implements core.Telemetry.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric implements core.Telemetry by logging a structured line.
// Axis runs with no external metrics backend, so a metric is a debug log
// line an operator can grep rather than a push to a collector.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	fields := make(map[string]interface{}, len(labels)+1)
	for k, v := range labels {
		fields[k] = v
	}
	fields["value"] = value
	p.logger.Debug("metric."+name, fields)
}

// ForceFlush blocks until every span started so far has been exported.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes and stops the tracer provider. Called once at process
// shutdown, after the components that hold this Provider have stopped
// producing spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// otelSpan adapts an OpenTelemetry span to core.Span.
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// logExporter implements sdktrace.SpanExporter by writing each finished
// span to a core.Logger. There is no network call and nothing to retry,
// which is the point: a local-first substrate has no collector guaranteed
// to be listening.
type logExporter struct {
	logger core.Logger
}

func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		fields := map[string]interface{}{
			"traceId":    s.SpanContext().TraceID().String(),
			"spanId":     s.SpanContext().SpanID().String(),
			"durationMs": s.EndTime().Sub(s.StartTime()).Milliseconds(),
			"status":     s.Status().Code.String(),
		}
		for _, attr := range s.Attributes() {
			fields[string(attr.Key)] = attr.Value.Emit()
		}
		e.logger.Debug("span."+s.Name(), fields)
	}
	return nil
}

func (e *logExporter) Shutdown(ctx context.Context) error {
	return nil
}
