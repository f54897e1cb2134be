package core

import "context"

// Logger is the minimal structured logging interface implemented by every
// concrete logger in this module (ZapLogger, NoOpLogger). Fields are a flat
// map so call sites never need to import a logging library's own type.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with a component tag that appears on
// every line it emits, so logs from the job queue, DAG executor, approval
// coordinator and so on can be filtered independently.
//
// Component naming convention:
//   - "jobqueue", "dag", "approval", "idempotency", "router", "retention"
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Span is a single unit of distributed tracing work, implemented by the
// telemetry package's OpenTelemetry-backed provider.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// Telemetry starts spans and records metrics for components that opt in —
// the Message Router wraps every Dispatch in one, the DAG Executor wraps
// every step invocation, and the Lifecycle Manager wraps every periodic
// retention/backup cycle. A nil Telemetry disables tracing for that
// component; telemetry.Provider is the OpenTelemetry-backed implementation.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// NoOpLogger discards everything. Used as the default in tests and in
// packages constructed without an explicit logger.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

func (n *NoOpLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
