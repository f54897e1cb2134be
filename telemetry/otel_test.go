package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu     sync.Mutex
	debugs []string
}

func (l *recordingLogger) Info(string, map[string]interface{})  {}
func (l *recordingLogger) Error(string, map[string]interface{}) {}
func (l *recordingLogger) Warn(string, map[string]interface{})  {}
func (l *recordingLogger) Debug(msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugs = append(l.debugs, msg)
}
func (l *recordingLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (l *recordingLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (l *recordingLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (l *recordingLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

func (l *recordingLogger) has(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range l.debugs {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}

func TestStartSpanExportsViaLogger(t *testing.T) {
	logger := &recordingLogger{}
	provider := New("axis-test", logger)
	defer provider.Shutdown(context.Background())

	ctx, span := provider.StartSpan(context.Background(), "router.dispatch.plan")
	span.SetAttribute("axis.job.id", "job-1")
	span.End()

	require.NoError(t, provider.ForceFlush(ctx))
	require.True(t, logger.has("span.router.dispatch.plan"))
}

func TestRecordErrorSetsSpanStatus(t *testing.T) {
	logger := &recordingLogger{}
	provider := New("axis-test", logger)
	defer provider.Shutdown(context.Background())

	ctx, span := provider.StartSpan(context.Background(), "dag.step.bank.payment_send")
	span.RecordError(errors.New("boom"))
	span.End()

	require.NoError(t, provider.ForceFlush(ctx))
	require.True(t, logger.has("span.dag.step.bank.payment_send"))
}

func TestRecordMetricLogsStructuredLine(t *testing.T) {
	logger := &recordingLogger{}
	provider := New("axis-test", logger)
	defer provider.Shutdown(context.Background())

	provider.RecordMetric("jobqueue.claims", 1, map[string]string{"status": "pending"})
	require.True(t, logger.has("metric.jobqueue.claims"))
}

func TestGetTraceContextReturnsZeroValueWithoutActiveSpan(t *testing.T) {
	tc := GetTraceContext(context.Background())
	require.Empty(t, tc.TraceID)
	require.Empty(t, tc.SpanID)
}

func TestGetTraceContextReflectsActiveSpan(t *testing.T) {
	logger := &recordingLogger{}
	provider := New("axis-test", logger)
	defer provider.Shutdown(context.Background())

	ctx, span := provider.StartSpan(context.Background(), "router.dispatch.echo")
	defer span.End()

	tc := GetTraceContext(ctx)
	require.NotEmpty(t, tc.TraceID)
	require.NotEmpty(t, tc.SpanID)
}
