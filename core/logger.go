package core

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements Logger and ComponentAwareLogger over go.uber.org/zap:
// console encoding for local development, JSON for production, delegating
// the actual encoding/leveling to zap instead of hand-rolling it.
type ZapLogger struct {
	z         *zap.SugaredLogger
	component string
}

// NewZapLogger builds a ZapLogger. format is "json" or "console"; level is
// one of debug/info/warn/error. Both are typically sourced from Config.
func NewZapLogger(format, level string) *ZapLogger {
	zl, _ := zap.NewDevelopment()
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseZapLevel(level))
	cfg.OutputPaths = []string{"stdout"}

	built, err := cfg.Build()
	if err != nil {
		built = zl
	}
	return &ZapLogger{z: built.Sugar()}
}

func parseZapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func fieldsToArgs(component string, fields map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, (len(fields)+1)*2)
	if component != "" {
		args = append(args, "component", component)
	}
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func (l *ZapLogger) Info(msg string, fields map[string]interface{}) {
	l.z.Infow(msg, fieldsToArgs(l.component, fields)...)
}

func (l *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	l.z.Warnw(msg, fieldsToArgs(l.component, fields)...)
}

func (l *ZapLogger) Error(msg string, fields map[string]interface{}) {
	l.z.Errorw(msg, fieldsToArgs(l.component, fields)...)
}

func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	l.z.Debugw(msg, fieldsToArgs(l.component, fields)...)
}

func (l *ZapLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, withTrace(ctx, fields))
}

func (l *ZapLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, withTrace(ctx, fields))
}

func (l *ZapLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, withTrace(ctx, fields))
}

func (l *ZapLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, withTrace(ctx, fields))
}

// WithComponent returns a logger decorated with component, satisfying
// ComponentAwareLogger.
func (l *ZapLogger) WithComponent(component string) Logger {
	return &ZapLogger{z: l.z, component: component}
}

// withTrace is a seam for callers that want to merge OpenTelemetry trace
// context into fields; it is intentionally a pass-through here to avoid a
// core -> telemetry import cycle. Packages that hold a context with an
// active span should merge telemetry.GetTraceContext themselves before
// calling the *WithContext variants if correlation is required.
func withTrace(_ context.Context, fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return map[string]interface{}{}
	}
	return fields
}

// detectFormat auto-detects by environment: JSON when running under
// Kubernetes, console otherwise, unless overridden explicitly.
func detectFormat(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	return "console"
}
