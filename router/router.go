// Package router implements the Message Router: the sole inter-component
// transport inside the job orchestration substrate. It gives correlated
// request/response dispatch, a configurable middleware chain, audit
// logging, and message-size enforcement.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/telemetry"
)

// Envelope is the typed message passed between components.
type Envelope struct {
	ID            string                 `json:"id"`
	CorrelationID string                 `json:"correlationId"`
	Timestamp     time.Time              `json:"timestamp"`
	From          string                 `json:"from"`
	To            string                 `json:"to"`
	Type          string                 `json:"type"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	ReplyTo       string                 `json:"replyTo,omitempty"`
	JobID         string                 `json:"jobId,omitempty"`
}

// ErrorKind values surfaced in synthetic error replies.
const (
	KindNoHandler = "NO_HANDLER"
	KindTimeout   = "TIMEOUT"
)

// Handler processes one envelope and returns a response envelope.
type Handler func(ctx context.Context, msg Envelope) (Envelope, error)

// Middleware wraps a Handler with cross-cutting behavior (logging, audit,
// timeout, error wrapping), matching the func(http.Handler) http.Handler
// idiom generalized from HTTP to envelopes.
type Middleware func(Handler) Handler

// AuditWriter persists a routed message's audit trail without the payload
// body, only its hash, per spec §4.1.
type AuditWriter interface {
	WriteRoute(ctx context.Context, msg Envelope, payloadHash string) error
}

// NoOpAuditWriter discards everything; used in tests.
type NoOpAuditWriter struct{}

func (NoOpAuditWriter) WriteRoute(ctx context.Context, msg Envelope, payloadHash string) error {
	return nil
}

// Router dispatches envelopes to registered handlers by recipient id.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	middleware []Middleware
	audit      AuditWriter
	logger     core.Logger
	telemetry  core.Telemetry

	maxMessageSize      int
	warningThreshold    int
	dispatchTimeout     time.Duration

	subscribersMu sync.RWMutex
	subscribers   []func(ctx context.Context, msg Envelope)
}

// Option configures a Router.
type Option func(*Router)

func WithAuditWriter(w AuditWriter) Option { return func(r *Router) { r.audit = w } }
func WithLogger(l core.Logger) Option      { return func(r *Router) { r.logger = l } }
func WithTelemetry(t core.Telemetry) Option { return func(r *Router) { r.telemetry = t } }
func WithMaxMessageSize(n int) Option      { return func(r *Router) { r.maxMessageSize = n } }
func WithWarningThreshold(n int) Option    { return func(r *Router) { r.warningThreshold = n } }
func WithDispatchTimeout(d time.Duration) Option { return func(r *Router) { r.dispatchTimeout = d } }

// New builds a Router with the default middleware chain: tracing -> logging
// -> audit -> timeout -> error-wrap. Use appends further middleware inside
// this chain; the default middlewares themselves cannot be replaced.
// Tracing wraps the whole chain so a dispatch span covers every other
// middleware and the handler itself.
func New(opts ...Option) *Router {
	r := &Router{
		handlers:         make(map[string]Handler),
		audit:            NoOpAuditWriter{},
		logger:           &core.NoOpLogger{},
		maxMessageSize:   1 << 20,
		warningThreshold: 256 << 10,
		dispatchTimeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.middleware = []Middleware{
		r.tracingMiddleware,
		r.loggingMiddleware,
		r.auditMiddleware,
		r.timeoutMiddleware,
		r.errorWrapMiddleware,
	}
	return r
}

// Use appends additional middleware, applied innermost-last (closest to the
// handler last added here is closest to the final registered handler call).
func (r *Router) Use(mw Middleware) {
	r.middleware = append(r.middleware, mw)
}

// Register binds a handler to a component id. Registering twice for the
// same id replaces the previous handler.
func (r *Router) Register(componentID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[componentID] = h
}

// Unregister removes a component's handler.
func (r *Router) Unregister(componentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, componentID)
}

// Dispatch routes msg to the handler registered for msg.To, running the
// middleware chain around the call, and returns its response. Unknown
// recipients produce a synthetic NO_HANDLER error envelope rather than an
// error return, matching the router's never-throw contract.
func (r *Router) Dispatch(ctx context.Context, msg Envelope) (Envelope, error) {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	size, err := measureSize(msg)
	if err != nil {
		return errorEnvelope(msg, "SERIALIZATION_FAILED", err.Error()), nil
	}
	if size > r.maxMessageSize {
		return errorEnvelope(msg, "MESSAGE_TOO_LARGE", fmt.Sprintf("payload %d bytes exceeds max %d", size, r.maxMessageSize)), nil
	}
	if size > r.warningThreshold {
		r.logger.Warn("large message payload", map[string]interface{}{"to": msg.To, "bytes": size})
	}

	r.mu.RLock()
	h, ok := r.handlers[msg.To]
	r.mu.RUnlock()
	if !ok {
		return errorEnvelope(msg, KindNoHandler, fmt.Sprintf("no handler registered for %q", msg.To)), nil
	}

	chained := h
	for i := len(r.middleware) - 1; i >= 0; i-- {
		chained = r.middleware[i](chained)
	}

	resp, err := chained(ctx, msg)
	if err != nil {
		return errorEnvelope(msg, "HANDLER_ERROR", err.Error()), nil
	}
	if resp.CorrelationID == "" {
		resp.CorrelationID = msg.ID
	}
	return resp, nil
}

// Publish delivers msg to every subscriber registered via Subscribe. It is
// used for outbound broadcast events (status.update, approval_required,
// progress, result, error) that have no single recipient.
func (r *Router) Publish(ctx context.Context, msg Envelope) error {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	r.subscribersMu.RLock()
	subs := append([]func(ctx context.Context, msg Envelope){}, r.subscribers...)
	r.subscribersMu.RUnlock()
	for _, sub := range subs {
		sub(ctx, msg)
	}
	if r.audit != nil {
		hash := hashPayload(msg.Payload)
		_ = r.audit.WriteRoute(ctx, msg, hash)
	}
	return nil
}

// Subscribe registers fn to receive every broadcast Publish call.
func (r *Router) Subscribe(fn func(ctx context.Context, msg Envelope)) {
	r.subscribersMu.Lock()
	defer r.subscribersMu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// tracingMiddleware wraps the whole dispatch chain in a span named after
// the message type, tagging it with the envelope's routing fields and
// recording a Go-level dispatch error or a synthetic error response on it.
// A nil telemetry makes this a passthrough, so Router works unchanged
// without a Provider configured.
func (r *Router) tracingMiddleware(next Handler) Handler {
	return func(ctx context.Context, msg Envelope) (Envelope, error) {
		if r.telemetry == nil {
			return next(ctx, msg)
		}
		ctx, span := r.telemetry.StartSpan(ctx, "router.dispatch."+msg.Type)
		defer span.End()
		span.SetAttribute("axis.message.from", msg.From)
		span.SetAttribute("axis.message.to", msg.To)
		span.SetAttribute("axis.message.type", msg.Type)
		if msg.JobID != "" {
			span.SetAttribute("axis.job.id", msg.JobID)
		}

		resp, err := next(ctx, msg)
		if err != nil {
			span.RecordError(err)
		} else if resp.Type == "error" {
			span.SetAttribute("axis.dispatch.error_code", fmt.Sprintf("%v", resp.Payload["code"]))
		}
		return resp, err
	}
}

func (r *Router) loggingMiddleware(next Handler) Handler {
	return func(ctx context.Context, msg Envelope) (Envelope, error) {
		fields := map[string]interface{}{"type": msg.Type, "from": msg.From, "to": msg.To}
		tc := telemetry.GetTraceContext(ctx)
		if tc.TraceID != "" {
			fields["traceId"] = tc.TraceID
		}
		r.logger.Debug("dispatching message", fields)
		resp, err := next(ctx, msg)
		if err != nil {
			errFields := map[string]interface{}{"type": msg.Type, "to": msg.To, "error": err.Error()}
			if tc.TraceID != "" {
				errFields["traceId"] = tc.TraceID
			}
			r.logger.Error("dispatch failed", errFields)
		}
		return resp, err
	}
}

func (r *Router) auditMiddleware(next Handler) Handler {
	return func(ctx context.Context, msg Envelope) (Envelope, error) {
		hash := hashPayload(msg.Payload)
		if r.audit != nil {
			_ = r.audit.WriteRoute(ctx, msg, hash)
		}
		return next(ctx, msg)
	}
}

func (r *Router) timeoutMiddleware(next Handler) Handler {
	return func(ctx context.Context, msg Envelope) (Envelope, error) {
		if r.dispatchTimeout <= 0 {
			return next(ctx, msg)
		}
		tctx, cancel := context.WithTimeout(ctx, r.dispatchTimeout)
		defer cancel()

		type result struct {
			resp Envelope
			err  error
		}
		done := make(chan result, 1)
		go func() {
			resp, err := next(tctx, msg)
			done <- result{resp, err}
		}()
		select {
		case res := <-done:
			return res.resp, res.err
		case <-tctx.Done():
			return errorEnvelope(msg, KindTimeout, "dispatch timed out"), nil
		}
	}
}

func (r *Router) errorWrapMiddleware(next Handler) Handler {
	return func(ctx context.Context, msg Envelope) (resp Envelope, err error) {
		defer func() {
			if p := recover(); p != nil {
				resp = errorEnvelope(msg, "PANIC", fmt.Sprintf("%v", p))
				err = nil
			}
		}()
		return next(ctx, msg)
	}
}

func errorEnvelope(req Envelope, kind, message string) Envelope {
	return Envelope{
		ID:            core.NewID(),
		CorrelationID: req.ID,
		Timestamp:     time.Now().UTC(),
		From:          req.To,
		To:            req.From,
		Type:          "error",
		JobID:         req.JobID,
		Payload: map[string]interface{}{
			"code":    kind,
			"message": message,
		},
	}
}

func measureSize(msg Envelope) (int, error) {
	b, err := json.Marshal(msg.Payload)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func hashPayload(payload map[string]interface{}) string {
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
