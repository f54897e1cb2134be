package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	r := New()
	r.Register("echo", func(ctx context.Context, msg Envelope) (Envelope, error) {
		return Envelope{Type: "ok", Payload: msg.Payload}, nil
	})

	resp, err := r.Dispatch(context.Background(), Envelope{To: "echo", Payload: map[string]interface{}{"hello": "world"}})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Type)
	require.Equal(t, "world", resp.Payload["hello"])
}

func TestDispatchUnknownRecipientReturnsSyntheticError(t *testing.T) {
	r := New()
	resp, err := r.Dispatch(context.Background(), Envelope{To: "nobody"})
	require.NoError(t, err, "dispatch never returns a Go error for handler-level failures")
	require.Equal(t, "error", resp.Type)
	require.Equal(t, KindNoHandler, resp.Payload["code"])
}

func TestDispatchHandlerErrorReturnsSyntheticError(t *testing.T) {
	r := New()
	r.Register("flaky", func(ctx context.Context, msg Envelope) (Envelope, error) {
		return Envelope{}, errors.New("boom")
	})

	resp, err := r.Dispatch(context.Background(), Envelope{To: "flaky"})
	require.NoError(t, err)
	require.Equal(t, "error", resp.Type)
	require.Equal(t, "HANDLER_ERROR", resp.Payload["code"])
}

func TestDispatchRecoversPanicAsSyntheticError(t *testing.T) {
	r := New()
	r.Register("panicky", func(ctx context.Context, msg Envelope) (Envelope, error) {
		panic("unexpected")
	})

	resp, err := r.Dispatch(context.Background(), Envelope{To: "panicky"})
	require.NoError(t, err)
	require.Equal(t, "error", resp.Type)
	require.Equal(t, "PANIC", resp.Payload["code"])
}

func TestDispatchEnforcesMaxMessageSize(t *testing.T) {
	r := New(WithMaxMessageSize(8))
	r.Register("dest", func(ctx context.Context, msg Envelope) (Envelope, error) {
		return Envelope{Type: "ok"}, nil
	})

	resp, err := r.Dispatch(context.Background(), Envelope{To: "dest", Payload: map[string]interface{}{"key": "a value far longer than eight bytes"}})
	require.NoError(t, err)
	require.Equal(t, "error", resp.Type)
	require.Equal(t, "MESSAGE_TOO_LARGE", resp.Payload["code"])
}

func TestDispatchTimesOutSlowHandler(t *testing.T) {
	r := New(WithDispatchTimeout(10 * time.Millisecond))
	r.Register("slow", func(ctx context.Context, msg Envelope) (Envelope, error) {
		select {
		case <-time.After(time.Second):
			return Envelope{Type: "too-late"}, nil
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	})

	resp, err := r.Dispatch(context.Background(), Envelope{To: "slow"})
	require.NoError(t, err)
	require.Equal(t, "error", resp.Type)
	require.Equal(t, KindTimeout, resp.Payload["code"])
}

func TestUnregisterRemovesHandler(t *testing.T) {
	r := New()
	r.Register("gone", func(ctx context.Context, msg Envelope) (Envelope, error) {
		return Envelope{Type: "ok"}, nil
	})
	r.Unregister("gone")

	resp, err := r.Dispatch(context.Background(), Envelope{To: "gone"})
	require.NoError(t, err)
	require.Equal(t, "error", resp.Type)
	require.Equal(t, KindNoHandler, resp.Payload["code"])
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	r := New()
	var a, b int
	r.Subscribe(func(ctx context.Context, msg Envelope) { a++ })
	r.Subscribe(func(ctx context.Context, msg Envelope) { b++ })

	require.NoError(t, r.Publish(context.Background(), Envelope{Type: "status.update"}))
	require.Equal(t, 1, a)
	require.Equal(t, 1, b)
}

type recordingAuditWriter struct {
	calls int
}

func (w *recordingAuditWriter) WriteRoute(ctx context.Context, msg Envelope, payloadHash string) error {
	w.calls++
	return nil
}

func TestDispatchWritesAuditEntryViaMiddleware(t *testing.T) {
	audit := &recordingAuditWriter{}
	r := New(WithAuditWriter(audit))
	r.Register("dest", func(ctx context.Context, msg Envelope) (Envelope, error) {
		return Envelope{Type: "ok"}, nil
	})

	_, err := r.Dispatch(context.Background(), Envelope{To: "dest"})
	require.NoError(t, err)
	require.Equal(t, 1, audit.calls)
}
