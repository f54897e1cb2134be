package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shreyasdbz/axis/core"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 3, OpenTimeout: 50 * time.Millisecond, HalfOpenMaxCalls: 1}, nil)
	failing := func(ctx context.Context, step core.PlanStep) (map[string]interface{}, error) {
		return nil, errors.New("boom")
	}
	wrapped := m.Wrap("flaky-gear", failing)

	for i := 0; i < 3; i++ {
		_, err := wrapped(context.Background(), core.PlanStep{})
		require.Error(t, err)
	}

	require.Equal(t, "open", m.State("flaky-gear"))
	require.True(t, m.Predicate()("flaky-gear"))
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	ok := func(ctx context.Context, step core.PlanStep) (map[string]interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	}
	wrapped := m.Wrap("stable-gear", ok)

	result, err := wrapped(context.Background(), core.PlanStep{})
	require.NoError(t, err)
	require.Equal(t, true, result["ok"])
	require.False(t, m.Predicate()("stable-gear"))
}

func TestResetClearsBreakerState(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, OpenTimeout: time.Second, HalfOpenMaxCalls: 1}, nil)
	failing := func(ctx context.Context, step core.PlanStep) (map[string]interface{}, error) {
		return nil, errors.New("boom")
	}
	_, _ = m.Wrap("gear", failing)(context.Background(), core.PlanStep{})
	require.Equal(t, "open", m.State("gear"))

	m.Reset("gear")
	require.Equal(t, "closed", m.State("gear"))
}
