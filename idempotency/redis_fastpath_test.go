package idempotency

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisFastPathRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	fp := NewRedisFastPath(client)
	ctx := context.Background()

	_, ok := fp.GetCompleted(ctx, "exec-1")
	require.False(t, ok)

	fp.SetCompleted(ctx, "exec-1", map[string]interface{}{"value": float64(42)})

	result, ok := fp.GetCompleted(ctx, "exec-1")
	require.True(t, ok)
	require.Equal(t, float64(42), result["value"])

	fp.Invalidate(ctx, "exec-1")
	_, ok = fp.GetCompleted(ctx, "exec-1")
	require.False(t, ok)
}

func TestFastPathIntegratesWithLog(t *testing.T) {
	db := newTestDB(t)
	client := newTestRedis(t)
	fp := NewRedisFastPath(client)
	log := New(db, WithFastPath(fp))
	ctx := context.Background()

	decision, err := log.Check(ctx, "job-1", "step-1")
	require.NoError(t, err)
	require.NoError(t, log.RecordCompletion(ctx, decision.ExecutionID, map[string]interface{}{"ok": true}))

	cached, ok := fp.GetCompleted(ctx, decision.ExecutionID)
	require.True(t, ok)
	require.Equal(t, true, cached["ok"])

	decision2, err := log.Check(ctx, "job-1", "step-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeCached, decision2.Outcome)
}
