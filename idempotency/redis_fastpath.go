package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/shreyasdbz/axis/core"
)

// redisFastPathConfig is the functional-options config shape for this
// Redis-backed store (WithKeyPrefix, WithTTL, WithFastPathLogger); the Redis
// client itself is passed to NewRedisFastPath.
type redisFastPathConfig struct {
	keyPrefix string
	ttl       time.Duration
	logger    core.Logger
}

// RedisFastPathOption configures a RedisFastPath.
type RedisFastPathOption func(*redisFastPathConfig)

func WithKeyPrefix(prefix string) RedisFastPathOption {
	return func(c *redisFastPathConfig) { c.keyPrefix = prefix }
}

func WithTTL(ttl time.Duration) RedisFastPathOption {
	return func(c *redisFastPathConfig) { c.ttl = ttl }
}

func WithFastPathLogger(l core.Logger) RedisFastPathOption {
	return func(c *redisFastPathConfig) { c.logger = l }
}

// RedisFastPath caches completed execution results in Redis so repeated
// idempotency checks for the same step (e.g. during a DAG re-run that
// touches a shared upstream dependency) avoid a SQLite round trip. SQLite
// remains the source of truth; Redis errors are logged and treated as a
// cache miss, never surfaced to the caller.
type RedisFastPath struct {
	client *redis.Client
	cfg    redisFastPathConfig
}

// NewRedisFastPath builds a RedisFastPath over an existing client.
func NewRedisFastPath(client *redis.Client, opts ...RedisFastPathOption) *RedisFastPath {
	cfg := redisFastPathConfig{
		keyPrefix: "axis:idempotency:",
		ttl:       24 * time.Hour,
		logger:    &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisFastPath{client: client, cfg: cfg}
}

func (f *RedisFastPath) key(executionID string) string {
	return fmt.Sprintf("%s%s", f.cfg.keyPrefix, executionID)
}

func (f *RedisFastPath) GetCompleted(ctx context.Context, executionID string) (map[string]interface{}, bool) {
	raw, err := f.client.Get(ctx, f.key(executionID)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		f.cfg.logger.Warn("idempotency fast path read failed", map[string]interface{}{"error": err.Error()})
		return nil, false
	}
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false
	}
	return result, true
}

func (f *RedisFastPath) SetCompleted(ctx context.Context, executionID string, result map[string]interface{}) {
	b, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := f.client.Set(ctx, f.key(executionID), b, f.cfg.ttl).Err(); err != nil {
		f.cfg.logger.Warn("idempotency fast path write failed", map[string]interface{}{"error": err.Error()})
	}
}

func (f *RedisFastPath) Invalidate(ctx context.Context, executionID string) {
	_ = f.client.Del(ctx, f.key(executionID)).Err()
}
