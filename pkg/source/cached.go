package source

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// ErrMiss is returned by a KV for absent keys
var ErrMiss = errors.New("cache miss")

// KV is the key-value subset the snapshot cache needs
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisKV adapts a redis client to KV
type RedisKV struct {
	c *redis.Client
}

// NewRedisKV wraps a redis client
func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

// Cached serves snapshots from a KV cache in front of another source. Cache
// failures are logged and fall through to the backing source.
type Cached struct {
	next   Source
	kv     KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps next with a cache holding entries for ttl
func NewCached(next Source, kv KV, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, kv: kv, ttl: ttl, logger: logger}
}

func cacheKey(sessionID string) string {
	return "bunkplanner:snapshot:" + sessionID
}

func (c *Cached) Snapshot(ctx context.Context, sessionID string) (*models.Snapshot, error) {
	key := cacheKey(sessionID)
	val, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		var snap models.Snapshot
		uerr := json.Unmarshal([]byte(val), &snap)
		if uerr == nil {
			return &snap, nil
		}
		c.logger.Warn("discarding unreadable cached snapshot", zap.String("session_id", sessionID), zap.Error(uerr))
	case !errors.Is(err, ErrMiss):
		c.logger.Warn("snapshot cache unavailable", zap.String("session_id", sessionID), zap.Error(err))
	}

	snap, err := c.next.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if err := c.kv.Set(ctx, key, string(data), c.ttl); err != nil {
		c.logger.Warn("snapshot cache write failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return snap, nil
}

// Invalidate drops a session's cached snapshot
func (c *Cached) Invalidate(ctx context.Context, sessionID string) error {
	return c.kv.Del(ctx, cacheKey(sessionID))
}
