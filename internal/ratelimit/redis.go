package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, shared across API replicas.
// Window keys carry the window start so INCR+EXPIRE stays race-free enough:
// a duplicate expire only shortens a window that was about to roll anyway.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// Incr records an attempt and returns the in-window count.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration, nowMs int64) (int, error) {
	windowMs := window.Milliseconds()
	windowStart := nowMs - nowMs%windowMs
	redisKey := fmt.Sprintf("rl:%s:%d", key, windowStart)

	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit incr: %w", err)
	}
	if count == 1 {
		// First attempt in the window owns the expiry.
		s.client.Expire(ctx, redisKey, window+time.Second)
	}
	return int(count), nil
}
