package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper stores processed idempotency keys in Redis so all server
// instances can avoid reapplying the same mutation intent when a client
// retries a request the push channel already confirmed.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(actor, key string) string {
	return fmt.Sprintf("dedupe:%s:%s", actor, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, actor, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(actor, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key. It is used when processing
// fails so the client may retry the mutation.
func (r *RedisDeduper) Remove(ctx context.Context, actor, key string) error {
	return r.client.Del(ctx, r.key(actor, key)).Err()
}
