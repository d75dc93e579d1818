package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"gymstream/internal/consts"
)

// RedisDeduper stores seen idempotency keys in Redis so redelivered
// webhook events are broadcast at most once.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(orgID, key string) string {
	return consts.DedupeKeyPrefix + orgID + ":" + key
}

// Add records the key if it does not already exist. It returns true when
// the key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, orgID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(orgID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key.
func (r *RedisDeduper) Remove(ctx context.Context, orgID, key string) error {
	return r.client.Del(ctx, r.key(orgID, key)).Err()
}
