package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend against a remote Redis service using only
// GET and SET ... EX.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend parses a connection URL (redis://host:port/db) and returns
// a backend. The service may be entirely absent at startup; failures surface
// on first use, where the Adapter handles the downgrade.
func NewRedisBackend(rawURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisBackend{client: redis.NewClient(opts)}, nil
}

// NewRedisBackendFromClient wraps an existing client (primarily for testing).
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get fetches key. A redis.Nil reply is a miss, not an error.
func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Set stores value under key with a relative expiry.
func (r *RedisBackend) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
