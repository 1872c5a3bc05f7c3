package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plugrun/resource-broker/pkg/observability/logging"
)

// RedisStore implements Store using Redis. Keys are stored as-is so that
// independent broker processes sharing one Redis instance see the same
// rate-limit counters under the same key scheme.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed store and verifies connectivity.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.Database,
	})

	store := &RedisStore{client: client}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.CheckConnection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	logging.Infof("RedisStore connected to %s (db %d)", config.Address, config.Database)
	return store, nil
}

// Get returns the value stored under key.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return data, nil
}

// Set stores value under key. A ttl of zero means no expiry.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

// Clear removes all keys matching pattern using SCAN to avoid blocking the
// server on large keyspaces.
func (r *RedisStore) Clear(ctx context.Context, pattern string) error {
	if pattern == "" {
		return ErrInvalidKey
	}

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	pipe := r.client.Pipeline()
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan pattern %q: %w", pattern, err)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear pattern %q: %w", pattern, err)
	}
	return nil
}

// CheckConnection verifies the store connection is healthy.
func (r *RedisStore) CheckConnection(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases resources held by the store.
func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
