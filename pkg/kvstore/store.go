// Package kvstore provides the shared state store consumed by the
// distributed rate-limit backend. It supports pluggable backends including
// memory and Redis; multiple broker processes pointed at the same Redis
// instance share one view of rate-limit counters.
package kvstore

import (
	"context"
	"time"
)

// Store is a minimal key/value capability with per-key TTL.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Clear removes all keys matching pattern. The only wildcard is a
	// trailing "*" (prefix match); a pattern without it matches exactly.
	Clear(ctx context.Context, pattern string) error

	// CheckConnection verifies the store is reachable.
	CheckConnection(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// BackendType defines available store backends.
type BackendType string

const (
	// MemoryBackendType is the in-process store backend.
	MemoryBackendType BackendType = "memory"

	// RedisBackendType is the Redis store backend.
	RedisBackendType BackendType = "redis"
)

// Config contains configuration for creating a store.
type Config struct {
	// BackendType specifies which store implementation to use.
	BackendType BackendType `yaml:"backend"`

	// Redis backend configuration.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains configuration for the Redis store.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379").
	Address string `yaml:"address"`

	// Database is the Redis database number.
	Database int `yaml:"database"`

	// Password is the Redis password.
	Password string `yaml:"password"`
}
