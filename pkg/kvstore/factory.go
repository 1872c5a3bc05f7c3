package kvstore

import (
	"fmt"

	"github.com/plugrun/resource-broker/pkg/observability/logging"
)

// New creates a store based on the configuration.
func New(config Config) (Store, error) {
	switch config.BackendType {
	case MemoryBackendType, "":
		logging.Debugf("Creating in-process kv store")
		return NewMemoryStore(), nil

	case RedisBackendType:
		logging.Infof("Creating Redis kv store at %s", config.Redis.Address)
		return NewRedisStore(config.Redis)

	default:
		return nil, fmt.Errorf("unknown store backend type: %s (supported: memory, redis)", config.BackendType)
	}
}

// ValidateConfig validates the store configuration.
func ValidateConfig(config Config) error {
	switch config.BackendType {
	case MemoryBackendType, "":
		return nil

	case RedisBackendType:
		if config.Redis.Address == "" {
			return fmt.Errorf("redis address is required for redis backend")
		}
		return nil

	default:
		return fmt.Errorf("unknown store backend type: %s", config.BackendType)
	}
}
