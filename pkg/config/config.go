// Package config loads broker deployment configuration from YAML:
// which rate-limit backend and state store to use, and the per-resource
// limits, retry policy, and timeout to register.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plugrun/resource-broker/pkg/kvstore"
	"github.com/plugrun/resource-broker/pkg/ratelimit"
	"github.com/plugrun/resource-broker/pkg/retry"
	"github.com/plugrun/resource-broker/pkg/vectordb"
)

// RetryPolicy is the YAML shape of a retry configuration. Durations are
// milliseconds; zero values fall back to the rate-limit preset at
// registration time.
type RetryPolicy struct {
	MaxRetries  int     `yaml:"max_retries"`
	BaseDelayMs int     `yaml:"base_delay_ms"`
	MaxDelayMs  int     `yaml:"max_delay_ms"`
	Jitter      float64 `yaml:"jitter"`
}

// Backoff converts the policy to a retry.BackoffConfig.
func (p RetryPolicy) Backoff() retry.BackoffConfig {
	return retry.BackoffConfig{
		MaxRetries: p.MaxRetries,
		BaseDelay:  time.Duration(p.BaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(p.MaxDelayMs) * time.Millisecond,
		Jitter:     p.Jitter,
	}
}

// Resource is the YAML registration for one named resource.
type Resource struct {
	RateLimits     ratelimit.Config `yaml:"rate_limits"`
	Retry          RetryPolicy      `yaml:"retry"`
	TimeoutSeconds int              `yaml:"timeout_seconds"`
}

// Timeout returns the configured executor timeout, zero when unset.
func (r Resource) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Client points a resource at an OpenAI-compatible endpoint. The API
// key is read from the named environment variable, never from the file.
type Client struct {
	Endpoint  string `yaml:"endpoint"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey resolves the key from the environment, empty when unset.
func (c Client) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Clients groups the endpoint configuration per resource kind.
type Clients struct {
	LLM       Client `yaml:"llm"`
	Embedding Client `yaml:"embedding"`
}

// Config is the root configuration document.
type Config struct {
	// RateLimitBackend is "local" (default) or "distributed".
	RateLimitBackend string `yaml:"rate_limit_backend"`

	// Clients configures the upstream endpoints the queued wrappers call.
	Clients Clients `yaml:"clients"`

	// Store configures the shared state store for the distributed
	// backend. Ignored when RateLimitBackend is "local".
	Store kvstore.Config `yaml:"store"`

	// VectorStore configures the vector index backend.
	VectorStore vectordb.Config `yaml:"vector_store"`

	// Resources maps resource names to their registrations.
	Resources map[string]Resource `yaml:"resources"`
}

// Parse decodes a YAML document into a Config without validating it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks the document for values the runtime would reject.
func (c *Config) Validate() error {
	switch c.RateLimitBackend {
	case "", "local":
	case "distributed":
		if err := kvstore.ValidateConfig(c.Store); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	default:
		return fmt.Errorf("unsupported rate limit backend: %s", c.RateLimitBackend)
	}

	for name, res := range c.Resources {
		if name == "" {
			return fmt.Errorf("resource with empty name")
		}
		if err := res.RateLimits.Validate(); err != nil {
			return fmt.Errorf("resource %s: %w", name, err)
		}
		if res.Retry.MaxRetries < 0 {
			return fmt.Errorf("resource %s: max_retries must not be negative", name)
		}
		if res.Retry.Jitter < 0 || res.Retry.Jitter > 1 {
			return fmt.Errorf("resource %s: jitter must be in [0,1], got %v", name, res.Retry.Jitter)
		}
		if res.TimeoutSeconds < 0 {
			return fmt.Errorf("resource %s: timeout_seconds must not be negative", name)
		}
	}
	return nil
}

// Backend builds the rate-limit backend the document selects.
func (c *Config) Backend() (ratelimit.Backend, error) {
	switch c.RateLimitBackend {
	case "", "local":
		return ratelimit.NewLocalBackend(), nil
	case "distributed":
		store, err := kvstore.New(c.Store)
		if err != nil {
			return nil, err
		}
		return ratelimit.NewDistributedBackend(store), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", c.RateLimitBackend)
	}
}
