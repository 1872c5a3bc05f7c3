package vectordb

import "fmt"

// Config selects and configures a vector store backend.
type Config struct {
	// BackendType is "memory" (default) or "milvus".
	BackendType string `yaml:"backend_type"`

	// Dim is the vector dimension enforced by all backends.
	Dim int `yaml:"dim"`

	// Milvus holds connection parameters when BackendType is "milvus".
	Milvus MilvusOptions `yaml:"milvus"`
}

// New creates a vector store for the given configuration.
func New(cfg Config) (VectorStore, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", cfg.Dim)
	}

	switch cfg.BackendType {
	case "", "memory":
		return NewMemoryStore(cfg.Dim), nil
	case "milvus":
		opts := cfg.Milvus
		opts.Dim = cfg.Dim
		if opts.Collection == "" {
			opts.Collection = "broker_documents"
		}
		return NewMilvusStore(opts)
	default:
		return nil, fmt.Errorf("unsupported vector store backend: %s", cfg.BackendType)
	}
}
