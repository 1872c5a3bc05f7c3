package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ── MemoryStore — basic operations ──

func TestMemoryStoreSetGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "1" {
		t.Errorf("Get = %q, want %q", got, "1")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreEmptyKey(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Get(ctx, ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Get(\"\") = %v, want ErrInvalidKey", err)
	}
	if err := s.Set(ctx, "", nil, 0); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Set(\"\") = %v, want ErrInvalidKey", err)
	}
}

// ── MemoryStore — TTL ──

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "short", []byte("x"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := s.Get(ctx, "short"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if _, err := s.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after expiry = %v, want ErrNotFound", err)
	}
}

// ── MemoryStore — Clear ──

func TestMemoryStoreClearPrefix(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "ratelimit:llm:minute:x", []byte("1"), 0)
	_ = s.Set(ctx, "ratelimit:llm:active", []byte("2"), 0)
	_ = s.Set(ctx, "ratelimit:vectorStore:active", []byte("3"), 0)

	if err := s.Clear(ctx, "ratelimit:llm:*"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if _, err := s.Get(ctx, "ratelimit:llm:active"); !errors.Is(err, ErrNotFound) {
		t.Error("llm keys should be cleared")
	}
	if _, err := s.Get(ctx, "ratelimit:vectorStore:active"); err != nil {
		t.Errorf("vectorStore keys should survive: %v", err)
	}
}

func TestMemoryStoreClearExact(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"), 0)
	_ = s.Set(ctx, "ab", []byte("2"), 0)

	if err := s.Clear(ctx, "a"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Error("exact key should be cleared")
	}
	if _, err := s.Get(ctx, "ab"); err != nil {
		t.Errorf("non-matching key should survive: %v", err)
	}
}

// ── MemoryStore — isolation ──

func TestMemoryStoreValueCopied(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	value := []byte("orig")
	_ = s.Set(ctx, "k", value, 0)
	value[0] = 'X'

	got, _ := s.Get(ctx, "k")
	if string(got) != "orig" {
		t.Errorf("stored value mutated through caller slice: %q", got)
	}

	got[0] = 'Y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "orig" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}
}

// ── Factory ──

func TestFactoryDefaultsToMemory(t *testing.T) {
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("New(empty config) = %T, want *MemoryStore", s)
	}
}

func TestFactoryUnknownBackend(t *testing.T) {
	if _, err := New(Config{BackendType: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(Config{BackendType: MemoryBackendType}); err != nil {
		t.Errorf("memory config should validate: %v", err)
	}
	if err := ValidateConfig(Config{BackendType: RedisBackendType}); err == nil {
		t.Error("redis config without address should fail validation")
	}
	if err := ValidateConfig(Config{
		BackendType: RedisBackendType,
		Redis:       RedisConfig{Address: "localhost:6379"},
	}); err != nil {
		t.Errorf("redis config with address should validate: %v", err)
	}
}
