// Package idempotency provides request deduplication for mutating engine
// operations. Clients send an Idempotency-Key header; a replay with the same
// key and body gets the cached response, a replay with a different body gets
// a conflict.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// Result is the cached outcome of a completed operation.
type Result struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Store provides deduplication for mutating operations.
// The key format is "idem:{operation}:{key}".
type Store interface {
	// Check looks up a previous result by key. If the key exists and the
	// input hash matches, it returns the cached result. If the key exists
	// but the hash differs, it returns a conflict error.
	Check(ctx context.Context, key string, inputHash string) (result *Result, found bool, err error)

	// Store saves an operation result keyed by the idempotency key with a
	// TTL.
	Store(ctx context.Context, key string, inputHash string, result Result, ttl time.Duration) error
}

// entry is the stored value for an idempotency key.
type entry struct {
	InputHash string `json:"input_hash"`
	Result    Result `json:"result"`
}

// FormatKey builds the standard idempotency key.
func FormatKey(operation, key string) string {
	return fmt.Sprintf("idem:%s:%s", operation, key)
}

// HashInput derives the input hash of a request body.
func HashInput(body []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(body))
}

// --- MemoryStore ---

// MemoryStore is an in-memory Store with TTL support. Suitable for testing
// and single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
	}
}

// Check looks up a cached result. Returns conflict error if input hash
// differs.
func (s *MemoryStore) Check(_ context.Context, key string, inputHash string) (*Result, bool, error) {
	s.mu.RLock()
	e, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	// Check TTL.
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	if e.data.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	result := e.data.Result
	return &result, true, nil
}

// Store saves a result with TTL.
func (s *MemoryStore) Store(_ context.Context, key string, inputHash string, result Result, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memEntry{
		data: entry{
			InputHash: inputHash,
			Result:    result,
		},
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// --- RedisStore ---

// RedisStore is a Redis-backed Store with TTL.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a new Redis-backed idempotency store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Check looks up a cached result in Redis. Returns conflict error if input
// hash differs.
func (s *RedisStore) Check(ctx context.Context, key string, inputHash string) (*Result, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}

	if e.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	return &e.Result, true, nil
}

// Store saves a result in Redis with TTL.
func (s *RedisStore) Store(ctx context.Context, key string, inputHash string, result Result, ttl time.Duration) error {
	data, err := json.Marshal(entry{
		InputHash: inputHash,
		Result:    result,
	})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
