package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/InterNations/DataGridBundle/pkg/cache"
	"github.com/InterNations/DataGridBundle/pkg/grid"
)

// Store persists grid buckets per session
type Store interface {
	Load(ctx context.Context, sessionID, gridHash string) (grid.Bucket, error)
	Apply(ctx context.Context, sessionID, gridHash string, patch grid.Patch) error
}

// Bind returns the grid.Session of one session id
func Bind(store Store, sessionID string) grid.Session {
	return &bound{store: store, id: sessionID}
}

type bound struct {
	store Store
	id    string
}

func (b *bound) Load(ctx context.Context, hash string) (grid.Bucket, error) {
	return b.store.Load(ctx, b.id, hash)
}

func (b *bound) Apply(ctx context.Context, hash string, patch grid.Patch) error {
	return b.store.Apply(ctx, b.id, hash, patch)
}

// DefaultKeyPrefix namespaces bucket keys in a shared cache
const DefaultKeyPrefix = "session"

// Key is the storage key of one grid bucket
func Key(sessionID, gridHash string) string {
	return prefixedKey(DefaultKeyPrefix, sessionID, gridHash)
}

func prefixedKey(prefix, sessionID, gridHash string) string {
	return prefix + ":" + sessionID + ":" + gridHash
}

// CacheStore keeps each bucket as JSON in a cache provider. Concurrent
// requests of one session race on the bucket; the last write wins.
type CacheStore struct {
	provider cache.Provider
	ttl      time.Duration
	prefix   string
}

func NewCacheStore(provider cache.Provider, ttl time.Duration) *CacheStore {
	return &CacheStore{provider: provider, ttl: ttl, prefix: DefaultKeyPrefix}
}

// WithPrefix replaces the key prefix
func (s *CacheStore) WithPrefix(prefix string) *CacheStore {
	if prefix != "" {
		s.prefix = prefix
	}
	return s
}

func (s *CacheStore) Load(ctx context.Context, sessionID, gridHash string) (grid.Bucket, error) {
	data, ok := s.provider.Get(ctx, prefixedKey(s.prefix, sessionID, gridHash))
	if !ok {
		return grid.Bucket{}, nil
	}
	var bucket grid.Bucket
	if err := json.Unmarshal(data, &bucket); err != nil {
		return nil, fmt.Errorf("failed to decode session bucket %s: %w", gridHash, err)
	}
	if bucket == nil {
		bucket = grid.Bucket{}
	}
	return bucket, nil
}

func (s *CacheStore) Apply(ctx context.Context, sessionID, gridHash string, patch grid.Patch) error {
	if patch.IsEmpty() {
		return nil
	}
	current, err := s.Load(ctx, sessionID, gridHash)
	if err != nil {
		current = grid.Bucket{}
	}

	key := prefixedKey(s.prefix, sessionID, gridHash)
	next := patch.Apply(current)
	if len(next) == 0 {
		return s.provider.Delete(ctx, key)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode session bucket %s: %w", gridHash, err)
	}
	return s.provider.Set(ctx, key, data, s.ttl)
}

// MemoryStore keeps buckets in process
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]grid.Bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: map[string]grid.Bucket{}}
}

func (m *MemoryStore) Load(_ context.Context, sessionID, gridHash string) (grid.Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buckets[Key(sessionID, gridHash)].Clone(), nil
}

func (m *MemoryStore) Apply(_ context.Context, sessionID, gridHash string, patch grid.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(sessionID, gridHash)
	next := patch.Apply(m.buckets[key])
	if len(next) == 0 {
		delete(m.buckets, key)
		return nil
	}
	m.buckets[key] = next
	return nil
}
