package cache

import (
	"context"
	"time"
)

// Provider is a byte-oriented key/value store with TTL and tag invalidation.
// Session buckets and cached totals each get their own Provider.
type Provider interface {
	// Get returns nil, false when the key is missing or expired.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value. A zero ttl falls back to the provider's DefaultTTL,
	// a negative ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetWithTags stores value and registers key under every tag.
	SetWithTags(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error

	Delete(ctx context.Context, key string) error

	// DeleteByTag removes every key registered under tag.
	DeleteByTag(ctx context.Context, tag string) error

	Exists(ctx context.Context, key string) bool
	Close() error
	Stats(ctx context.Context) (*CacheStats, error)
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Hits          int64          `json:"hits"`
	Misses        int64          `json:"misses"`
	Keys          int64          `json:"keys"`
	ProviderType  string         `json:"provider_type"`
	ProviderStats map[string]any `json:"provider_stats,omitempty"`
}

// Options contains configuration options for cache providers.
type Options struct {
	DefaultTTL time.Duration

	// MaxSize bounds the in-memory provider; the least recently used key is evicted.
	MaxSize int
}

func defaultOptions() *Options {
	return &Options{DefaultTTL: 5 * time.Minute, MaxSize: 10000}
}

func resolveTTL(ttl time.Duration, opts *Options) time.Duration {
	if ttl == 0 {
		return opts.DefaultTTL
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}
