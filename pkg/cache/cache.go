package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/InterNations/DataGridBundle/pkg/config"
)

// ErrNotFound is returned by Cache.Get when the key is missing or expired
var ErrNotFound = errors.New("cache: key not found")

// Cache stores JSON-encoded values on top of a Provider
type Cache struct {
	provider Provider
}

func NewCache(provider Provider) *Cache {
	return &Cache{provider: provider}
}

func (c *Cache) Provider() Provider {
	return c.provider
}

// Get decodes the value stored under key into dest
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, ok := c.provider.Get(ctx, key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to deserialize %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.SetWithTags(ctx, key, value, ttl, nil)
}

func (c *Cache) SetWithTags(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", key, err)
	}
	if len(tags) == 0 {
		return c.provider.Set(ctx, key, data, ttl)
	}
	return c.provider.SetWithTags(ctx, key, data, ttl, tags)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.provider.Delete(ctx, key)
}

func (c *Cache) DeleteByTag(ctx context.Context, tag string) error {
	return c.provider.DeleteByTag(ctx, tag)
}

func (c *Cache) Close() error {
	return c.provider.Close()
}

// NewProviderFromConfig builds the provider named by cfg.Provider
func NewProviderFromConfig(cfg config.CacheConfig, opts *Options) (Provider, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewMemoryProvider(opts), nil
	case "redis":
		return NewRedisProvider(&RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Options:  opts,
		})
	case "memcache":
		return NewMemcacheProvider(&MemcacheConfig{
			Servers:      cfg.Memcache.Servers,
			MaxIdleConns: cfg.Memcache.MaxIdleConns,
			Timeout:      cfg.Memcache.Timeout,
			Options:      opts,
		})
	default:
		return nil, fmt.Errorf("unknown cache provider: %s", cfg.Provider)
	}
}
