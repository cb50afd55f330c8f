package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheProvider stores entries in memcached. Memcached has no sets, so a
// tag is a JSON list of keys stored under "tag:<tag>" and updated with
// compare-and-swap.
type MemcacheProvider struct {
	client  *memcache.Client
	options *Options
}

// MemcacheConfig contains Memcache-specific configuration.
type MemcacheConfig struct {
	Servers      []string
	MaxIdleConns int
	Timeout      time.Duration
	Options      *Options
}

const casRetries = 5

func NewMemcacheProvider(config *MemcacheConfig) (*MemcacheProvider, error) {
	if config == nil {
		config = &MemcacheConfig{}
	}
	if len(config.Servers) == 0 {
		config.Servers = []string{"localhost:11211"}
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 2
	}
	if config.Timeout == 0 {
		config.Timeout = time.Second
	}
	if config.Options == nil {
		config.Options = defaultOptions()
	}

	client := memcache.New(config.Servers...)
	client.MaxIdleConns = config.MaxIdleConns
	client.Timeout = config.Timeout

	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to Memcache: %w", err)
	}

	return &MemcacheProvider{client: client, options: config.Options}, nil
}

func memcacheTagKey(tag string) string { return "tag:" + tag }

func (m *MemcacheProvider) expiration(ttl time.Duration) int32 {
	return int32(resolveTTL(ttl, m.options).Seconds())
}

func (m *MemcacheProvider) Get(ctx context.Context, key string) ([]byte, bool) {
	item, err := m.client.Get(key)
	if err != nil {
		return nil, false
	}
	return item.Value, true
}

func (m *MemcacheProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.client.Set(&memcache.Item{Key: key, Value: value, Expiration: m.expiration(ttl)})
}

func (m *MemcacheProvider) SetWithTags(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if err := m.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	for _, tag := range tags {
		if err := m.addToTag(tag, key); err != nil {
			return fmt.Errorf("failed to tag %s with %s: %w", key, tag, err)
		}
	}
	return nil
}

func (m *MemcacheProvider) addToTag(tag, key string) error {
	tagKey := memcacheTagKey(tag)
	for i := 0; i < casRetries; i++ {
		item, err := m.client.Get(tagKey)
		if errors.Is(err, memcache.ErrCacheMiss) {
			data, _ := json.Marshal([]string{key})
			err = m.client.Add(&memcache.Item{Key: tagKey, Value: data})
			if errors.Is(err, memcache.ErrNotStored) {
				continue
			}
			return err
		}
		if err != nil {
			return err
		}

		var keys []string
		if err := json.Unmarshal(item.Value, &keys); err != nil {
			keys = nil
		}
		for _, k := range keys {
			if k == key {
				return nil
			}
		}
		item.Value, _ = json.Marshal(append(keys, key))
		err = m.client.CompareAndSwap(item)
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			continue
		}
		return err
	}
	return memcache.ErrCASConflict
}

func (m *MemcacheProvider) Delete(ctx context.Context, key string) error {
	err := m.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

func (m *MemcacheProvider) DeleteByTag(ctx context.Context, tag string) error {
	item, err := m.client.Get(memcacheTagKey(tag))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return err
	}

	var keys []string
	if err := json.Unmarshal(item.Value, &keys); err != nil {
		return fmt.Errorf("corrupt tag %s: %w", tag, err)
	}
	for _, key := range append(keys, memcacheTagKey(tag)) {
		if err := m.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemcacheProvider) Exists(ctx context.Context, key string) bool {
	_, err := m.client.Get(key)
	return err == nil
}

func (m *MemcacheProvider) Close() error {
	return m.client.Close()
}

func (m *MemcacheProvider) Stats(ctx context.Context) (*CacheStats, error) {
	return &CacheStats{ProviderType: "memcache"}, nil
}
