package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProvider stores entries in Redis. Tags are kept as sets under
// "cache:tag:<tag>", and each key's tags under "cache:tags:<key>".
type RedisProvider struct {
	client  redis.UniversalClient
	options *Options
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Options  *Options
}

// NewRedisProvider connects and pings the server
func NewRedisProvider(config *RedisConfig) (*RedisProvider, error) {
	if config == nil {
		config = &RedisConfig{}
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 6379
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisProviderWithClient(client, config.Options), nil
}

// NewRedisProviderWithClient wraps an existing client, e.g. a cluster client
func NewRedisProviderWithClient(client redis.UniversalClient, opts *Options) *RedisProvider {
	if opts == nil {
		opts = defaultOptions()
	}
	return &RedisProvider{client: client, options: opts}
}

func tagSetKey(tag string) string  { return "cache:tag:" + tag }
func keyTagsKey(key string) string { return "cache:tags:" + key }

func (r *RedisProvider) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (r *RedisProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, resolveTTL(ttl, r.options)).Err()
}

func (r *RedisProvider) SetWithTags(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	ttl = resolveTTL(ttl, r.options)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, tagSetKey(tag), key)
		if ttl > 0 {
			// outlive the members so DeleteByTag still finds them
			pipe.Expire(ctx, tagSetKey(tag), ttl+time.Hour)
		}
	}
	if len(tags) > 0 {
		members := make([]interface{}, len(tags))
		for i, tag := range tags {
			members[i] = tag
		}
		pipe.SAdd(ctx, keyTagsKey(key), members...)
		if ttl > 0 {
			pipe.Expire(ctx, keyTagsKey(key), ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisProvider) Delete(ctx context.Context, key string) error {
	tags, err := r.client.SMembers(ctx, keyTagsKey(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := r.client.TxPipeline()
	for _, tag := range tags {
		pipe.SRem(ctx, tagSetKey(tag), key)
	}
	pipe.Del(ctx, keyTagsKey(key), key)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisProvider) DeleteByTag(ctx context.Context, tag string) error {
	keys, err := r.client.SMembers(ctx, tagSetKey(tag)).Result()
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, key, keyTagsKey(key))
	}
	pipe.Del(ctx, tagSetKey(tag))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisProvider) Exists(ctx context.Context, key string) bool {
	n, err := r.client.Exists(ctx, key).Result()
	return err == nil && n > 0
}

func (r *RedisProvider) Close() error {
	return r.client.Close()
}

func (r *RedisProvider) Stats(ctx context.Context) (*CacheStats, error) {
	size, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB size: %w", err)
	}
	return &CacheStats{Keys: size, ProviderType: "redis"}, nil
}
