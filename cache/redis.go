package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Redis-backed Cache, for sharing memoized trial
// results across optimizer or eval runs on different machines.
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	stats      Stats
	statsLock  sync.RWMutex
}

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addrs    []string // single node: one address; cluster: several
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	KeyPrefix  string
	DefaultTTL time.Duration
}

// NewRedisCache dials addr and returns a RedisCache, failing fast if the
// connection cannot be established.
func NewRedisCache(addr, password string, db int, defaultTTL time.Duration) (*RedisCache, error) {
	return NewRedisCacheWithOptions(&RedisOptions{
		Addrs: []string{addr}, Password: password, DB: db, DefaultTTL: defaultTTL,
	})
}

// NewRedisCacheWithOptions dials opts.Addrs (a cluster client when more
// than one address is given) and returns a RedisCache.
func NewRedisCacheWithOptions(opts *RedisOptions) (*RedisCache, error) {
	if opts == nil {
		return nil, fmt.Errorf("cache: redis options cannot be nil")
	}
	if len(opts.Addrs) == 0 {
		opts.Addrs = []string{"localhost:6379"}
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = 5
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "agentrun"
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = 5 * time.Minute
	}

	var client redis.UniversalClient
	if len(opts.Addrs) == 1 {
		client = redis.NewClient(&redis.Options{
			Addr: opts.Addrs[0], Password: opts.Password, DB: opts.DB,
			PoolSize: opts.PoolSize, MinIdleConns: opts.MinIdleConns,
			DialTimeout: opts.DialTimeout, ReadTimeout: opts.ReadTimeout, WriteTimeout: opts.WriteTimeout,
		})
	} else {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs: opts.Addrs, Password: opts.Password,
			PoolSize: opts.PoolSize, MinIdleConns: opts.MinIdleConns,
			DialTimeout: opts.DialTimeout, ReadTimeout: opts.ReadTimeout, WriteTimeout: opts.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}

	return &RedisCache{client: client, prefix: opts.KeyPrefix, defaultTTL: opts.DefaultTTL}, nil
}

// NewRedisCacheFromClient wraps an already-constructed redis.UniversalClient
// (e.g. miniredis's client in tests) without dialing.
func NewRedisCacheFromClient(client redis.UniversalClient, keyPrefix string, defaultTTL time.Duration) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "agentrun"
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &RedisCache{client: client, prefix: keyPrefix, defaultTTL: defaultTTL}
}

func (c *RedisCache) makeKey(key string) string { return fmt.Sprintf("%s:cache:%s", c.prefix, key) }

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.makeKey(key)).Result()
	if err == redis.Nil {
		c.statsLock.Lock()
		c.stats.Misses++
		c.statsLock.Unlock()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: redis get failed: %w", err)
	}
	c.statsLock.Lock()
	c.stats.Hits++
	c.statsLock.Unlock()
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, c.makeKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set failed: %w", err)
	}
	c.statsLock.Lock()
	c.stats.TotalWrites++
	c.statsLock.Unlock()
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.makeKey(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis delete failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Clear(ctx context.Context) error {
	pattern := c.makeKey("*")
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: redis scan failed: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache: redis delete batch failed: %w", err)
		}
	}
	c.statsLock.Lock()
	c.stats = Stats{}
	c.statsLock.Unlock()
	return nil
}

func (c *RedisCache) Stats() Stats {
	c.statsLock.RLock()
	defer c.statsLock.RUnlock()
	return c.stats
}

// Close releases the underlying Redis connection(s).
func (c *RedisCache) Close() error { return c.client.Close() }
