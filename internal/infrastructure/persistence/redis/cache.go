// Package redis implements the Redis side of the progression engine: the
// sorted-set leaderboard cache and event fan-out over pub/sub.
//
// Key components:
//   - Cache: the client plus the few JSON and lock helpers the engine needs
//   - LeaderboardCache: ranked reads from sorted sets, rebuilt from the store on a miss
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection settings. Zero pool and timeout values keep
// go-redis defaults.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr returns "host:port".
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheMiss is returned when a key holds nothing.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection wraps a failed initial ping.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization wraps a JSON encode or decode failure.
	ErrCacheSerialization = errors.New("cache: serialization failed")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS AND TTLs
// ══════════════════════════════════════════════════════════════════════════════

const (
	PrefixLeaderboard = "leaderboard:"
	PrefixLock        = "lock:"
	PrefixPubSub      = "progression:"
)

const (
	// TTLLeaderboardCache bounds how stale a cached ranking may get.
	TTLLeaderboardCache = 5 * time.Minute

	// TTLRebuildLock bounds how long one rebuild may hold the lock.
	TTLRebuildLock = 30 * time.Second
)

func LockKey(resource string) string { return PrefixLock + resource }

// PubSubChannel names the channel an event type is forwarded to.
func PubSubChannel(eventType string) string { return PrefixPubSub + eventType }

// ══════════════════════════════════════════════════════════════════════════════
// CACHE CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Cache wraps a go-redis client. Sorted-set work goes through Client
// directly. The helpers here cover JSON values, locks and pub/sub.
type Cache struct {
	client *redis.Client
}

// NewCache dials Redis and pings it once, bounded by DialTimeout.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client { return c.client }

func (c *Cache) Close() error { return c.client.Close() }

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return data, nil
}

// Get decodes the JSON stored under key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

// SetNX stores value as JSON only if key is free. It backs the rebuild lock.
func (c *Cache) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	data, err := encode(value)
	if err != nil {
		return false, err
	}
	return c.client.SetNX(ctx, key, data, ttl).Result()
}

// Publish sends message as JSON on channel.
func (c *Cache) Publish(ctx context.Context, channel string, message any) error {
	data, err := encode(message)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, channel, data).Err()
}
