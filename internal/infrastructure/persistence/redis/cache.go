// Package redis holds the Redis-backed helpers of the streak engine: the
// ledger read-through cache, per-user and per-job locks, and the daily
// notification counter. Every key lives under the "streak:" namespace.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig targets a local Redis.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// NewClient dials Redis and fails unless PING answers within DialTimeout.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheConnection, cfg.Addr, err)
	}
	return client, nil
}

var (
	ErrCacheMiss       = errors.New("cache: miss")
	ErrCacheConnection = errors.New("cache: connection failed")
	ErrCacheCodec      = errors.New("cache: cannot encode or decode value")
)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS
// ══════════════════════════════════════════════════════════════════════════════

const namespace = "streak:"

const (
	// TTLLedgerCache bounds staleness if an invalidation is lost.
	TTLLedgerCache = 10 * time.Minute

	// TTLUserLock must outlive the longest unit of work.
	TTLUserLock = 10 * time.Second
)

func LedgerKey(userID string) string      { return namespace + "ledger:" + userID }
func LockKey(resource string) string      { return namespace + "lock:" + resource }
func NotifyCountKey(suffix string) string { return namespace + "notify:" + suffix }

// ══════════════════════════════════════════════════════════════════════════════
// JSON CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache stores JSON documents with a TTL.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache { return &Cache{client: client} }

// Client exposes the connection for the lock and counter helpers.
func (c *Cache) Client() *redis.Client { return c.client }

// Ping backs the "redis" health check.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Set writes value under key. A zero ttl keeps the key until deleted.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCacheCodec, key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// A document written by an older layout is treated as absent.
		_ = c.client.Del(ctx, key).Err()
		return fmt.Errorf("%w: %s: %v", ErrCacheMiss, key, err)
	}
	return nil
}

// Delete removes keys; missing keys are ignored.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
