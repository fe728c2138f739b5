// Package redis caches successful orchestration responses in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

const defaultTTL = 10 * time.Minute

// Options configures the Redis connection and entry lifetime.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	// Prefix is prepended to every key.
	Prefix string
}

type client interface {
	Get(ctx context.Context, key string) *redisv8.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redisv8.StatusCmd
	Ping(ctx context.Context) *redisv8.StatusCmd
	Close() error
}

// Cache implements ranking.ResponseCache.
type Cache struct {
	client client
	ttl    time.Duration
	prefix string
}

// New dials Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Cache, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	c := redisv8.NewClient(&redisv8.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(c, opts), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c client, opts Options) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: c, ttl: ttl, prefix: opts.Prefix}
}

// Get returns the cached response for key. A missing key is not an error.
func (c *Cache) Get(ctx context.Context, key string) (ranking.Response, bool, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redisv8.Nil) {
		return ranking.Response{}, false, nil
	}
	if err != nil {
		return ranking.Response{}, false, fmt.Errorf("redis get: %w", err)
	}
	var resp ranking.Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return ranking.Response{}, false, fmt.Errorf("decode cached response: %w", err)
	}
	return resp, true, nil
}

// Set stores resp under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, resp ranking.Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
