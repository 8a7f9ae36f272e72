// Package rediscache is a TTL byte cache on Redis.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// TTL applies to every Set. Zero keeps entries until evicted.
	TTL time.Duration
}

// Cache stores values in Redis under their key.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New opens a client and checks connectivity with PING.
func New(ctx context.Context, opts Options) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("rediscache: ping %s: %w", opts.Addr, err)
	}
	return &Cache{client: client, ttl: opts.TTL}, nil
}

// Get returns the value for key. A missing key is ok=false with a nil error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rediscache: get: %w", err)
	}
	return b, true, nil
}

// Set stores val under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, val []byte) error {
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

// Close closes the client.
func (c *Cache) Close() error { return c.client.Close() }
