// Package rediscache implements guard.Cache on Redis so several warren
// processes share table snapshots.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hay-kot/warren/internal/core/codec"
	"github.com/hay-kot/warren/internal/core/guard"
)

const keyPrefix = "warren:cache:"

// Cache stores CBOR-encoded guard entries in Redis.
type Cache struct {
	client *redis.Client
}

// New connects to redisURL and pings it.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func cacheKey(key string) string {
	return keyPrefix + key
}

// Get implements guard.Cache.
func (c *Cache) Get(ctx context.Context, key string) (guard.Entry, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return guard.Entry{}, false, nil
		}
		return guard.Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var entry guard.Entry
	if err := codec.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is a miss; the next Set overwrites it.
		return guard.Entry{}, false, nil
	}

	return entry, true, nil
}

// Set implements guard.Cache.
func (c *Cache) Set(ctx context.Context, key string, entry guard.Entry, ttl time.Duration) error {
	data, err := codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements guard.Cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
