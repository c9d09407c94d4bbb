// Package redis wraps go-redis with the small API the service uses.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client is a thin wrapper over a go-redis client
type Client struct {
	rdb *goredis.Client
}

// New connects to the Redis server at url (redis://[:password@]host:port/db).
// It does not wait for the server to answer; use Ping for that.
func New(url string) (*Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return &Client{rdb: goredis.NewClient(opts)}, nil
}

// Get returns the value at key, or "" when the key does not exist
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return v, err
}

// SetEx stores value at key with a TTL
func (c *Client) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Del removes keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// HGet returns a hash field, or "" when missing
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := c.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return v, err
}

// HIncrBy increments a hash field
func (c *Client) HIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	return c.rdb.HIncrBy(ctx, key, field, n).Result()
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}
