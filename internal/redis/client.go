// Package redis wraps the go-redis client used for the stream lock, the
// event mirror and the shared status snapshot.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"stream-bridge/internal/common/errors"
)

// Nil is returned by reads of a missing key.
const Nil = redis.Nil

// Client is the shared Redis connection.
type Client struct {
	rdb *redis.Client
}

// Config mirrors the REDIS_* settings.
type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

const pingTimeout = 5 * time.Second

// NewClient dials Redis and pings it once. A server that does not answer
// is a connection error; callers that configured Redis treat it as fatal.
func NewClient(ctx context.Context, config Config) (*Client, error) {
	if config.Address == "" {
		return nil, errors.ConfigError("redis address is required")
	}
	if config.DB < 0 || config.DB > 15 {
		return nil, errors.ConfigError(fmt.Sprintf("redis db %d out of range 0-15", config.DB))
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        config.Address,
		Password:    config.Password,
		DB:          config.DB,
		PoolSize:    config.PoolSize,
		DialTimeout: pingTimeout,
	})

	c := &Client{rdb: rdb}
	if err := c.Health(ctx); err != nil {
		rdb.Close()
		return nil, errors.ConnectionError(fmt.Sprintf("redis at %s is unreachable", config.Address), err)
	}
	return c, nil
}

// PoolSize reports the configured connection pool size.
func (c *Client) PoolSize() int {
	return c.rdb.Options().PoolSize
}

// GetGoRedisClient exposes the underlying client for libraries that build
// on go-redis directly.
func (c *Client) GetGoRedisClient() *redis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// XAdd appends values to stream, trimming it to roughly maxLen entries when
// maxLen is positive. It returns the entry ID.
func (c *Client) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return id, nil
}

// SetJSON stores value as JSON under key.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.rdb.Set(ctx, key, data, expiration).Err()
}

// GetJSON decodes the JSON stored under key into dest. A missing key
// returns Nil.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}
