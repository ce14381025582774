package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/vietddude/requeue/internal/core/domain"
)

// Client wraps the Redis connection shared by all queues.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NewClient connects to Redis, retrying the initial ping with exponential backoff.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	backoff := retry.WithMaxRetries(4, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg.KeyPrefix), nil
}

func newClient(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "requeue"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers. Every key of a queue and of its poison queue carries the
// same {hash tag}, so the Lua scripts only touch a single cluster slot.
func hashTag(queue string) string {
	return strings.TrimSuffix(queue, domain.PoisonQueueName(""))
}

func (c *Client) visibleKey(queue string) string {
	return fmt.Sprintf("%s:{%s}:%s:visible", c.prefix, hashTag(queue), queue)
}

func (c *Client) messagePrefix(queue string) string {
	return fmt.Sprintf("%s:{%s}:%s:msg:", c.prefix, hashTag(queue), queue)
}

func (c *Client) messageKey(queue, id string) string {
	return c.messagePrefix(queue) + id
}
