package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// One user gets at most ConnRateLimitMax handshakes per window. Counted in
// Redis so the limit holds across API replicas.
const (
	ConnRateLimitWindow = 60 * time.Second
	ConnRateLimitMax    = 30
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// AllowConnect counts ws_conn:{userID} with INCR; the first hit in a window
// sets the expiry.
func (c *Client) AllowConnect(ctx context.Context, userID string) (bool, error) {
	key := "ws_conn:" + userID
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, ConnRateLimitWindow)
	}
	return n <= int64(ConnRateLimitMax), nil
}
