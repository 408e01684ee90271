package memory

import (
	"context"
	"sync"
	"time"
)

const (
	connRateLimitWindow = 60 * time.Second
	connRateLimitMax    = 30
)

// Client is the in-process twin of the Redis throttle store, used in -dev
// mode. Per-process only; fine for a single instance.
type Client struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func New() *Client {
	return &Client{attempts: make(map[string][]time.Time)}
}

func (c *Client) Close() error { return nil }

func (c *Client) AllowConnect(ctx context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	cut := now.Add(-connRateLimitWindow)
	kept := c.attempts[userID][:0]
	for _, t := range c.attempts[userID] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= connRateLimitMax {
		c.attempts[userID] = kept
		return false, nil
	}
	c.attempts[userID] = append(kept, now)
	return true, nil
}
