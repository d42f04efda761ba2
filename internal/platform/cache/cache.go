// Package cache wraps an optional Redis client used for cross-worker
// coordination (pairing-code rate limiting) when a station runs more
// than one API process in front of the same event store. A station
// with REDIS_URL unset runs with this nil and every caller falls back
// to in-process state.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a redis.Client for the narrow set of operations the
// station core needs.
type Client struct {
	c *redis.Client
}

// New parses url and opens a client. Returns an error if the URL is
// malformed; callers should log and continue without Redis rather than
// fail station startup.
func New(url string) (*Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid REDIS_URL: %w", err)
	}
	return &Client{c: redis.NewClient(opt)}, nil
}

// Ping verifies connectivity within a short timeout.
func (c *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.c.Ping(ctx).Err()
}

// IncrWithExpiry atomically increments key and, on its first increment,
// sets its expiry to window. Used for sliding-window-ish coordinated
// rate limiting across multiple station API workers sharing one Redis.
func (c *Client) IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error) {
	script := redis.NewScript(`local n = redis.call("INCR", KEYS[1])
if n == 1 then redis.call("PEXPIRE", KEYS[1], ARGV[1]) end
return n`)
	n, err := script.Run(ctx, c.c, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("cache: incr %s: %w", key, err)
	}
	return n, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.c.Close()
}
