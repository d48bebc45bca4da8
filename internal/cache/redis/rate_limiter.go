package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

// RateLimiter keeps each key's recent hits in a sorted set. The Lua script
// trims, counts and records in one round trip, so replicas of the API share
// a single budget per caller.
type RateLimiter struct {
	c   *Client
	now func() time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter returns a limiter over c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

// Allow admits the request when fewer than limit hits fall inside window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := slidingWindow.Run(ctx, rl.c.rdb,
		[]string{rl.c.key(key)},
		rl.now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) == 0 {
		return false, fmt.Errorf("redis: rate limit %s: empty script reply", key)
	}
	return res[0] == 1, nil
}
