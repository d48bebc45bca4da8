package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

//go:embed scripts/cache_set.lua
var cacheSetLua string

var cacheSet = redis.NewScript(cacheSetLua)

// fenceTTL is how long an invalidated market refuses new cache entries. A
// reader that loaded the market before the write committed cannot put the
// old state back during this window.
const fenceTTL = 2 * time.Second

// MarketCache keeps JSON-encoded markets under "market:{id}".
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

var _ domain.MarketCache = (*MarketCache)(nil)

// NewMarketCache caches each market for ttl.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) entryKey(id string) string { return mc.c.key("market:", id) }
func (mc *MarketCache) fenceKey(id string) string { return mc.c.key("market-fence:", id) }

// Set caches m unless the market was invalidated within the fence window.
func (mc *MarketCache) Set(ctx context.Context, m domain.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: cache market %s: %w", m.ID, err)
	}
	err = cacheSet.Run(ctx, mc.c.rdb,
		[]string{mc.entryKey(m.ID), mc.fenceKey(m.ID)},
		data, mc.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: cache market %s: %w", m.ID, err)
	}
	return nil
}

// Get misses with domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.c.rdb.Get(ctx, mc.entryKey(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return domain.Market{}, fmt.Errorf("redis: cached market %s: %w", id, domain.ErrNotFound)
	case err != nil:
		return domain.Market{}, fmt.Errorf("redis: cached market %s: %w", id, err)
	}
	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: decode cached market %s: %w", id, err)
	}
	return m, nil
}

// Invalidate drops the entry and raises the fence in one transaction.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	_, err := mc.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, mc.entryKey(id))
		p.Set(ctx, mc.fenceKey(id), 1, fenceTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}
