package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// MarketCache is a size- and TTL-bounded read cache of markets.
type MarketCache struct {
	lru *expirable.LRU[string, domain.Market]
}

// NewMarketCache caches up to size markets for ttl each.
func NewMarketCache(size int, ttl time.Duration) *MarketCache {
	return &MarketCache{lru: expirable.NewLRU[string, domain.Market](size, nil, ttl)}
}

func (c *MarketCache) Set(_ context.Context, m domain.Market) error {
	if m.TotalWeight != nil {
		m.TotalWeight = m.TotalWeight.Clone()
	}
	c.lru.Add(m.ID, m)
	return nil
}

func (c *MarketCache) Get(_ context.Context, id string) (domain.Market, error) {
	m, ok := c.lru.Get(id)
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: cached market %s: %w", id, domain.ErrNotFound)
	}
	if m.TotalWeight != nil {
		m.TotalWeight = m.TotalWeight.Clone()
	}
	return m, nil
}

func (c *MarketCache) Invalidate(_ context.Context, id string) error {
	c.lru.Remove(id)
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
