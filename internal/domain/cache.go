package domain

import (
	"context"
	"time"
)

// MarketCache holds recently read markets. Get misses with ErrNotFound;
// writers Invalidate after every committed change to the market.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter counts requests per key over a sliding window. Allow records
// the request only when it is admitted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager serializes writers of a single record. Acquire fails with
// ErrLockHeld instead of blocking when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one replayable event; ID orders entries within a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans engine events out live over channels and keeps a bounded
// stream of them for clients that reconnect.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
