package memory

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

func TestLockManager_ExclusiveUntilUnlock(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()

	unlock, err := lm.Acquire(ctx, "market:1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "market:1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	other, err := lm.Acquire(ctx, "market:2", time.Minute)
	require.NoError(t, err)
	other()

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "market:1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManager_ExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()
	now := time.Unix(1_000, 0)
	lm.now = func() time.Time { return now }

	stale, err := lm.Acquire(ctx, "bet:1", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := lm.Acquire(ctx, "bet:1", time.Second)
	require.NoError(t, err)

	// The stale holder must not release the new lease.
	stale()
	_, err = lm.Acquire(ctx, "bet:1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	fresh()
}

func TestSignalBus_PatternSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus()

	all, err := bus.Subscribe(ctx, "events:*")
	require.NoError(t, err)
	one, err := bus.Subscribe(ctx, "events:bet_placed")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "events:market_created", []byte("m")))
	require.NoError(t, bus.Publish(ctx, "events:bet_placed", []byte("b")))
	require.NoError(t, bus.Publish(ctx, "other", []byte("x")))

	assert.Equal(t, []byte("m"), <-all)
	assert.Equal(t, []byte("b"), <-all)
	assert.Equal(t, []byte("b"), <-one)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-all
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestSignalBus_Streams(t *testing.T) {
	ctx := context.Background()
	bus := NewSignalBus()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "stream:events", []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, "stream:events", "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("a"), msgs[0].Payload)

	rest, err := bus.StreamRead(ctx, "stream:events", msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, []byte("c"), rest[0].Payload)
}

func TestMarketCache(t *testing.T) {
	ctx := context.Background()
	c := NewMarketCache(8, time.Minute)

	m := domain.Market{ID: "m1", TotalWeight: uint256.NewInt(5)}
	require.NoError(t, c.Set(ctx, m))

	got, err := c.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.TotalWeight.Uint64())

	got.TotalWeight.SetUint64(99)
	again, err := c.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), again.TotalWeight.Uint64())

	require.NoError(t, c.Invalidate(ctx, "m1"))
	_, err = c.Get(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter()
	now := time.Unix(0, 0)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow(ctx, "k", 2, time.Second)
	assert.True(t, ok)
	ok, _ = rl.Allow(ctx, "k", 2, time.Second)
	assert.True(t, ok)
	ok, _ = rl.Allow(ctx, "k", 2, time.Second)
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "other", 2, time.Second)
	assert.True(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, _ = rl.Allow(ctx, "k", 2, time.Second)
	assert.True(t, ok)
}

func TestRateLimiter_SweepKeepsLongWindows(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter()
	now := time.Unix(0, 0)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow(ctx, "nonce:a", 1, 10*time.Minute)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		_, _ = rl.Allow(ctx, "ip", 1_000_000, time.Second)
	}

	ok, _ = rl.Allow(ctx, "nonce:a", 1, 10*time.Minute)
	assert.False(t, ok)
}
