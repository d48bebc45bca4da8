package delegation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerengine/internal/commitment"
	"github.com/alanyoungcy/wagerengine/internal/domain"
)

type recordingLedger struct {
	mu      sync.Mutex
	commits []Commit
	fail    error
	busy    int // calls left that report a held lock
	calls   int
}

func (l *recordingLedger) ApplyCommit(_ context.Context, c Commit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.busy > 0 {
		l.busy--
		return domain.ErrLockHeld
	}
	if l.fail != nil {
		return l.fail
	}
	l.commits = append(l.commits, c)
	return nil
}

func (l *recordingLedger) failWith(err error) {
	l.mu.Lock()
	l.fail = err
	l.mu.Unlock()
}

func (l *recordingLedger) last() (Commit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.commits) == 0 {
		return Commit{}, false
	}
	return l.commits[len(l.commits)-1], true
}

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	salt     = []byte("0123456789abcdef0123456789abcdef")
)

func setup(t *testing.T, latency time.Duration, opts ...Option) (*Coordinator, *recordingLedger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	enclave := NewLocalEnclave(latency, logger)
	ledger := &recordingLedger{}
	coord := NewCoordinator(enclave, ledger, logger, opts...)
	go func() { _ = enclave.Run(ctx) }()
	go func() { _ = coord.Run(ctx) }()
	return coord, ledger
}

func delegatedBet() domain.UserBet {
	return domain.UserBet{
		ID:            "bet-1",
		MarketID:      "market-1",
		Owner:         owner,
		Deposit:       1_000,
		Commitment:    commitment.Commit(90, 110, 100, salt),
		Holder:        domain.HolderConfidential,
		Version:       1,
		MultiplierBps: 20_000,
		CreationTS:    100,
	}
}

func TestCoordinator_RevealAndUndelegate(t *testing.T) {
	ctx := context.Background()
	coord, ledger := setup(t, 10*time.Millisecond)

	require.NoError(t, coord.Delegate(ctx, delegatedBet()))

	_, err := coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 101, Salt: salt})
	assert.ErrorIs(t, err, domain.ErrInvalidReveal)

	_, err = coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: stranger, Low: 90, High: 110, Target: 100, Salt: salt})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	b, err := coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 100, Salt: salt})
	require.NoError(t, err)
	assert.True(t, b.Revealed)
	assert.Equal(t, uint64(2), b.Version)

	again, err := coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 100, Salt: salt})
	require.NoError(t, err)
	assert.Equal(t, b.Version, again.Version)

	assert.ErrorIs(t, coord.Delegate(ctx, delegatedBet()), domain.ErrAlreadyDelegated)

	require.NoError(t, coord.Undelegate(ctx, "bet-1", owner))
	assert.True(t, coord.Pending("bet-1"))
	assert.ErrorIs(t, coord.Undelegate(ctx, "bet-1", owner), domain.ErrUndelegationPending)

	_, err = coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 100, Salt: salt})
	assert.ErrorIs(t, err, domain.ErrUndelegationPending)

	awaitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := coord.Await(awaitCtx, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, st.State)

	c, ok := ledger.last()
	require.True(t, ok)
	assert.True(t, c.Bet.Revealed)
	assert.Equal(t, int64(100), c.Bet.RevealedTarget)

	_, err = coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 100, Salt: salt})
	assert.ErrorIs(t, err, domain.ErrNotDelegated)
}

func TestCoordinator_RevealWindow(t *testing.T) {
	ctx := context.Background()
	coord, _ := setup(t, 0)
	require.NoError(t, coord.Delegate(ctx, delegatedBet()))

	_, err := coord.Reveal(ctx, RevealRequest{
		BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 100, Salt: salt,
		Now: 500, Deadline: 499,
	})
	assert.ErrorIs(t, err, domain.ErrRevealWindowExpired)
}

func TestCoordinator_UpdateAppliesConvictionPenalty(t *testing.T) {
	ctx := context.Background()
	coord, _ := setup(t, 0)
	require.NoError(t, coord.Delegate(ctx, delegatedBet()))

	market := domain.Market{
		ID: "market-1", Kind: domain.MarketKindFixed, Mode: domain.ModeHouse,
		StartTime: 0, EndTime: 1_000, SlippageParam: 1_000,
	}
	newSalt := []byte("another-salt")
	b, err := coord.Update(ctx, UpdateRequest{
		BetID: "bet-1", Caller: owner, Low: 95, High: 105, Target: 99, Salt: newSalt,
		Now: 50, Market: market,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(18_000), b.MultiplierBps)
	assert.Equal(t, uint32(1), b.UpdateCount)
	assert.Equal(t, int64(50), b.CreationTS)
	assert.True(t, commitment.Verify(b.Commitment, 95, 105, 99, newSalt))

	_, err = coord.Update(ctx, UpdateRequest{
		BetID: "bet-1", Caller: owner, Salt: newSalt, Now: 950, Market: market,
	})
	assert.ErrorIs(t, err, domain.ErrBettingClosed)
}

func TestCoordinator_FailedCommitIsReported(t *testing.T) {
	ctx := context.Background()
	coord, ledger := setup(t, 0)
	ledger.fail = ErrStaleCommit

	require.NoError(t, coord.Delegate(ctx, delegatedBet()))
	require.NoError(t, coord.Undelegate(ctx, "bet-1", owner))

	awaitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := coord.Await(awaitCtx, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, ErrStaleCommit.Error(), st.Error)
}

func TestCoordinator_UpdatePoolBetKeepsCreation(t *testing.T) {
	ctx := context.Background()
	coord, _ := setup(t, 0)
	require.NoError(t, coord.Delegate(ctx, delegatedBet()))

	pool := domain.Market{
		ID: "market-1", Kind: domain.MarketKindPool, Mode: domain.ModeParimutuel,
		StartTime: 0, EndTime: 1_000,
	}
	b, err := coord.Update(ctx, UpdateRequest{
		BetID: "bet-1", Caller: owner, Low: 95, High: 105, Target: 99, Salt: salt,
		Now: 500, Market: pool,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), b.UpdateCount)
	assert.Equal(t, int64(100), b.CreationTS)
	assert.Equal(t, uint64(20_000), b.MultiplierBps)
	assert.Equal(t, int64(99), b.RevealedTarget)
	assert.Equal(t, uint64(2), b.Version)
}

func TestCoordinator_RetryAfterFailedCommit(t *testing.T) {
	ctx := context.Background()
	coord, ledger := setup(t, 0, WithCommitRetry(time.Millisecond, 2))
	ledger.failWith(ErrStaleCommit)

	require.NoError(t, coord.Delegate(ctx, delegatedBet()))
	_, err := coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 100, Salt: salt})
	require.NoError(t, err)
	require.NoError(t, coord.Undelegate(ctx, "bet-1", owner))

	awaitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := coord.Await(awaitCtx, "bet-1")
	require.NoError(t, err)
	require.Equal(t, StateFailed, st.State)

	// The copy is thawed and still carries the reveal.
	b, err := coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 100, Salt: salt})
	require.NoError(t, err)
	assert.True(t, b.Revealed)

	ledger.failWith(nil)
	require.NoError(t, coord.Undelegate(ctx, "bet-1", owner))
	st, err = coord.Await(awaitCtx, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, st.State)

	c, ok := ledger.last()
	require.True(t, ok)
	assert.True(t, c.Bet.Revealed)
	assert.Equal(t, int64(100), c.Bet.RevealedTarget)

	_, err = coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 100, Salt: salt})
	assert.ErrorIs(t, err, domain.ErrNotDelegated)
}

func TestCoordinator_RetriesHeldLock(t *testing.T) {
	ctx := context.Background()
	coord, ledger := setup(t, 0, WithCommitRetry(time.Millisecond, 5))
	ledger.busy = 3

	require.NoError(t, coord.Delegate(ctx, delegatedBet()))
	require.NoError(t, coord.Undelegate(ctx, "bet-1", owner))

	awaitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := coord.Await(awaitCtx, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, st.State, st.Error)

	ledger.mu.Lock()
	assert.Equal(t, 4, ledger.calls)
	ledger.mu.Unlock()
}

func TestCoordinator_GivesUpOnHeldLock(t *testing.T) {
	ctx := context.Background()
	coord, ledger := setup(t, 0, WithCommitRetry(time.Millisecond, 2))
	ledger.busy = 10

	require.NoError(t, coord.Delegate(ctx, delegatedBet()))
	require.NoError(t, coord.Undelegate(ctx, "bet-1", owner))

	awaitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := coord.Await(awaitCtx, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, domain.ErrLockHeld.Error(), st.Error)

	ledger.mu.Lock()
	assert.Equal(t, 3, ledger.calls)
	ledger.mu.Unlock()
}

func TestEnclave_AcceptReplacesLeftoverCopy(t *testing.T) {
	ctx := context.Background()
	coord, _ := setup(t, 0)

	snap := delegatedBet()
	require.NoError(t, coord.Delegate(ctx, snap))
	require.NoError(t, coord.Delegate(ctx, snap), "same snapshot twice")

	_, err := coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 100, Salt: salt})
	require.NoError(t, err)
	assert.ErrorIs(t, coord.Delegate(ctx, snap), domain.ErrAlreadyDelegated)

	newer := delegatedBet()
	newer.Version = 5
	require.NoError(t, coord.Delegate(ctx, newer))
	b, err := coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 100, Salt: salt})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), b.Version)
}

func TestCoordinator_Reclaim(t *testing.T) {
	ctx := context.Background()
	coord, ledger := setup(t, 0)

	public := delegatedBet()
	public.Holder = domain.HolderPublic
	assert.ErrorIs(t, coord.Reclaim(ctx, public), domain.ErrNotDelegated)

	require.NoError(t, coord.Reclaim(ctx, delegatedBet()))
	_, err := coord.Reveal(ctx, RevealRequest{BetID: "bet-1", Caller: owner, Low: 90, High: 110, Target: 100, Salt: salt})
	require.NoError(t, err)
	require.NoError(t, coord.Undelegate(ctx, "bet-1", owner))

	awaitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := coord.Await(awaitCtx, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, st.State)

	c, ok := ledger.last()
	require.True(t, ok)
	assert.True(t, c.Bet.Revealed)
}

func TestCoordinator_UndelegateUnknownBet(t *testing.T) {
	coord, _ := setup(t, 0)
	err := coord.Undelegate(context.Background(), "nope", owner)
	assert.True(t, errors.Is(err, domain.ErrNotDelegated))
	assert.Equal(t, StateNone, coord.Status("nope").State)
}
