package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

var keeper = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSource struct {
	markets []domain.Market
	bets    map[string][]domain.UserBet
}

func (s *fakeSource) ListMarkets(_ context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		if f.Resolved != nil && m.Resolved != *f.Resolved {
			continue
		}
		out = append(out, m)
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *fakeSource) ListBets(_ context.Context, id string) ([]domain.UserBet, error) {
	return s.bets[id], nil
}

type fakeTarget struct {
	mu       sync.Mutex
	archived map[string]int
}

func (t *fakeTarget) ArchiveMarket(_ context.Context, m domain.Market, bets []domain.UserBet) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.archived[m.ID] = len(bets)
	return "archive/markets/" + m.ID + ".jsonl", nil
}

func (t *fakeTarget) Archived(_ context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.archived[id]
	return ok, nil
}

type fakeCalc struct {
	calls []string
	err   map[string]error
}

func (c *fakeCalc) BatchCalculate(_ context.Context, caller domain.Identity, id string) (int, error) {
	if caller != keeper {
		return 0, domain.ErrUnauthorized
	}
	c.calls = append(c.calls, id)
	if err := c.err[id]; err != nil {
		return 0, err
	}
	return 2, nil
}

func TestSettlementArchiver(t *testing.T) {
	src := &fakeSource{
		markets: []domain.Market{
			{ID: "finalized", Resolved: true, Finalized: true},
			{ID: "claimed", Resolved: true},
			{ID: "pending", Resolved: true},
			{ID: "open"},
		},
		bets: map[string][]domain.UserBet{
			"finalized": {{ID: "b1", Status: domain.BetStatusCalculated}},
			"claimed":   {{ID: "b2", Status: domain.BetStatusSettled}, {ID: "b3", Status: domain.BetStatusRefunded}},
			"pending":   {{ID: "b4", Status: domain.BetStatusSettled}, {ID: "b5", Status: domain.BetStatusActive}},
		},
	}
	target := &fakeTarget{archived: map[string]int{}}
	a := NewSettlementArchiver(src, target, discard())

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]int{"finalized": 1, "claimed": 2}, target.archived)

	n, err = a.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "archived markets are skipped")
}

func TestOverdueCalculator(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := &fakeSource{markets: []domain.Market{
		{ID: "overdue", Resolved: true, ResolutionTS: now.Add(-48 * time.Hour).Unix()},
		{ID: "recent", Resolved: true, ResolutionTS: now.Add(-time.Hour).Unix()},
		{ID: "done", Resolved: true, Finalized: true, ResolutionTS: now.Add(-72 * time.Hour).Unix()},
		{ID: "racing", Resolved: true, ResolutionTS: now.Add(-30 * time.Hour).Unix()},
	}}
	calc := &fakeCalc{err: map[string]error{"racing": domain.ErrAlreadyFinalized}}

	c := NewOverdueCalculator(src, calc, keeper, 24*time.Hour, discard())
	c.now = func() time.Time { return now }

	n, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"overdue", "racing"}, calc.calls)
}

func TestOverdueCalculator_KeeperNotAdmin(t *testing.T) {
	src := &fakeSource{markets: []domain.Market{{ID: "m", Resolved: true}}}
	other := common.HexToAddress("0x00000000000000000000000000000000000000ff")

	c := NewOverdueCalculator(src, &fakeCalc{}, other, 0, discard())
	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestResolvedMarkets_Pages(t *testing.T) {
	src := &fakeSource{}
	for i := range pageSize + 5 {
		src.markets = append(src.markets, domain.Market{ID: string(rune('a' + i%26)), Resolved: true})
	}
	got, err := resolvedMarkets(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, got, pageSize+5)
}

type countingJob struct {
	mu sync.Mutex
	n  int
}

func (j *countingJob) Run(context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.n++
	return 0, nil
}

func (j *countingJob) runs() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.n
}

func TestOrchestrator_RunsJobsUntilCancelled(t *testing.T) {
	arch, calc := &countingJob{}, &countingJob{}
	o := NewOrchestrator(arch, calc, 10*time.Millisecond, 10*time.Millisecond, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return arch.runs() >= 2 && calc.runs() >= 2 },
		time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestOrchestrator_RunOnce(t *testing.T) {
	arch := &countingJob{}
	o := NewOrchestrator(arch, nil, time.Hour, time.Hour, discard())
	require.NoError(t, o.RunOnce(context.Background()))
	assert.Equal(t, 1, arch.runs())
}
