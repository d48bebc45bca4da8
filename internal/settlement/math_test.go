package settlement

import (
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

func TestSplitFee(t *testing.T) {
	tests := []struct {
		name    string
		amount  uint64
		bps     uint16
		wantFee uint64
		wantNet uint64
	}{
		{"house scenario", 50_000_000, 150, 750_000, 49_250_000},
		{"zero fee", 1_000, 0, 0, 1_000},
		{"full fee", 1_000, 10_000, 1_000, 0},
		{"floors", 99, 150, 1, 98},
		{"max amount", math.MaxUint64, 10_000, math.MaxUint64, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, net, err := SplitFee(tt.amount, tt.bps)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFee, fee)
			assert.Equal(t, tt.wantNet, net)
		})
	}
}

func TestSplitFee_Conserves(t *testing.T) {
	amounts := []uint64{1, 7, 999, 10_001, 123_456_789, math.MaxUint64 - 3}
	for _, a := range amounts {
		for bps := uint16(0); bps <= 10_000; bps += 137 {
			fee, net, err := SplitFee(a, bps)
			require.NoError(t, err)
			assert.Equal(t, a, fee+net, "amount %d bps %d", a, bps)
		}
	}
}

func TestTimeDecayFactor(t *testing.T) {
	tests := []struct {
		name string
		now  int64
		want uint64
	}{
		{"before start", -5, 10_000},
		{"at start", 0, 10_000},
		{"golden window edge", 100, 10_000},
		{"midpoint", 500, 5_000},
		{"lock edge", 900, 0},
		{"after end", 1_200, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TimeDecayFactor(0, 1_000, tt.now))
		})
	}

	assert.Equal(t, uint64(0), TimeDecayFactor(10, 10, 10))
}

func TestTimeDecayFactor_Monotone(t *testing.T) {
	prev := uint64(BpsScale)
	for now := int64(0); now <= 1_000; now++ {
		f := TimeDecayFactor(0, 1_000, now)
		assert.LessOrEqual(t, f, prev, "now=%d", now)
		prev = f
	}
}

func TestAccuracyScore(t *testing.T) {
	assert.Equal(t, uint64(Precision), AccuracyScore(100, 100, 10))
	assert.Equal(t, uint64(Precision), AccuracyScore(100, 100, 0))
	assert.Equal(t, uint64(90_909), AccuracyScore(110, 100, 10))
	assert.Equal(t, uint64(0), AccuracyScore(111, 100, 10))
	assert.Equal(t, uint64(0), AccuracyScore(math.MinInt64, math.MaxInt64, 1_000))
	assert.Equal(t, uint64(Precision), AccuracyScore(5, 5, math.MaxUint64))
}

func TestAccuracyScore_StrictlyDecreasingWithinBuffer(t *testing.T) {
	const buffer = 250
	prev := AccuracyScore(0, 0, buffer)
	for d := int64(1); d <= buffer; d++ {
		s := AccuracyScore(d, 0, buffer)
		assert.Positive(t, s, "d=%d", d)
		assert.Less(t, s, prev, "d=%d", d)
		prev = s
	}
	assert.Zero(t, AccuracyScore(buffer+1, 0, buffer))
}

func TestDistance_Extremes(t *testing.T) {
	assert.Equal(t, uint64(math.MaxUint64), Distance(math.MinInt64, math.MaxInt64))
	assert.Equal(t, uint64(math.MaxUint64), Distance(math.MaxInt64, math.MinInt64))
	assert.Equal(t, uint64(10), Distance(-5, 5))
}

func TestMaxProfitAndLiability(t *testing.T) {
	p, err := MaxProfit(49_250_000, 20_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(98_500_000), p)

	l, err := Liability(49_250_000, 20_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(147_750_000), l)

	_, err = Liability(math.MaxUint64, MaxMultiplierBps)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestHousePayout(t *testing.T) {
	got, err := HousePayout(49_250_000, uint256.NewInt(20_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(147_750_000), got)

	got, err = HousePayout(49_250_000, new(uint256.Int))
	require.NoError(t, err)
	assert.Zero(t, got)

	got, err = HousePayout(49_250_000, nil)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestPoolShare(t *testing.T) {
	total := uint256.NewInt(3)

	a, err := PoolShare(uint256.NewInt(2), 100, total)
	require.NoError(t, err)
	b, err := PoolShare(uint256.NewInt(1), 100, total)
	require.NoError(t, err)

	assert.Equal(t, uint64(66), a)
	assert.Equal(t, uint64(33), b)
	assert.LessOrEqual(t, a+b, uint64(100))

	z, err := PoolShare(uint256.NewInt(5), 100, new(uint256.Int))
	require.NoError(t, err)
	assert.Zero(t, z)

	_, err = PoolShare(uint256.NewInt(4), 100, total)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestPoolShare_LargeWeights(t *testing.T) {
	w := new(uint256.Int).Lsh(uint256.NewInt(1), 120)
	total := new(uint256.Int).Lsh(uint256.NewInt(1), 121)

	got, err := PoolShare(w, math.MaxUint64, total)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/2), got)
}

func TestApplyPenalty(t *testing.T) {
	assert.Equal(t, uint64(950), ApplyPenalty(uint256.NewInt(1_000), BatchPenaltyBps).Uint64())
	assert.True(t, ApplyPenalty(nil, BatchPenaltyBps).IsZero())
}

func TestConvictionPenalty(t *testing.T) {
	assert.Equal(t, uint64(18_000), ConvictionPenalty(20_000, 10_000, 1_000))
	assert.Equal(t, uint64(9_000), ConvictionPenalty(20_000, 5_000, 1_000))
	assert.Zero(t, ConvictionPenalty(20_000, 10_000, 20_000))
}

func TestSlippageExceeded(t *testing.T) {
	assert.False(t, SlippageExceeded(20_000, 20_000, 0))
	assert.False(t, SlippageExceeded(20_000, 10_000, 5_000))
	assert.True(t, SlippageExceeded(20_000, 9_999, 5_000))
	assert.True(t, SlippageExceeded(20_000, 19_999, 0))
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange(10, 20, 10))
	assert.True(t, InRange(10, 20, 20))
	assert.False(t, InRange(10, 20, 21))
	assert.False(t, InRange(20, 10, 15))
}

func TestHouseWins(t *testing.T) {
	bet := domain.UserBet{RevealedLow: 90, RevealedHigh: 110, RevealedTarget: 100, MultiplierBps: 20_000}

	assert.True(t, HouseWins(domain.PolicyTargetOnly, bet, 105, 5))
	assert.False(t, HouseWins(domain.PolicyTargetOnly, bet, 106, 5))
	assert.True(t, HouseWins(domain.PolicyRange, bet, 110, 0))
	assert.False(t, HouseWins(domain.PolicyRange, bet, 111, 0))

	assert.Equal(t, uint64(20_000), HouseWeight(domain.PolicyRange, bet, 95, 0).Uint64())
	assert.True(t, HouseWeight(domain.PolicyRange, bet, 200, 0).IsZero())
}
