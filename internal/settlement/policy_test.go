package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

func TestDefaultWeightPolicy(t *testing.T) {
	base := WeightInput{
		Deposit:    100,
		Prediction: 1_000,
		Result:     1_000,
		Buffer:     10,
		StartTime:  0,
		EndTime:    1_000,
		PlacedAt:   500,
	}

	tests := []struct {
		name   string
		policy DefaultWeightPolicy
		mutate func(*WeightInput)
		want   uint64
	}{
		{"exact hit no bonus", DefaultWeightPolicy{}, func(*WeightInput) {}, 100_000_000},
		{"outside buffer", DefaultWeightPolicy{}, func(in *WeightInput) { in.Prediction = 1_011 }, 0},
		{"zero deposit", DefaultWeightPolicy{}, func(in *WeightInput) { in.Deposit = 0 }, 0},
		{
			"early bet time bonus", DefaultWeightPolicy{MaxTimeBonusBps: 1_000},
			func(in *WeightInput) { in.PlacedAt = 0 }, 110_000_000,
		},
		{
			"halfway time bonus", DefaultWeightPolicy{MaxTimeBonusBps: 1_000},
			func(*WeightInput) {}, 105_000_000,
		},
		{
			"conviction halves after update", DefaultWeightPolicy{},
			func(in *WeightInput) { in.ConvictionBps = 2_000; in.UpdateCount = 1 }, 110_000_000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			w, err := tt.policy.Weight(in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.Uint64())
		})
	}
}

func TestDefaultWeightPolicy_MonotoneInError(t *testing.T) {
	p := DefaultWeightPolicy{MaxTimeBonusBps: 500}
	in := WeightInput{Deposit: 1_000_000, Result: 0, Buffer: 100, EndTime: 100}

	in.Prediction = 0
	prev, err := p.Weight(in)
	require.NoError(t, err)
	for d := int64(1); d <= 101; d++ {
		in.Prediction = -d
		w, err := p.Weight(in)
		require.NoError(t, err)
		assert.False(t, w.Gt(prev), "d=%d", d)
		prev = w
	}
	assert.True(t, prev.IsZero())
}

func TestTimeBonusBps(t *testing.T) {
	assert.Equal(t, uint64(1_000), TimeBonusBps(0, 100, -10, 1_000))
	assert.Equal(t, uint64(500), TimeBonusBps(0, 100, 50, 1_000))
	assert.Zero(t, TimeBonusBps(0, 100, 100, 1_000))
	assert.Zero(t, TimeBonusBps(0, 100, 0, 0))
}

func TestConvictionBonusBps(t *testing.T) {
	assert.Equal(t, uint64(300), ConvictionBonusBps(300, 0))
	assert.Equal(t, uint64(100), ConvictionBonusBps(300, 2))
}

func TestParimutuelInput(t *testing.T) {
	m := domain.Market{StartTime: 10, EndTime: 20, ResolutionValue: 7, FeeParam: 3, SlippageParam: 40}
	b := domain.UserBet{Deposit: 9, RevealedTarget: 6, CreationTS: 12, UpdateCount: 2}

	in := ParimutuelInput(m, b)
	assert.Equal(t, WeightInput{
		Deposit: 9, Prediction: 6, Result: 7, Buffer: 3,
		StartTime: 10, EndTime: 20, PlacedAt: 12, UpdateCount: 2, ConvictionBps: 40,
	}, in)
}
