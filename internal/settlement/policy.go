package settlement

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// WeightInput is everything a policy may read when weighting one revealed
// Parimutuel bet.
type WeightInput struct {
	Deposit     uint64
	Prediction  int64
	Result      int64
	Buffer      uint64
	StartTime   int64
	EndTime     int64
	PlacedAt    int64
	UpdateCount uint32
	// ConvictionBps is the market's conviction bonus before update decay.
	ConvictionBps uint64
}

// WeightPolicy turns a revealed bet into its share weight. Implementations
// must return zero for predictions outside the buffer and must be monotone
// non-increasing in the prediction error.
type WeightPolicy interface {
	Weight(in WeightInput) (*uint256.Int, error)
}

// DefaultWeightPolicy weights a bet as
// deposit * accuracy * (10000 + timeBonus + convictionBonus) / 10000.
type DefaultWeightPolicy struct {
	MaxTimeBonusBps uint64
}

// Weight implements WeightPolicy.
func (p DefaultWeightPolicy) Weight(in WeightInput) (*uint256.Int, error) {
	acc := AccuracyScore(in.Prediction, in.Result, in.Buffer)
	if acc == 0 || in.Deposit == 0 {
		return new(uint256.Int), nil
	}

	bonus := new(uint256.Int).SetUint64(BpsScale)
	bonus.AddUint64(bonus, TimeBonusBps(in.StartTime, in.EndTime, in.PlacedAt, p.MaxTimeBonusBps))
	bonus.AddUint64(bonus, ConvictionBonusBps(in.ConvictionBps, in.UpdateCount))

	w := new(uint256.Int).Mul(uint256.NewInt(in.Deposit), uint256.NewInt(acc))
	w.Mul(w, bonus)
	w.Div(w, uint256.NewInt(BpsScale))
	if w.BitLen() > 128 {
		return nil, ErrOverflow
	}
	return w, nil
}

// TimeBonusBps scales linearly from maxBonus for a bet placed at start down
// to zero for one placed at end.
func TimeBonusBps(start, end, placedAt int64, maxBonus uint64) uint64 {
	if maxBonus == 0 || end <= start {
		return 0
	}
	if placedAt < start {
		placedAt = start
	}
	if placedAt >= end {
		return 0
	}
	b, err := MulDiv(maxBonus, uint64(end-placedAt), uint64(end-start))
	if err != nil {
		return 0
	}
	return b
}

// ConvictionBonusBps divides the conviction bonus among the bet's revisions.
func ConvictionBonusBps(bonusBps uint64, updateCount uint32) uint64 {
	return bonusBps / (uint64(updateCount) + 1)
}

// HouseWeight is the binary House outcome: the locked multiplier on a win,
// zero on a loss.
func HouseWeight(policy domain.ResolutionPolicy, b domain.UserBet, result int64, buffer uint64) *uint256.Int {
	if HouseWins(policy, b, result, buffer) {
		return uint256.NewInt(b.MultiplierBps)
	}
	return new(uint256.Int)
}

// HouseWins applies the market's resolution policy to a revealed bet.
func HouseWins(policy domain.ResolutionPolicy, b domain.UserBet, result int64, buffer uint64) bool {
	switch policy {
	case domain.PolicyRange:
		return InRange(b.RevealedLow, b.RevealedHigh, result)
	default:
		return Distance(b.RevealedTarget, result) <= buffer
	}
}

// ParimutuelInput builds the policy input for a revealed bet.
func ParimutuelInput(m domain.Market, b domain.UserBet) WeightInput {
	return WeightInput{
		Deposit:       b.Deposit,
		Prediction:    b.RevealedTarget,
		Result:        m.ResolutionValue,
		Buffer:        m.FeeParam,
		StartTime:     m.StartTime,
		EndTime:       m.EndTime,
		PlacedAt:      b.CreationTS,
		UpdateCount:   b.UpdateCount,
		ConvictionBps: m.SlippageParam,
	}
}
