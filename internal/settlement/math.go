// Package settlement holds the fee, time-decay, accuracy and payout
// arithmetic of the wager engine. Every multiply-before-divide runs on
// 256-bit intermediates so no u64 product can overflow silently.
package settlement

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	// BpsScale is the basis-point denominator.
	BpsScale = 10_000
	// Precision is the scale of accuracy scores.
	Precision = 1_000_000
	// MaxMultiplierBps caps a declared House payout multiplier (50x).
	MaxMultiplierBps = 500_000
	// RefundPenaltyBps is withheld from refunds of unrevealed bets.
	RefundPenaltyBps = 100
	// BatchPenaltyBps is deducted from weights calculated by the admin batch.
	BatchPenaltyBps = 500
)

// ErrOverflow is returned when a result does not fit its target width.
var ErrOverflow = errors.New("settlement: arithmetic overflow")

// MulDiv returns floor(a*b/d). A zero divisor yields zero.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(a), uint256.NewInt(b), uint256.NewInt(d),
	)
	if overflow || !z.IsUint64() {
		return 0, ErrOverflow
	}
	return z.Uint64(), nil
}

// SplitFee splits amount into floor(amount*feeBps/10000) and the remainder.
// fee + net == amount always holds.
func SplitFee(amount uint64, feeBps uint16) (fee, net uint64, err error) {
	fee, err = MulDiv(amount, uint64(feeBps), BpsScale)
	if err != nil {
		return 0, 0, err
	}
	return fee, amount - fee, nil
}

// TimeDecayFactor returns the multiplier factor in bps for a House bet
// placed at now. The first 10% of the window keeps the full factor, the last
// 10% yields zero, and the middle decays linearly.
func TimeDecayFactor(start, end, now int64) uint64 {
	if now < start {
		return BpsScale
	}
	total := end - start
	if total <= 0 {
		return 0
	}
	elapsed := now - start
	golden := total / 10
	lock := total * 9 / 10

	if elapsed >= lock {
		return 0
	}
	if elapsed <= golden {
		return BpsScale
	}

	lost, err := MulDiv(uint64(elapsed-golden), BpsScale, uint64(lock-golden))
	if err != nil || lost >= BpsScale {
		return 0
	}
	return BpsScale - lost
}

// MaxProfit returns deposit*multiplierBps/10000.
func MaxProfit(deposit, multiplierBps uint64) (uint64, error) {
	return MulDiv(deposit, multiplierBps, BpsScale)
}

// Liability is the worst-case payout reserved for a House bet.
func Liability(deposit, multiplierBps uint64) (uint64, error) {
	profit, err := MaxProfit(deposit, multiplierBps)
	if err != nil {
		return 0, err
	}
	return AddU64(deposit, profit)
}

// AddU64 adds with overflow detection.
func AddU64(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, ErrOverflow
	}
	return s, nil
}

// Distance returns |a-b| without overflowing on extreme inputs.
func Distance(a, b int64) uint64 {
	if a >= b {
		return uint64(a) - uint64(b)
	}
	return uint64(b) - uint64(a)
}

// AccuracyScore maps the distance between prediction and result onto
// [0, Precision]. It is Precision at an exact hit, strictly decreasing in the
// distance, positive for every distance within buffer and zero beyond it.
func AccuracyScore(prediction, result int64, buffer uint64) uint64 {
	d := Distance(prediction, result)
	if d > buffer {
		return 0
	}
	span := new(uint256.Int).AddUint64(uint256.NewInt(buffer), 1)
	left := new(uint256.Int).Sub(span, uint256.NewInt(d))
	z, _ := new(uint256.Int).MulDivOverflow(left, uint256.NewInt(Precision), span)
	return z.Uint64()
}

// InRange reports whether result lies in [low, high].
func InRange(low, high, result int64) bool {
	return low <= high && low <= result && result <= high
}

// HousePayout returns deposit + deposit*weightBps/10000 for a winning House
// bet and zero for a losing one.
func HousePayout(deposit uint64, weight *uint256.Int) (uint64, error) {
	if weight == nil || weight.IsZero() {
		return 0, nil
	}
	if !weight.IsUint64() {
		return 0, ErrOverflow
	}
	profit, err := MaxProfit(deposit, weight.Uint64())
	if err != nil {
		return 0, err
	}
	return AddU64(deposit, profit)
}

// PoolShare returns floor(weight*distributable/totalWeight). The remainder of
// the division stays in the vault.
func PoolShare(weight *uint256.Int, distributable uint64, totalWeight *uint256.Int) (uint64, error) {
	if weight == nil || totalWeight == nil || weight.IsZero() || totalWeight.IsZero() {
		return 0, nil
	}
	if weight.Gt(totalWeight) {
		return 0, ErrOverflow
	}
	z, overflow := new(uint256.Int).MulDivOverflow(weight, uint256.NewInt(distributable), totalWeight)
	if overflow || !z.IsUint64() {
		return 0, ErrOverflow
	}
	return z.Uint64(), nil
}

// ApplyPenalty returns w reduced by penaltyBps.
func ApplyPenalty(w *uint256.Int, penaltyBps uint64) *uint256.Int {
	if w == nil {
		return new(uint256.Int)
	}
	cut, _ := new(uint256.Int).MulDivOverflow(w, uint256.NewInt(penaltyBps), uint256.NewInt(BpsScale))
	return new(uint256.Int).Sub(w, cut)
}

// ConvictionPenalty shrinks a House multiplier after an in-flight update.
func ConvictionPenalty(multiplierBps, decayBps, penaltyBps uint64) uint64 {
	m, err := MulDiv(multiplierBps, decayBps, BpsScale)
	if err != nil {
		return 0
	}
	keep := uint64(0)
	if penaltyBps < BpsScale {
		keep = BpsScale - penaltyBps
	}
	m, err = MulDiv(m, keep, BpsScale)
	if err != nil {
		return 0
	}
	return m
}

// SlippageExceeded reports whether the effective multiplier fell further
// below the declared one than maxSlippageBps allows.
func SlippageExceeded(declared, effective, maxSlippageBps uint64) bool {
	if effective >= declared {
		return false
	}
	allowed, err := MulDiv(declared, maxSlippageBps, BpsScale)
	if err != nil {
		return true
	}
	return declared-effective > allowed
}
