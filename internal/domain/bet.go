package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// Holder names the execution domain holding write authority over a bet.
type Holder string

const (
	HolderPublic       Holder = "public"
	HolderConfidential Holder = "confidential"
)

// BetStatus tracks settlement progress.
type BetStatus string

const (
	BetStatusActive     BetStatus = "active"
	BetStatusCalculated BetStatus = "calculated"
	BetStatusSettled    BetStatus = "settled"
	BetStatusRefunded   BetStatus = "refunded"
)

// UserBet is one wager keyed by (market, owner, request id).
//
// Commitment is fixed at placement. The revealed fields stay zero on the
// public ledger until the confidential domain commits the bet back.
type UserBet struct {
	ID         string   `json:"id"`
	MarketID   string   `json:"market_id"`
	Owner      Identity `json:"owner"`
	RequestID  string   `json:"request_id"`
	Deposit    uint64   `json:"deposit"`
	Commitment Digest   `json:"commitment"`

	Revealed       bool   `json:"revealed"`
	RevealedLow    int64  `json:"revealed_low"`
	RevealedHigh   int64  `json:"revealed_high"`
	RevealedTarget int64  `json:"revealed_target"`
	Salt           []byte `json:"salt,omitempty"`

	Holder  Holder `json:"holder"`
	Version uint64 `json:"version"`

	MultiplierBps uint64 `json:"multiplier_bps"`
	CreationTS    int64  `json:"creation_ts"`
	UpdateCount   uint32 `json:"update_count"`

	Weight     *uint256.Int `json:"weight"`
	Calculated bool         `json:"calculated"`
	Claimed    bool         `json:"claimed"`
	Payout     uint64       `json:"payout"`
	Status     BetStatus    `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Delegated reports whether the confidential domain holds the bet.
func (b UserBet) Delegated() bool { return b.Holder == HolderConfidential }

// Clone returns a deep copy.
func (b UserBet) Clone() UserBet {
	out := b
	out.Salt = append([]byte(nil), b.Salt...)
	if b.Weight != nil {
		out.Weight = b.Weight.Clone()
	}
	return out
}
