package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// MarketKind distinguishes the two market namespaces.
type MarketKind string

const (
	MarketKindFixed MarketKind = "fixed"
	MarketKindPool  MarketKind = "pool"
)

// MarketMode selects how payouts are funded.
type MarketMode string

const (
	ModeHouse      MarketMode = "house"
	ModeParimutuel MarketMode = "parimutuel"
)

// ResolutionPolicy decides which revealed fields are compared with the
// resolution value.
type ResolutionPolicy string

const (
	PolicyTargetOnly ResolutionPolicy = "target_only"
	PolicyRange      ResolutionPolicy = "range"
)

// MarketPhase is the derived lifecycle stage of a market.
type MarketPhase string

const (
	PhaseCreated   MarketPhase = "created"
	PhaseActive    MarketPhase = "active"
	PhaseExpired   MarketPhase = "expired"
	PhaseResolved  MarketPhase = "resolved"
	PhaseFinalized MarketPhase = "finalized"
)

// Market is one wagering round.
//
// FeeParam holds the maximum accuracy buffer around the resolution value.
// SlippageParam holds the conviction bonus in bps.
type Market struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	Kind             MarketKind       `json:"kind"`
	Asset            AssetID          `json:"asset"`
	Creator          Identity         `json:"creator"`
	StartTime        int64            `json:"start_time"`
	EndTime          int64            `json:"end_time"`
	Mode             MarketMode       `json:"mode"`
	ResolutionPolicy ResolutionPolicy `json:"resolution_policy"`
	FeeParam         uint64           `json:"fee_param"`
	SlippageParam    uint64           `json:"slippage_param"`

	VaultBalance     uint64       `json:"vault_balance"`
	LockedForPayouts uint64       `json:"locked_for_payouts"`
	TotalWeight      *uint256.Int `json:"total_weight"`
	Distributable    uint64       `json:"distributable"`

	Resolved        bool  `json:"resolved"`
	ResolutionValue int64 `json:"resolution_value"`
	ResolutionTS    int64 `json:"resolution_ts"`
	Finalized       bool  `json:"finalized"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Vault returns the escrow identity of the market.
func (m Market) Vault() Identity { return VaultIdentity(m.ID) }

// Phase derives the lifecycle stage at unix time now.
func (m Market) Phase(now int64) MarketPhase {
	switch {
	case m.Finalized:
		return PhaseFinalized
	case m.Resolved:
		return PhaseResolved
	case now < m.StartTime:
		return PhaseCreated
	case now < m.EndTime:
		return PhaseActive
	default:
		return PhaseExpired
	}
}

// Weight returns TotalWeight, treating nil as zero.
func (m Market) Weight() *uint256.Int {
	if m.TotalWeight == nil {
		return new(uint256.Int)
	}
	return m.TotalWeight
}

// MarketFilter narrows market listings.
type MarketFilter struct {
	Kind     MarketKind
	Resolved *bool
	Limit    int
	Offset   int
}
