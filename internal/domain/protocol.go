package domain

import "time"

// MaxBps is the basis-point denominator.
const MaxBps = 10_000

// GlobalConfig is the single protocol-wide configuration record.
type GlobalConfig struct {
	Admin            Identity  `json:"admin"`
	Treasury         Identity  `json:"treasury"`
	HouseFeeBps      uint16    `json:"house_fee_bps"`
	ParimutuelFeeBps uint16    `json:"parimutuel_fee_bps"`
	AllowedAssets    []AssetID `json:"allowed_assets"`
	Paused           bool      `json:"paused"`

	// PendingAdmin is set by a propose step and cleared on accept or cancel.
	PendingAdmin           *Identity `json:"pending_admin,omitempty"`
	PendingAdminEligibleAt int64     `json:"pending_admin_eligible_at,omitempty"`

	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAllowed reports whether asset appears in the allowed list.
func (c GlobalConfig) IsAllowed(asset AssetID) bool {
	for _, a := range c.AllowedAssets {
		if a == asset {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c GlobalConfig) Clone() GlobalConfig {
	out := c
	out.AllowedAssets = append([]AssetID(nil), c.AllowedAssets...)
	if c.PendingAdmin != nil {
		p := *c.PendingAdmin
		out.PendingAdmin = &p
	}
	return out
}

// AssetConfig is per-asset policy keyed by symbol.
type AssetConfig struct {
	Symbol         string    `json:"symbol"`
	PriceFeedRef   string    `json:"price_feed_ref"`
	VolatilityBps  uint32    `json:"volatility_bps"`
	UsePythVol     bool      `json:"use_pyth_vol"`
	MercyBufferBps uint32    `json:"mercy_buffer_bps"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultMercyBufferBps is applied when an asset is configured without one.
const DefaultMercyBufferBps = 500

// Patch is an optional field update: either keep the stored value or set a
// new one. The zero value keeps.
type Patch[T any] struct {
	value T
	set   bool
}

// Keep leaves the stored value unchanged.
func Keep[T any]() Patch[T] { return Patch[T]{} }

// SetTo replaces the stored value with v, including zero values.
func SetTo[T any](v T) Patch[T] { return Patch[T]{value: v, set: true} }

// Get returns the new value and whether one was set.
func (p Patch[T]) Get() (T, bool) { return p.value, p.set }

// Apply writes the patch value into dst when set.
func (p Patch[T]) Apply(dst *T) {
	if p.set {
		*dst = p.value
	}
}

// ConfigPatch is the argument of updateConfig.
type ConfigPatch struct {
	Treasury         Patch[Identity]
	ParimutuelFeeBps Patch[uint16]
	HouseFeeBps      Patch[uint16]
	AllowedAssets    Patch[[]AssetID]
}
