package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Store is the ledger holding every protocol record. All mutations run inside
// InTx: either every staged write and transfer commits, or none does.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Audit() AuditStore
}

// Tx is the view of the ledger inside one atomic unit.
type Tx interface {
	Config() ConfigRepo
	Assets() AssetRepo
	Markets() MarketRepo
	Bets() BetRepo
	Accounts() AccountRepo
}

// ConfigRepo stores the GlobalConfig singleton. Get returns ErrNotInitialized
// before the first Put.
type ConfigRepo interface {
	Get(ctx context.Context) (GlobalConfig, error)
	Put(ctx context.Context, cfg GlobalConfig) error
}

// AssetRepo stores AssetConfig records keyed by symbol.
type AssetRepo interface {
	Get(ctx context.Context, symbol string) (AssetConfig, error)
	Put(ctx context.Context, asset AssetConfig) error
	List(ctx context.Context) ([]AssetConfig, error)
}

// MarketRepo stores markets. Create fails with ErrDuplicateMarket when the id
// is taken.
type MarketRepo interface {
	Get(ctx context.Context, id string) (Market, error)
	Create(ctx context.Context, m Market) error
	Update(ctx context.Context, m Market) error
	List(ctx context.Context, f MarketFilter) ([]Market, error)
}

// BetRepo stores bets. Create fails with ErrDuplicateBet when the id is taken.
type BetRepo interface {
	Get(ctx context.Context, id string) (UserBet, error)
	Create(ctx context.Context, b UserBet) error
	Update(ctx context.Context, b UserBet) error
	ListByMarket(ctx context.Context, marketID string) ([]UserBet, error)
}

// AccountRepo is the token transfer capability. Transfer fails with
// ErrInsufficientBalance without moving anything.
type AccountRepo interface {
	Balance(ctx context.Context, asset AssetID, owner Identity) (uint64, error)
	Mint(ctx context.Context, asset AssetID, owner Identity, amount uint64) error
	Transfer(ctx context.Context, asset AssetID, from, to Identity, amount uint64) error
}

// AuditMarketKey is the detail key whose value is indexed as the entry's
// market.
const AuditMarketKey = "market_id"

// AuditEntry is a single audit log row. MarketID is lifted from
// Detail[AuditMarketKey] when present.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	MarketID  string         `json:"market_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditFilter narrows an audit listing. Empty fields match everything.
type AuditFilter struct {
	MarketID string
	Event    string
	ListOpts
}

// AuditStore persists an append-only audit log, listed newest first.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// AuditMarket extracts the market a detail map refers to.
func AuditMarket(detail map[string]any) string {
	id, _ := detail[AuditMarketKey].(string)
	return id
}
