package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store. Every InTx call runs in one serializable
// transaction.
type Store struct {
	pool  *pgxpool.Pool
	audit *AuditStore
}

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, audit: NewAuditStore(pool)}
}

// Audit implements domain.Store.
func (s *Store) Audit() domain.AuditStore { return s.audit }

// InTx implements domain.Store.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(ptx pgx.Tx) error {
		return fn(&tx{q: ptx})
	})
}

type tx struct{ q querier }

func (t *tx) Config() domain.ConfigRepo { return configRepo{t.q} }
func (t *tx) Assets() domain.AssetRepo { return assetRepo{t.q} }
func (t *tx) Markets() domain.MarketRepo { return marketRepo{t.q} }
func (t *tx) Bets() domain.BetRepo { return betRepo{t.q} }
func (t *tx) Accounts() domain.AccountRepo { return accountRepo{t.q} }

// isUniqueViolation reports whether err is a primary key or unique clash.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func addr(s string) common.Address { return common.HexToAddress(s) }

// bigText renders a u256 for a NUMERIC column.
func bigText(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseBig(s string) (*uint256.Int, error) {
	v := new(uint256.Int)
	if err := v.SetFromDecimal(strings.TrimSpace(s)); err != nil {
		return nil, fmt.Errorf("postgres: parse numeric %q: %w", s, err)
	}
	return v, nil
}

// filter accumulates WHERE clauses with positional arguments.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, arg any) {
	f.args = append(f.args, arg)
	f.clauses = append(f.clauses, fmt.Sprintf(clause, len(f.args)))
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// page appends LIMIT and OFFSET.
func (f *filter) page(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		f.args = append(f.args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(f.args))
	}
	if offset > 0 {
		f.args = append(f.args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(f.args))
	}
	return b.String()
}

// --- config ---

type configRepo struct{ q querier }

const configColumns = `admin, treasury, house_fee_bps, parimutuel_fee_bps, allowed_assets,
	paused, pending_admin, pending_admin_eligible_at, version, updated_at`

func (r configRepo) Get(ctx context.Context) (domain.GlobalConfig, error) {
	var (
		cfg               domain.GlobalConfig
		admin, treasury   string
		houseFee, pariFee int32
		assets            []string
		pending           *string
	)
	err := r.q.QueryRow(ctx, `SELECT `+configColumns+` FROM protocol_config WHERE id = 1`).Scan(
		&admin, &treasury, &houseFee, &pariFee, &assets,
		&cfg.Paused, &pending, &cfg.PendingAdminEligibleAt, &cfg.Version, &cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GlobalConfig{}, domain.ErrNotInitialized
	}
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("postgres: get config: %w", err)
	}

	cfg.Admin = addr(admin)
	cfg.Treasury = addr(treasury)
	cfg.HouseFeeBps = uint16(houseFee)
	cfg.ParimutuelFeeBps = uint16(pariFee)
	cfg.AllowedAssets = make([]domain.AssetID, 0, len(assets))
	for _, a := range assets {
		cfg.AllowedAssets = append(cfg.AllowedAssets, addr(a))
	}
	if pending != nil {
		p := addr(*pending)
		cfg.PendingAdmin = &p
	}
	return cfg, nil
}

func (r configRepo) Put(ctx context.Context, cfg domain.GlobalConfig) error {
	assets := make([]string, 0, len(cfg.AllowedAssets))
	for _, a := range cfg.AllowedAssets {
		assets = append(assets, a.Hex())
	}
	var pending *string
	if cfg.PendingAdmin != nil {
		p := cfg.PendingAdmin.Hex()
		pending = &p
	}

	const query = `
		INSERT INTO protocol_config (id, ` + configColumns + `)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			admin                     = EXCLUDED.admin,
			treasury                  = EXCLUDED.treasury,
			house_fee_bps             = EXCLUDED.house_fee_bps,
			parimutuel_fee_bps        = EXCLUDED.parimutuel_fee_bps,
			allowed_assets            = EXCLUDED.allowed_assets,
			paused                    = EXCLUDED.paused,
			pending_admin             = EXCLUDED.pending_admin,
			pending_admin_eligible_at = EXCLUDED.pending_admin_eligible_at,
			version                   = EXCLUDED.version,
			updated_at                = EXCLUDED.updated_at`
	_, err := r.q.Exec(ctx, query,
		cfg.Admin.Hex(), cfg.Treasury.Hex(), int32(cfg.HouseFeeBps), int32(cfg.ParimutuelFeeBps), assets,
		cfg.Paused, pending, cfg.PendingAdminEligibleAt, cfg.Version, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put config: %w", err)
	}
	return nil
}

// --- assets ---

type assetRepo struct{ q querier }

const assetColumns = `symbol, price_feed_ref, volatility_bps, use_pyth_vol, mercy_buffer_bps, updated_at`

func scanAsset(row pgx.Row) (domain.AssetConfig, error) {
	var a domain.AssetConfig
	var vol, mercy int64
	if err := row.Scan(&a.Symbol, &a.PriceFeedRef, &vol, &a.UsePythVol, &mercy, &a.UpdatedAt); err != nil {
		return domain.AssetConfig{}, err
	}
	a.VolatilityBps = uint32(vol)
	a.MercyBufferBps = uint32(mercy)
	return a, nil
}

func (r assetRepo) Get(ctx context.Context, symbol string) (domain.AssetConfig, error) {
	a, err := scanAsset(r.q.QueryRow(ctx, `SELECT `+assetColumns+` FROM asset_configs WHERE symbol = $1`, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AssetConfig{}, fmt.Errorf("postgres: asset %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return domain.AssetConfig{}, fmt.Errorf("postgres: get asset %s: %w", symbol, err)
	}
	return a, nil
}

func (r assetRepo) Put(ctx context.Context, a domain.AssetConfig) error {
	const query = `
		INSERT INTO asset_configs (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol) DO UPDATE SET
			price_feed_ref   = EXCLUDED.price_feed_ref,
			volatility_bps   = EXCLUDED.volatility_bps,
			use_pyth_vol     = EXCLUDED.use_pyth_vol,
			mercy_buffer_bps = EXCLUDED.mercy_buffer_bps,
			updated_at       = EXCLUDED.updated_at`
	_, err := r.q.Exec(ctx, query,
		a.Symbol, a.PriceFeedRef, int64(a.VolatilityBps), a.UsePythVol, int64(a.MercyBufferBps), a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put asset %s: %w", a.Symbol, err)
	}
	return nil
}

func (r assetRepo) List(ctx context.Context) ([]domain.AssetConfig, error) {
	rows, err := r.q.Query(ctx, `SELECT `+assetColumns+` FROM asset_configs ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list assets: %w", err)
	}
	defer rows.Close()

	var out []domain.AssetConfig
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan asset: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list assets rows: %w", err)
	}
	return out, nil
}

// --- accounts ---

type accountRepo struct{ q querier }

func (r accountRepo) Balance(ctx context.Context, asset domain.AssetID, owner domain.Identity) (uint64, error) {
	var amount uint64
	err := r.q.QueryRow(ctx,
		`SELECT amount FROM balances WHERE asset = $1 AND owner = $2`,
		asset.Hex(), owner.Hex(),
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: balance of %s: %w", owner.Hex(), err)
	}
	return amount, nil
}

func (r accountRepo) credit(ctx context.Context, asset domain.AssetID, owner domain.Identity, amount uint64) error {
	const query = `
		INSERT INTO balances (asset, owner, amount) VALUES ($1, $2, $3)
		ON CONFLICT (asset, owner) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`
	if _, err := r.q.Exec(ctx, query, asset.Hex(), owner.Hex(), amount); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", owner.Hex(), err)
	}
	return nil
}

func (r accountRepo) Mint(ctx context.Context, asset domain.AssetID, owner domain.Identity, amount uint64) error {
	return r.credit(ctx, asset, owner, amount)
}

func (r accountRepo) Transfer(ctx context.Context, asset domain.AssetID, from, to domain.Identity, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	tag, err := r.q.Exec(ctx,
		`UPDATE balances SET amount = amount - $3 WHERE asset = $1 AND owner = $2 AND amount >= $3`,
		asset.Hex(), from.Hex(), amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: transfer from %s: %w", from.Hex(), domain.ErrInsufficientBalance)
	}
	return r.credit(ctx, asset, to, amount)
}

var _ domain.Store = (*Store)(nil)
