package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

type marketRepo struct{ q querier }

const marketColumns = `id, name, description, kind, asset, creator, start_time, end_time,
	mode, resolution_policy, fee_param, slippage_param, vault_balance, locked_for_payouts,
	total_weight::text, distributable, resolved, resolution_value, resolution_ts, finalized,
	created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                      domain.Market
		kind, mode, policy     string
		asset, creator, weight string
	)
	err := row.Scan(
		&m.ID, &m.Name, &m.Description, &kind, &asset, &creator, &m.StartTime, &m.EndTime,
		&mode, &policy, &m.FeeParam, &m.SlippageParam, &m.VaultBalance, &m.LockedForPayouts,
		&weight, &m.Distributable, &m.Resolved, &m.ResolutionValue, &m.ResolutionTS, &m.Finalized,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Kind = domain.MarketKind(kind)
	m.Mode = domain.MarketMode(mode)
	m.ResolutionPolicy = domain.ResolutionPolicy(policy)
	m.Asset = addr(asset)
	m.Creator = addr(creator)
	if m.TotalWeight, err = parseBig(weight); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

func (r marketRepo) Get(ctx context.Context, id string) (domain.Market, error) {
	m, err := scanMarket(r.q.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

func (r marketRepo) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, name, description, kind, asset, creator, start_time, end_time,
			mode, resolution_policy, fee_param, slippage_param, vault_balance, locked_for_payouts,
			total_weight, distributable, resolved, resolution_value, resolution_ts, finalized,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15::numeric, $16, $17, $18, $19, $20,
			$21, $22
		)
		ON CONFLICT (id) DO NOTHING`
	tag, err := r.q.Exec(ctx, query,
		m.ID, m.Name, m.Description, string(m.Kind), m.Asset.Hex(), m.Creator.Hex(), m.StartTime, m.EndTime,
		string(m.Mode), string(m.ResolutionPolicy), m.FeeParam, m.SlippageParam, m.VaultBalance, m.LockedForPayouts,
		bigText(m.TotalWeight), m.Distributable, m.Resolved, m.ResolutionValue, m.ResolutionTS, m.Finalized,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateMarket
	}
	return nil
}

// Update writes the mutable market state. Identity, window and parameters are
// fixed at creation.
func (r marketRepo) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			vault_balance      = $2,
			locked_for_payouts = $3,
			total_weight       = $4::numeric,
			distributable      = $5,
			resolved           = $6,
			resolution_value   = $7,
			resolution_ts      = $8,
			finalized          = $9,
			updated_at         = $10
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query,
		m.ID, m.VaultBalance, m.LockedForPayouts, bigText(m.TotalWeight), m.Distributable,
		m.Resolved, m.ResolutionValue, m.ResolutionTS, m.Finalized, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

func (r marketRepo) List(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	var w filter
	if f.Kind != "" {
		w.add("kind = $%d", string(f.Kind))
	}
	if f.Resolved != nil {
		w.add("resolved = $%d", *f.Resolved)
	}
	query := `SELECT ` + marketColumns + ` FROM markets` + w.where() + ` ORDER BY created_at, id` + w.page(f.Limit, f.Offset)

	rows, err := r.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}
