package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

type betRepo struct{ q querier }

const betColumns = `id, market_id, owner, request_id, deposit, commitment,
	revealed, revealed_low, revealed_high, revealed_target, salt,
	holder, version, multiplier_bps, creation_ts, update_count,
	weight::text, calculated, claimed, payout, status, created_at, updated_at`

func scanBet(row pgx.Row) (domain.UserBet, error) {
	var (
		b              domain.UserBet
		owner, weight  string
		holder, status string
		commitment     []byte
		updateCount    int32
	)
	err := row.Scan(
		&b.ID, &b.MarketID, &owner, &b.RequestID, &b.Deposit, &commitment,
		&b.Revealed, &b.RevealedLow, &b.RevealedHigh, &b.RevealedTarget, &b.Salt,
		&holder, &b.Version, &b.MultiplierBps, &b.CreationTS, &updateCount,
		&weight, &b.Calculated, &b.Claimed, &b.Payout, &status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return domain.UserBet{}, err
	}
	if len(commitment) != len(b.Commitment) {
		return domain.UserBet{}, fmt.Errorf("postgres: bet %s: commitment is %d bytes", b.ID, len(commitment))
	}
	copy(b.Commitment[:], commitment)
	b.Owner = addr(owner)
	b.Holder = domain.Holder(holder)
	b.Status = domain.BetStatus(status)
	b.UpdateCount = uint32(updateCount)
	if b.Weight, err = parseBig(weight); err != nil {
		return domain.UserBet{}, err
	}
	return b, nil
}

func (r betRepo) Get(ctx context.Context, id string) (domain.UserBet, error) {
	b, err := scanBet(r.q.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserBet{}, fmt.Errorf("postgres: bet %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

func (r betRepo) Create(ctx context.Context, b domain.UserBet) error {
	const query = `
		INSERT INTO bets (
			id, market_id, owner, request_id, deposit, commitment,
			revealed, revealed_low, revealed_high, revealed_target, salt,
			holder, version, multiplier_bps, creation_ts, update_count,
			weight, calculated, claimed, payout, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17::numeric, $18, $19, $20, $21, $22, $23
		)
		ON CONFLICT (id) DO NOTHING`
	tag, err := r.q.Exec(ctx, query,
		b.ID, b.MarketID, b.Owner.Hex(), b.RequestID, b.Deposit, b.Commitment[:],
		b.Revealed, b.RevealedLow, b.RevealedHigh, b.RevealedTarget, b.Salt,
		string(b.Holder), b.Version, b.MultiplierBps, b.CreationTS, int32(b.UpdateCount),
		bigText(b.Weight), b.Calculated, b.Claimed, b.Payout, string(b.Status), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateBet
		}
		return fmt.Errorf("postgres: create bet %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateBet
	}
	return nil
}

// Update writes the mutable bet state. Ownership, market and deposit are
// fixed at placement.
func (r betRepo) Update(ctx context.Context, b domain.UserBet) error {
	const query = `
		UPDATE bets SET
			commitment      = $2,
			revealed        = $3,
			revealed_low    = $4,
			revealed_high   = $5,
			revealed_target = $6,
			salt            = $7,
			holder          = $8,
			version         = $9,
			multiplier_bps  = $10,
			creation_ts     = $11,
			update_count    = $12,
			weight          = $13::numeric,
			calculated      = $14,
			claimed         = $15,
			payout          = $16,
			status          = $17,
			updated_at      = $18
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query,
		b.ID, b.Commitment[:], b.Revealed, b.RevealedLow, b.RevealedHigh, b.RevealedTarget, b.Salt,
		string(b.Holder), b.Version, b.MultiplierBps, b.CreationTS, int32(b.UpdateCount),
		bigText(b.Weight), b.Calculated, b.Claimed, b.Payout, string(b.Status), b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update bet %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: bet %s: %w", b.ID, domain.ErrNotFound)
	}
	return nil
}

func (r betRepo) ListByMarket(ctx context.Context, marketID string) ([]domain.UserBet, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE market_id = $1 ORDER BY created_at, id`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets of %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.UserBet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return out, nil
}
