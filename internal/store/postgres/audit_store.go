package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// AuditStore appends to audit_log through the pool rather than a ledger
// transaction, so rejected operations are still recorded.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore binds an AuditStore to pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log stores detail as JSONB and indexes its market_id key.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: encode detail: %w", event, err)
	}
	var market *string
	if id := domain.AuditMarket(detail); id != "" {
		market = &id
	}
	const q = `INSERT INTO audit_log (event, market_id, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, event, market, raw); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns matching entries newest first.
func (s *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	var w filter
	if f.MarketID != "" {
		w.add("market_id = $%d", f.MarketID)
	}
	if f.Event != "" {
		w.add("event = $%d", f.Event)
	}
	if f.Since != nil {
		w.add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		w.add("created_at <= $%d", *f.Until)
	}
	query := `SELECT id, event, COALESCE(market_id, ''), detail, created_at FROM audit_log` +
		w.where() + ` ORDER BY id DESC` + w.page(f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var (
		e   domain.AuditEntry
		raw []byte
	)
	if err := row.Scan(&e.ID, &e.Event, &e.MarketID, &raw, &e.CreatedAt); err != nil {
		return e, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Detail); err != nil {
			return e, fmt.Errorf("decode detail %d: %w", e.ID, err)
		}
	}
	return e, nil
}
