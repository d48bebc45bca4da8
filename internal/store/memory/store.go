// Package memory is an in-process implementation of domain.Store. Writes made
// inside a transaction are staged and only become visible when the callback
// returns nil.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

type balanceKey struct {
	asset domain.AssetID
	owner domain.Identity
}

// Store holds the committed ledger state.
type Store struct {
	mu       sync.Mutex
	cfg      *domain.GlobalConfig
	assets   map[string]domain.AssetConfig
	markets  map[string]domain.Market
	bets     map[string]domain.UserBet
	balances map[balanceKey]uint64

	audit *AuditStore
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		assets:   make(map[string]domain.AssetConfig),
		markets:  make(map[string]domain.Market),
		bets:     make(map[string]domain.UserBet),
		balances: make(map[balanceKey]uint64),
		audit:    NewAuditStore(),
	}
}

// Audit returns the audit log.
func (s *Store) Audit() domain.AuditStore { return s.audit }

// InTx runs fn against a staged view of the ledger. Transactions are
// serialized; fn must not call InTx again.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		s:       s,
		markets: make(map[string]domain.Market),
		bets:    make(map[string]domain.UserBet),
		assets:  make(map[string]domain.AssetConfig),
		deltas:  make(map[balanceKey]delta),
	}
	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

// delta tracks a balance change as separate credit and debit sums so
// large u64 amounts never need a signed representation.
type delta struct {
	credit uint64
	debit  uint64
}

type tx struct {
	s *Store

	cfg     *domain.GlobalConfig
	assets  map[string]domain.AssetConfig
	markets map[string]domain.Market
	bets    map[string]domain.UserBet
	deltas  map[balanceKey]delta
}

func (t *tx) Config() domain.ConfigRepo { return configRepo{t} }
func (t *tx) Assets() domain.AssetRepo { return assetRepo{t} }
func (t *tx) Markets() domain.MarketRepo { return marketRepo{t} }
func (t *tx) Bets() domain.BetRepo { return betRepo{t} }
func (t *tx) Accounts() domain.AccountRepo { return accountRepo{t} }

func (t *tx) commit() error {
	// Validate every balance first so a failing transfer leaves nothing applied.
	next := make(map[balanceKey]uint64, len(t.deltas))
	for k, d := range t.deltas {
		bal := t.s.balances[k] + d.credit
		if bal < d.credit {
			return fmt.Errorf("memory: commit: balance overflow for %s", k.owner.Hex())
		}
		if bal < d.debit {
			return fmt.Errorf("memory: commit: %s: %w", k.owner.Hex(), domain.ErrInsufficientBalance)
		}
		next[k] = bal - d.debit
	}

	for k, v := range next {
		t.s.balances[k] = v
	}
	if t.cfg != nil {
		c := t.cfg.Clone()
		t.s.cfg = &c
	}
	for k, v := range t.assets {
		t.s.assets[k] = v
	}
	for k, v := range t.markets {
		t.s.markets[k] = cloneMarket(v)
	}
	for k, v := range t.bets {
		t.s.bets[k] = v.Clone()
	}
	return nil
}

func cloneMarket(m domain.Market) domain.Market {
	if m.TotalWeight != nil {
		m.TotalWeight = m.TotalWeight.Clone()
	}
	return m
}

// --- config ---

type configRepo struct{ t *tx }

func (r configRepo) Get(_ context.Context) (domain.GlobalConfig, error) {
	if r.t.cfg != nil {
		return r.t.cfg.Clone(), nil
	}
	if r.t.s.cfg == nil {
		return domain.GlobalConfig{}, domain.ErrNotInitialized
	}
	return r.t.s.cfg.Clone(), nil
}

func (r configRepo) Put(_ context.Context, cfg domain.GlobalConfig) error {
	c := cfg.Clone()
	r.t.cfg = &c
	return nil
}

// --- assets ---

type assetRepo struct{ t *tx }

func (r assetRepo) Get(_ context.Context, symbol string) (domain.AssetConfig, error) {
	if a, ok := r.t.assets[symbol]; ok {
		return a, nil
	}
	if a, ok := r.t.s.assets[symbol]; ok {
		return a, nil
	}
	return domain.AssetConfig{}, fmt.Errorf("memory: asset %s: %w", symbol, domain.ErrNotFound)
}

func (r assetRepo) Put(_ context.Context, a domain.AssetConfig) error {
	r.t.assets[a.Symbol] = a
	return nil
}

func (r assetRepo) List(_ context.Context) ([]domain.AssetConfig, error) {
	merged := make(map[string]domain.AssetConfig, len(r.t.s.assets)+len(r.t.assets))
	for k, v := range r.t.s.assets {
		merged[k] = v
	}
	for k, v := range r.t.assets {
		merged[k] = v
	}
	out := make([]domain.AssetConfig, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// --- markets ---

type marketRepo struct{ t *tx }

func (r marketRepo) lookup(id string) (domain.Market, bool) {
	if m, ok := r.t.markets[id]; ok {
		return m, true
	}
	m, ok := r.t.s.markets[id]
	return m, ok
}

func (r marketRepo) Get(_ context.Context, id string) (domain.Market, error) {
	m, ok := r.lookup(id)
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	return cloneMarket(m), nil
}

func (r marketRepo) Create(_ context.Context, m domain.Market) error {
	if _, ok := r.lookup(m.ID); ok {
		return fmt.Errorf("memory: market %s: %w", m.ID, domain.ErrDuplicateMarket)
	}
	r.t.markets[m.ID] = cloneMarket(m)
	return nil
}

func (r marketRepo) Update(_ context.Context, m domain.Market) error {
	if _, ok := r.lookup(m.ID); !ok {
		return fmt.Errorf("memory: market %s: %w", m.ID, domain.ErrNotFound)
	}
	r.t.markets[m.ID] = cloneMarket(m)
	return nil
}

func (r marketRepo) List(_ context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	merged := make(map[string]domain.Market, len(r.t.s.markets)+len(r.t.markets))
	for k, v := range r.t.s.markets {
		merged[k] = v
	}
	for k, v := range r.t.markets {
		merged[k] = v
	}

	out := make([]domain.Market, 0, len(merged))
	for _, m := range merged {
		if f.Kind != "" && m.Kind != f.Kind {
			continue
		}
		if f.Resolved != nil && m.Resolved != *f.Resolved {
			continue
		}
		out = append(out, cloneMarket(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, f.Offset, f.Limit), nil
}

// --- bets ---

type betRepo struct{ t *tx }

func (r betRepo) lookup(id string) (domain.UserBet, bool) {
	if b, ok := r.t.bets[id]; ok {
		return b, true
	}
	b, ok := r.t.s.bets[id]
	return b, ok
}

func (r betRepo) Get(_ context.Context, id string) (domain.UserBet, error) {
	b, ok := r.lookup(id)
	if !ok {
		return domain.UserBet{}, fmt.Errorf("memory: bet %s: %w", id, domain.ErrNotFound)
	}
	return b.Clone(), nil
}

func (r betRepo) Create(_ context.Context, b domain.UserBet) error {
	if _, ok := r.lookup(b.ID); ok {
		return fmt.Errorf("memory: bet %s: %w", b.ID, domain.ErrDuplicateBet)
	}
	r.t.bets[b.ID] = b.Clone()
	return nil
}

func (r betRepo) Update(_ context.Context, b domain.UserBet) error {
	if _, ok := r.lookup(b.ID); !ok {
		return fmt.Errorf("memory: bet %s: %w", b.ID, domain.ErrNotFound)
	}
	r.t.bets[b.ID] = b.Clone()
	return nil
}

func (r betRepo) ListByMarket(_ context.Context, marketID string) ([]domain.UserBet, error) {
	merged := make(map[string]domain.UserBet)
	for k, v := range r.t.s.bets {
		if v.MarketID == marketID {
			merged[k] = v
		}
	}
	for k, v := range r.t.bets {
		if v.MarketID == marketID {
			merged[k] = v
		}
	}
	out := make([]domain.UserBet, 0, len(merged))
	for _, b := range merged {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- accounts ---

type accountRepo struct{ t *tx }

func (r accountRepo) balance(k balanceKey) uint64 {
	d := r.t.deltas[k]
	return r.t.s.balances[k] + d.credit - d.debit
}

func (r accountRepo) Balance(_ context.Context, asset domain.AssetID, owner domain.Identity) (uint64, error) {
	return r.balance(balanceKey{asset, owner}), nil
}

func (r accountRepo) Mint(_ context.Context, asset domain.AssetID, owner domain.Identity, amount uint64) error {
	k := balanceKey{asset, owner}
	if r.balance(k)+amount < amount {
		return fmt.Errorf("memory: mint: balance overflow for %s", owner.Hex())
	}
	d := r.t.deltas[k]
	d.credit += amount
	r.t.deltas[k] = d
	return nil
}

func (r accountRepo) Transfer(_ context.Context, asset domain.AssetID, from, to domain.Identity, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	fk, tk := balanceKey{asset, from}, balanceKey{asset, to}
	if r.balance(fk) < amount {
		return fmt.Errorf("memory: transfer from %s: %w", from.Hex(), domain.ErrInsufficientBalance)
	}
	if r.balance(tk)+amount < amount {
		return fmt.Errorf("memory: transfer to %s: balance overflow", to.Hex())
	}

	fd := r.t.deltas[fk]
	fd.debit += amount
	r.t.deltas[fk] = fd

	td := r.t.deltas[tk]
	td.credit += amount
	r.t.deltas[tk] = td
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
