package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/settlement"
)

// CreateMarketParams describes a new market. Empty Mode and
// ResolutionPolicy take the defaults of the market kind.
type CreateMarketParams struct {
	Name             string
	Description      string
	Asset            domain.AssetID
	StartTime        int64
	EndTime          int64
	Mode             domain.MarketMode
	ResolutionPolicy domain.ResolutionPolicy
	FeeParam         uint64
	SlippageParam    uint64
	SeedLiquidity    uint64
}

// CreateFixedMarket creates a fixed market, House mode unless stated.
func (e *Engine) CreateFixedMarket(ctx context.Context, caller domain.Identity, p CreateMarketParams) (domain.Market, error) {
	if p.Mode == "" {
		p.Mode = domain.ModeHouse
	}
	return e.createMarket(ctx, caller, domain.MarketKindFixed, p)
}

// CreatePool creates a parimutuel pool.
func (e *Engine) CreatePool(ctx context.Context, caller domain.Identity, p CreateMarketParams) (domain.Market, error) {
	if p.Mode == "" {
		p.Mode = domain.ModeParimutuel
	}
	if p.Mode != domain.ModeParimutuel {
		return domain.Market{}, fmt.Errorf("market_service: create pool: %w", domain.ErrInvalidPolicy)
	}
	return e.createMarket(ctx, caller, domain.MarketKindPool, p)
}

func checkModePolicy(mode domain.MarketMode, policy domain.ResolutionPolicy) error {
	switch mode {
	case domain.ModeHouse:
		if policy != domain.PolicyTargetOnly && policy != domain.PolicyRange {
			return domain.ErrInvalidPolicy
		}
	case domain.ModeParimutuel:
		if policy != domain.PolicyTargetOnly {
			return domain.ErrInvalidPolicy
		}
	default:
		return domain.ErrInvalidMode
	}
	return nil
}

func (e *Engine) createMarket(ctx context.Context, caller domain.Identity, kind domain.MarketKind, p CreateMarketParams) (domain.Market, error) {
	if p.ResolutionPolicy == "" {
		p.ResolutionPolicy = domain.PolicyTargetOnly
	}
	id := domain.MarketID(kind, p.Name)

	unlock, err := e.lock(ctx, marketKey(id))
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	now := e.now().UTC()
	m := domain.Market{
		ID:               id,
		Name:             p.Name,
		Description:      p.Description,
		Kind:             kind,
		Asset:            p.Asset,
		Creator:          caller,
		StartTime:        p.StartTime,
		EndTime:          p.EndTime,
		Mode:             p.Mode,
		ResolutionPolicy: p.ResolutionPolicy,
		FeeParam:         p.FeeParam,
		SlippageParam:    p.SlippageParam,
		VaultBalance:     p.SeedLiquidity,
		TotalWeight:      new(uint256.Int),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := tx.Config().Get(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		if cfg.Paused {
			return domain.ErrPaused
		}
		if _, err := tx.Markets().Get(ctx, id); err == nil {
			return domain.ErrDuplicateMarket
		}
		if p.EndTime <= p.StartTime {
			return domain.ErrInvalidWindow
		}
		if !cfg.IsAllowed(p.Asset) {
			return domain.ErrAssetNotAllowed
		}
		if err := checkModePolicy(p.Mode, p.ResolutionPolicy); err != nil {
			return err
		}
		if err := tx.Markets().Create(ctx, m); err != nil {
			return err
		}
		if p.SeedLiquidity > 0 {
			return tx.Accounts().Transfer(ctx, m.Asset, caller, m.Vault(), p.SeedLiquidity)
		}
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create %s %q: %w", kind, p.Name, err)
	}

	e.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.String("kind", string(kind)),
		slog.String("mode", string(m.Mode)),
		slog.Uint64("seed", p.SeedLiquidity),
	)
	e.audit(ctx, "market_created", map[string]any{
		domain.AuditMarketKey: m.ID,
		"kind":                string(kind),
		"creator":             caller.Hex(),
		"seed":                p.SeedLiquidity,
	})
	e.publish(ctx, domain.Event{
		Type:     domain.EventMarketCreated,
		MarketID: m.ID,
		Actor:    caller,
		Attrs:    map[string]string{"name": m.Name, "mode": string(m.Mode)},
	})
	return m, nil
}

// ResolveMarket records the resolution value of an expired market. It
// succeeds once per market.
func (e *Engine) ResolveMarket(ctx context.Context, caller domain.Identity, id string, value int64) (domain.Market, error) {
	m, err := e.mutateMarket(ctx, id, func(tx domain.Tx, cfg domain.GlobalConfig, m *domain.Market) error {
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		if m.Resolved {
			return domain.ErrAlreadyResolved
		}
		now := e.unix()
		if now < m.EndTime {
			return domain.ErrNotExpired
		}
		m.Resolved = true
		m.ResolutionValue = value
		m.ResolutionTS = now
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve %s: %w", id, err)
	}

	e.logger.InfoContext(ctx, "market_service: market resolved",
		slog.String("market_id", id),
		slog.Int64("value", value),
	)
	e.audit(ctx, "market_resolved", map[string]any{domain.AuditMarketKey: id, "value": value})
	e.publish(ctx, domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: id,
		Actor:    caller,
		Attrs:    map[string]string{"value": strconv.FormatInt(value, 10)},
	})
	return m, nil
}

// FinalizeWeights fixes the total weight of a resolved parimutuel market and
// moves the parimutuel fee of the vault to the treasury.
func (e *Engine) FinalizeWeights(ctx context.Context, caller domain.Identity, id string) (domain.Market, error) {
	var fee uint64
	m, err := e.mutateMarket(ctx, id, func(tx domain.Tx, cfg domain.GlobalConfig, m *domain.Market) error {
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		if m.Mode != domain.ModeParimutuel {
			return domain.ErrInvalidMode
		}
		if !m.Resolved {
			return domain.ErrNotResolved
		}
		if m.Finalized {
			return domain.ErrAlreadyFinalized
		}

		bets, err := tx.Bets().ListByMarket(ctx, m.ID)
		if err != nil {
			return err
		}
		total := new(uint256.Int)
		for _, b := range bets {
			if b.Calculated && b.Weight != nil {
				total.Add(total, b.Weight)
			}
		}

		fee, _, err = settlement.SplitFee(m.VaultBalance, cfg.ParimutuelFeeBps)
		if err != nil {
			return err
		}
		if err := tx.Accounts().Transfer(ctx, m.Asset, m.Vault(), cfg.Treasury, fee); err != nil {
			return err
		}
		m.VaultBalance -= fee
		m.Distributable = m.VaultBalance
		m.TotalWeight = total
		m.Finalized = true
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: finalize %s: %w", id, err)
	}

	e.logger.InfoContext(ctx, "market_service: weights finalized",
		slog.String("market_id", id),
		slog.String("total_weight", m.Weight().Dec()),
		slog.Uint64("fee", fee),
		slog.Uint64("distributable", m.Distributable),
	)
	e.audit(ctx, "weights_finalized", map[string]any{
		domain.AuditMarketKey: id,
		"total_weight":        m.Weight().Dec(),
		"fee":                 fee,
		"distributable":       m.Distributable,
	})
	e.publish(ctx, domain.Event{
		Type:     domain.EventWeightsFinalized,
		MarketID: id,
		Actor:    caller,
		Attrs: map[string]string{
			"total_weight":  m.Weight().Dec(),
			"distributable": strconv.FormatUint(m.Distributable, 10),
		},
	})
	return m, nil
}

// mutateMarket loads a market under its lock and persists fn's changes.
func (e *Engine) mutateMarket(ctx context.Context, id string, fn func(tx domain.Tx, cfg domain.GlobalConfig, m *domain.Market) error) (domain.Market, error) {
	unlock, err := e.lock(ctx, marketKey(id))
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	var out domain.Market
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := tx.Config().Get(ctx)
		if err != nil {
			return err
		}
		m, err := tx.Markets().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, cfg, &m); err != nil {
			return err
		}
		m.UpdatedAt = e.now().UTC()
		out = m
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		return domain.Market{}, err
	}
	e.invalidate(ctx, id)
	return out, nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the store on a miss.
func (e *Engine) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if e.cache != nil {
		if m, err := e.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	var m domain.Market
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		m, err = tx.Markets().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", id, err)
	}

	if e.cache != nil {
		if cacheErr := e.cache.Set(ctx, m); cacheErr != nil {
			e.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets lists markets matching f.
func (e *Engine) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	var out []domain.Market
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Markets().List(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return out, nil
}

// MarketHistory returns the audit trail of a market, newest first.
func (e *Engine) MarketHistory(ctx context.Context, id string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if _, err := e.GetMarket(ctx, id); err != nil {
		return nil, err
	}
	entries, err := e.store.Audit().List(ctx, domain.AuditFilter{MarketID: id, ListOpts: opts})
	if err != nil {
		return nil, fmt.Errorf("market_service: history %s: %w", id, err)
	}
	return entries, nil
}
