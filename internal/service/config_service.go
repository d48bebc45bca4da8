package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// InitParams seeds the protocol configuration. A nil Admin makes the caller
// the admin.
type InitParams struct {
	Admin            *domain.Identity
	Treasury         domain.Identity
	HouseFeeBps      uint16
	ParimutuelFeeBps uint16
	AllowedAssets    []domain.AssetID
}

func validFee(bps uint16) error {
	if bps > domain.MaxBps {
		return domain.ErrInvalidFee
	}
	return nil
}

func validAssets(assets []domain.AssetID) error {
	seen := make(map[domain.AssetID]struct{}, len(assets))
	for _, a := range assets {
		if _, dup := seen[a]; dup {
			return domain.ErrInvalidAssetList
		}
		seen[a] = struct{}{}
	}
	return nil
}

// InitializeProtocol creates the configuration record.
func (e *Engine) InitializeProtocol(ctx context.Context, caller domain.Identity, p InitParams) (domain.GlobalConfig, error) {
	unlock, err := e.lock(ctx, configKey)
	if err != nil {
		return domain.GlobalConfig{}, err
	}
	defer unlock()

	admin := caller
	if p.Admin != nil {
		admin = *p.Admin
	}

	var out domain.GlobalConfig
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.Config().Get(ctx); err == nil {
			return domain.ErrAlreadyInitialized
		} else if !errors.Is(err, domain.ErrNotInitialized) {
			return err
		}
		if err := validFee(p.HouseFeeBps); err != nil {
			return err
		}
		if err := validFee(p.ParimutuelFeeBps); err != nil {
			return err
		}
		if err := validAssets(p.AllowedAssets); err != nil {
			return err
		}
		if admin == domain.ZeroIdentity {
			return domain.ErrInvalidIdentity
		}

		out = domain.GlobalConfig{
			Admin:            admin,
			Treasury:         p.Treasury,
			HouseFeeBps:      p.HouseFeeBps,
			ParimutuelFeeBps: p.ParimutuelFeeBps,
			AllowedAssets:    append([]domain.AssetID(nil), p.AllowedAssets...),
			Version:          1,
			UpdatedAt:        e.now().UTC(),
		}
		return tx.Config().Put(ctx, out)
	})
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: initialize: %w", err)
	}

	e.logger.InfoContext(ctx, "config_service: protocol initialized",
		slog.String("admin", out.Admin.Hex()),
		slog.String("treasury", out.Treasury.Hex()),
	)
	e.audit(ctx, "protocol_initialized", map[string]any{"admin": out.Admin.Hex()})
	e.publish(ctx, domain.Event{Type: domain.EventProtocolInitialized, Actor: caller})
	return out, nil
}

// mutateConfig runs fn on the stored configuration and persists the result
// with a bumped version.
func (e *Engine) mutateConfig(ctx context.Context, fn func(cfg *domain.GlobalConfig) error) (domain.GlobalConfig, error) {
	unlock, err := e.lock(ctx, configKey)
	if err != nil {
		return domain.GlobalConfig{}, err
	}
	defer unlock()

	var out domain.GlobalConfig
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := tx.Config().Get(ctx)
		if err != nil {
			return err
		}
		if err := fn(&cfg); err != nil {
			return err
		}
		cfg.Version++
		cfg.UpdatedAt = e.now().UTC()
		out = cfg
		return tx.Config().Put(ctx, cfg)
	})
	return out, err
}

// UpdateConfig applies a patch. Fields left as Keep are unchanged.
func (e *Engine) UpdateConfig(ctx context.Context, caller domain.Identity, patch domain.ConfigPatch) (domain.GlobalConfig, error) {
	cfg, err := e.mutateConfig(ctx, func(cfg *domain.GlobalConfig) error {
		if err := requireAdmin(*cfg, caller); err != nil {
			return err
		}
		if fee, ok := patch.HouseFeeBps.Get(); ok {
			if err := validFee(fee); err != nil {
				return err
			}
		}
		if fee, ok := patch.ParimutuelFeeBps.Get(); ok {
			if err := validFee(fee); err != nil {
				return err
			}
		}
		if assets, ok := patch.AllowedAssets.Get(); ok {
			if err := validAssets(assets); err != nil {
				return err
			}
			patch.AllowedAssets = domain.SetTo(append([]domain.AssetID(nil), assets...))
		}

		patch.Treasury.Apply(&cfg.Treasury)
		patch.HouseFeeBps.Apply(&cfg.HouseFeeBps)
		patch.ParimutuelFeeBps.Apply(&cfg.ParimutuelFeeBps)
		patch.AllowedAssets.Apply(&cfg.AllowedAssets)
		return nil
	})
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: update: %w", err)
	}

	e.audit(ctx, "config_updated", map[string]any{
		"version":            cfg.Version,
		"house_fee_bps":      cfg.HouseFeeBps,
		"parimutuel_fee_bps": cfg.ParimutuelFeeBps,
		"allowed_assets":     len(cfg.AllowedAssets),
	})
	e.publish(ctx, domain.Event{Type: domain.EventConfigUpdated, Actor: caller})
	return cfg, nil
}

// SetPause toggles the protocol-wide pause flag.
func (e *Engine) SetPause(ctx context.Context, caller domain.Identity, paused bool) (domain.GlobalConfig, error) {
	cfg, err := e.mutateConfig(ctx, func(cfg *domain.GlobalConfig) error {
		if err := requireAdmin(*cfg, caller); err != nil {
			return err
		}
		cfg.Paused = paused
		return nil
	})
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: set pause: %w", err)
	}

	e.logger.WarnContext(ctx, "config_service: pause changed", slog.Bool("paused", paused))
	e.audit(ctx, "protocol_paused", map[string]any{"paused": paused})
	e.publish(ctx, domain.Event{
		Type:  domain.EventPauseChanged,
		Actor: caller,
		Attrs: map[string]string{"paused": strconv.FormatBool(paused)},
	})
	return cfg, nil
}

// ConfigAsset creates or overwrites the asset configuration for a symbol.
func (e *Engine) ConfigAsset(ctx context.Context, caller domain.Identity, a domain.AssetConfig) (domain.AssetConfig, error) {
	if a.Symbol == "" {
		return domain.AssetConfig{}, fmt.Errorf("config_service: config asset: %w", domain.ErrInvalidSymbol)
	}
	if a.MercyBufferBps == 0 {
		a.MercyBufferBps = domain.DefaultMercyBufferBps
	}
	a.UpdatedAt = e.now().UTC()

	unlock, err := e.lock(ctx, "asset:"+a.Symbol)
	if err != nil {
		return domain.AssetConfig{}, err
	}
	defer unlock()

	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := tx.Config().Get(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		return tx.Assets().Put(ctx, a)
	})
	if err != nil {
		return domain.AssetConfig{}, fmt.Errorf("config_service: config asset %s: %w", a.Symbol, err)
	}

	e.publish(ctx, domain.Event{
		Type:  domain.EventAssetConfigured,
		Actor: caller,
		Attrs: map[string]string{"symbol": a.Symbol, "id": domain.AssetConfigID(a.Symbol)},
	})
	return a, nil
}

func (e *Engine) transferFields(cfg domain.GlobalConfig, newAdmin domain.Identity) []string {
	return []string{
		"transfer_admin",
		cfg.Admin.Hex(),
		newAdmin.Hex(),
		strconv.FormatUint(cfg.Version, 10),
	}
}

// AdminTransferChallenge returns the confirmation token TransferAdmin
// requires. The token is bound to the current config version, so any config
// change invalidates it.
func (e *Engine) AdminTransferChallenge(ctx context.Context, caller, newAdmin domain.Identity) (string, error) {
	cfg, err := e.Config(ctx)
	if err != nil {
		return "", err
	}
	if err := requireAdmin(cfg, caller); err != nil {
		return "", fmt.Errorf("config_service: admin challenge: %w", err)
	}
	return e.confirm.Token(e.transferFields(cfg, newAdmin)...), nil
}

// TransferAdmin hands admin rights to newAdmin immediately. The outgoing
// admin keeps no rights afterwards.
func (e *Engine) TransferAdmin(ctx context.Context, caller, newAdmin domain.Identity, confirmation string) (domain.GlobalConfig, error) {
	var prev domain.Identity
	cfg, err := e.mutateConfig(ctx, func(cfg *domain.GlobalConfig) error {
		if err := requireAdmin(*cfg, caller); err != nil {
			return err
		}
		if newAdmin == domain.ZeroIdentity {
			return domain.ErrInvalidIdentity
		}
		if !e.confirm.Verify(confirmation, e.transferFields(*cfg, newAdmin)...) {
			return domain.ErrConfirmationRequired
		}
		prev = cfg.Admin
		cfg.Admin = newAdmin
		cfg.PendingAdmin = nil
		cfg.PendingAdminEligibleAt = 0
		return nil
	})
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: transfer admin: %w", err)
	}
	e.adminChanged(ctx, caller, prev, newAdmin, "transfer")
	return cfg, nil
}

// ProposeAdmin starts a timelocked handoff that newAdmin completes with
// AcceptAdmin.
func (e *Engine) ProposeAdmin(ctx context.Context, caller, newAdmin domain.Identity) (domain.GlobalConfig, error) {
	cfg, err := e.mutateConfig(ctx, func(cfg *domain.GlobalConfig) error {
		if err := requireAdmin(*cfg, caller); err != nil {
			return err
		}
		if newAdmin == domain.ZeroIdentity {
			return domain.ErrInvalidIdentity
		}
		p := newAdmin
		cfg.PendingAdmin = &p
		cfg.PendingAdminEligibleAt = e.now().Add(e.opts.AdminTimelock).Unix()
		return nil
	})
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: propose admin: %w", err)
	}

	e.audit(ctx, "admin_proposed", map[string]any{
		"pending":     newAdmin.Hex(),
		"eligible_at": cfg.PendingAdminEligibleAt,
	})
	e.publish(ctx, domain.Event{
		Type:  domain.EventAdminProposed,
		Actor: caller,
		Attrs: map[string]string{
			"pending":     newAdmin.Hex(),
			"eligible_at": time.Unix(cfg.PendingAdminEligibleAt, 0).UTC().Format(time.RFC3339),
		},
	})
	return cfg, nil
}

// AcceptAdmin completes a proposal. Only the pending admin may call it, and
// only once the timelock has passed.
func (e *Engine) AcceptAdmin(ctx context.Context, caller domain.Identity) (domain.GlobalConfig, error) {
	var prev domain.Identity
	cfg, err := e.mutateConfig(ctx, func(cfg *domain.GlobalConfig) error {
		if cfg.PendingAdmin == nil || *cfg.PendingAdmin != caller {
			return domain.ErrAdminMismatch
		}
		if e.unix() < cfg.PendingAdminEligibleAt {
			return domain.ErrTimelockActive
		}
		prev = cfg.Admin
		cfg.Admin = caller
		cfg.PendingAdmin = nil
		cfg.PendingAdminEligibleAt = 0
		return nil
	})
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: accept admin: %w", err)
	}
	e.adminChanged(ctx, caller, prev, caller, "accept")
	return cfg, nil
}

// CancelAdminProposal drops a pending proposal.
func (e *Engine) CancelAdminProposal(ctx context.Context, caller domain.Identity) (domain.GlobalConfig, error) {
	cfg, err := e.mutateConfig(ctx, func(cfg *domain.GlobalConfig) error {
		if err := requireAdmin(*cfg, caller); err != nil {
			return err
		}
		cfg.PendingAdmin = nil
		cfg.PendingAdminEligibleAt = 0
		return nil
	})
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: cancel admin proposal: %w", err)
	}
	return cfg, nil
}

func (e *Engine) adminChanged(ctx context.Context, caller, prev, next domain.Identity, via string) {
	e.logger.WarnContext(ctx, "config_service: admin changed",
		slog.String("from", prev.Hex()),
		slog.String("to", next.Hex()),
		slog.String("via", via),
	)
	e.audit(ctx, "admin_transferred", map[string]any{"from": prev.Hex(), "to": next.Hex(), "via": via})
	e.publish(ctx, domain.Event{
		Type:  domain.EventAdminTransferred,
		Actor: caller,
		Attrs: map[string]string{"from": prev.Hex(), "to": next.Hex(), "via": via},
	})
}

// Config returns the current configuration.
func (e *Engine) Config(ctx context.Context) (domain.GlobalConfig, error) {
	var cfg domain.GlobalConfig
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		cfg, err = tx.Config().Get(ctx)
		return err
	})
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("config_service: get config: %w", err)
	}
	return cfg, nil
}

// Assets lists every configured asset.
func (e *Engine) Assets(ctx context.Context) ([]domain.AssetConfig, error) {
	var out []domain.AssetConfig
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Assets().List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("config_service: list assets: %w", err)
	}
	return out, nil
}
