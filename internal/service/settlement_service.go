package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/settlement"
)

// mutateBet loads a bet and its market under both locks and persists fn's
// changes to each in one transaction.
func (e *Engine) mutateBet(ctx context.Context, betID string, fn func(tx domain.Tx, cfg domain.GlobalConfig, m *domain.Market, b *domain.UserBet) error) (domain.UserBet, domain.Market, error) {
	var marketID string
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		b, err := tx.Bets().Get(ctx, betID)
		if err != nil {
			return err
		}
		marketID = b.MarketID
		return nil
	})
	if err != nil {
		return domain.UserBet{}, domain.Market{}, err
	}

	unlock, err := e.lock(ctx, marketKey(marketID), betKey(betID))
	if err != nil {
		return domain.UserBet{}, domain.Market{}, err
	}
	defer unlock()

	var outBet domain.UserBet
	var outMarket domain.Market
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := tx.Config().Get(ctx)
		if err != nil {
			return err
		}
		b, err := tx.Bets().Get(ctx, betID)
		if err != nil {
			return err
		}
		m, err := tx.Markets().Get(ctx, b.MarketID)
		if err != nil {
			return err
		}
		if err := fn(tx, cfg, &m, &b); err != nil {
			return err
		}
		now := e.now().UTC()
		b.UpdatedAt, m.UpdatedAt = now, now
		outBet, outMarket = b, m
		if err := tx.Bets().Update(ctx, b); err != nil {
			return err
		}
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		return domain.UserBet{}, domain.Market{}, err
	}
	e.invalidate(ctx, marketID)
	return outBet, outMarket, nil
}

// releaseLiability returns a House bet's reserved liability to the vault.
func releaseLiability(m *domain.Market, b domain.UserBet) error {
	if m.Mode != domain.ModeHouse {
		return nil
	}
	liability, err := settlement.Liability(b.Deposit, b.MultiplierBps)
	if err != nil {
		return err
	}
	if liability > m.LockedForPayouts {
		liability = m.LockedForPayouts
	}
	m.LockedForPayouts -= liability
	return nil
}

// scoreBet computes a revealed bet's weight against the resolved market and
// marks it calculated. House bets exchange their liability for the payout.
func scoreBet(policy settlement.WeightPolicy, m *domain.Market, b *domain.UserBet) error {
	switch m.Mode {
	case domain.ModeHouse:
		w := settlement.HouseWeight(m.ResolutionPolicy, *b, m.ResolutionValue, m.FeeParam)
		payout, err := settlement.HousePayout(b.Deposit, w)
		if err != nil {
			return err
		}
		if err := releaseLiability(m, *b); err != nil {
			return err
		}
		locked, err := settlement.AddU64(m.LockedForPayouts, payout)
		if err != nil {
			return err
		}
		m.LockedForPayouts = locked
		b.Weight = w
		b.Payout = payout
	default:
		w, err := policy.Weight(settlement.ParimutuelInput(*m, *b))
		if err != nil {
			return err
		}
		b.Weight = w
	}
	b.Calculated = true
	b.Status = domain.BetStatusCalculated
	return nil
}

func checkCalculable(m domain.Market, b domain.UserBet) error {
	switch {
	case !m.Resolved:
		return domain.ErrNotResolved
	case b.Delegated():
		return domain.ErrNotYetUndelegated
	case !b.Revealed:
		return domain.ErrNotRevealed
	case b.Status == domain.BetStatusRefunded:
		return domain.ErrAlreadyClaimed
	case b.Calculated:
		return domain.ErrAlreadyCalculated
	case m.Finalized:
		return domain.ErrAlreadyFinalized
	}
	return nil
}

// CalculateOutcome scores a revealed bet against the resolution value. Anyone
// may call it; it succeeds once per bet.
func (e *Engine) CalculateOutcome(ctx context.Context, caller domain.Identity, betID string) (domain.UserBet, error) {
	b, m, err := e.mutateBet(ctx, betID, func(_ domain.Tx, _ domain.GlobalConfig, m *domain.Market, b *domain.UserBet) error {
		if err := checkCalculable(*m, *b); err != nil {
			return err
		}
		return scoreBet(e.policy, m, b)
	})
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("settlement_service: calculate %s: %w", betID, err)
	}

	e.logger.InfoContext(ctx, "settlement_service: outcome calculated",
		slog.String("bet_id", betID),
		slog.String("market_id", m.ID),
		slog.String("weight", b.Weight.Dec()),
	)
	e.publish(ctx, domain.Event{
		Type:     domain.EventOutcomeCalculated,
		MarketID: m.ID,
		BetID:    betID,
		Actor:    caller,
		Attrs:    map[string]string{"weight": b.Weight.Dec()},
	})
	return b, nil
}

// ClaimReward pays a calculated bet to its owner. It succeeds once per bet,
// including for a zero payout.
func (e *Engine) ClaimReward(ctx context.Context, caller domain.Identity, betID string) (domain.UserBet, error) {
	b, m, err := e.mutateBet(ctx, betID, func(tx domain.Tx, _ domain.GlobalConfig, m *domain.Market, b *domain.UserBet) error {
		if b.Owner != caller {
			return domain.ErrUnauthorized
		}
		if b.Claimed || b.Status == domain.BetStatusRefunded {
			return domain.ErrAlreadyClaimed
		}
		if !b.Calculated {
			return domain.ErrNotSettled
		}

		var payout uint64
		switch m.Mode {
		case domain.ModeHouse:
			payout = b.Payout
			if payout > m.VaultBalance {
				return domain.ErrInsufficientVault
			}
			release := payout
			if release > m.LockedForPayouts {
				release = m.LockedForPayouts
			}
			m.LockedForPayouts -= release
		default:
			if !m.Finalized {
				return domain.ErrNotSettled
			}
			var err error
			payout, err = settlement.PoolShare(b.Weight, m.Distributable, m.Weight())
			if err != nil {
				return err
			}
			if payout > m.VaultBalance {
				return domain.ErrInsufficientVault
			}
		}

		if err := tx.Accounts().Transfer(ctx, m.Asset, m.Vault(), b.Owner, payout); err != nil {
			return err
		}
		m.VaultBalance -= payout
		b.Payout = payout
		b.Claimed = true
		b.Status = domain.BetStatusSettled
		return nil
	})
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("settlement_service: claim %s: %w", betID, err)
	}

	e.logger.InfoContext(ctx, "settlement_service: reward claimed",
		slog.String("bet_id", betID),
		slog.String("market_id", m.ID),
		slog.Uint64("payout", b.Payout),
	)
	e.publish(ctx, domain.Event{
		Type:     domain.EventRewardClaimed,
		MarketID: m.ID,
		BetID:    betID,
		Actor:    caller,
		Attrs:    map[string]string{"payout": strconv.FormatUint(b.Payout, 10)},
	})
	return b, nil
}

// RefundBet returns the deposit of a bet that was never revealed, less the
// refund penalty, once the market has ended.
func (e *Engine) RefundBet(ctx context.Context, caller domain.Identity, betID string) (domain.UserBet, error) {
	var penalty uint64
	b, m, err := e.mutateBet(ctx, betID, func(tx domain.Tx, cfg domain.GlobalConfig, m *domain.Market, b *domain.UserBet) error {
		if b.Owner != caller {
			return domain.ErrUnauthorized
		}
		if b.Claimed || b.Status == domain.BetStatusRefunded {
			return domain.ErrAlreadyClaimed
		}
		if b.Delegated() {
			return domain.ErrNotYetUndelegated
		}
		if b.Revealed {
			return domain.ErrAlreadyRevealed
		}
		if e.unix() < m.EndTime {
			return domain.ErrNotExpired
		}
		if m.Finalized {
			return domain.ErrAlreadyFinalized
		}

		var err error
		penalty, err = settlement.MulDiv(b.Deposit, settlement.RefundPenaltyBps, settlement.BpsScale)
		if err != nil {
			return err
		}
		return e.refund(ctx, tx, cfg, m, b, penalty)
	})
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("settlement_service: refund %s: %w", betID, err)
	}

	e.logRefund(ctx, caller, m, b, penalty, "penalized")
	return b, nil
}

// EmergencyRefund returns the full deposit when a market was never resolved
// within the emergency timeout after its end.
func (e *Engine) EmergencyRefund(ctx context.Context, caller domain.Identity, betID string) (domain.UserBet, error) {
	b, m, err := e.mutateBet(ctx, betID, func(tx domain.Tx, cfg domain.GlobalConfig, m *domain.Market, b *domain.UserBet) error {
		if b.Owner != caller {
			return domain.ErrUnauthorized
		}
		if b.Claimed || b.Status == domain.BetStatusRefunded {
			return domain.ErrAlreadyClaimed
		}
		if m.Resolved {
			return domain.ErrAlreadyResolved
		}
		if e.unix() < m.EndTime+int64(e.opts.EmergencyTimeout/time.Second) {
			return domain.ErrTimeoutNotMet
		}
		if b.Delegated() {
			return domain.ErrNotYetUndelegated
		}
		return e.refund(ctx, tx, cfg, m, b, 0)
	})
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("settlement_service: emergency refund %s: %w", betID, err)
	}

	e.logRefund(ctx, caller, m, b, 0, "emergency")
	return b, nil
}

func (e *Engine) refund(ctx context.Context, tx domain.Tx, cfg domain.GlobalConfig, m *domain.Market, b *domain.UserBet, penalty uint64) error {
	if b.Deposit > m.VaultBalance {
		return domain.ErrInsufficientVault
	}
	if err := releaseLiability(m, *b); err != nil {
		return err
	}
	if err := tx.Accounts().Transfer(ctx, m.Asset, m.Vault(), cfg.Treasury, penalty); err != nil {
		return err
	}
	if err := tx.Accounts().Transfer(ctx, m.Asset, m.Vault(), b.Owner, b.Deposit-penalty); err != nil {
		return err
	}
	m.VaultBalance -= b.Deposit
	b.Payout = b.Deposit - penalty
	b.Claimed = true
	b.Status = domain.BetStatusRefunded
	return nil
}

func (e *Engine) logRefund(ctx context.Context, caller domain.Identity, m domain.Market, b domain.UserBet, penalty uint64, kind string) {
	e.logger.InfoContext(ctx, "settlement_service: bet refunded",
		slog.String("bet_id", b.ID),
		slog.String("market_id", m.ID),
		slog.String("kind", kind),
		slog.Uint64("amount", b.Payout),
		slog.Uint64("penalty", penalty),
	)
	e.publish(ctx, domain.Event{
		Type:     domain.EventBetRefunded,
		MarketID: m.ID,
		BetID:    b.ID,
		Actor:    caller,
		Attrs: map[string]string{
			"kind":    kind,
			"amount":  strconv.FormatUint(b.Payout, 10),
			"penalty": strconv.FormatUint(penalty, 10),
		},
	})
}

// BatchCalculate scores every revealed, undelegated and uncalculated bet of a
// resolved market once the batch grace period has passed. Parimutuel weights
// computed this way carry the batch penalty. It returns the number of bets
// scored.
func (e *Engine) BatchCalculate(ctx context.Context, caller domain.Identity, marketID string) (int, error) {
	unlock, err := e.lock(ctx, marketKey(marketID))
	if err != nil {
		return 0, err
	}
	defer unlock()

	var scored []string
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := tx.Config().Get(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		m, err := tx.Markets().Get(ctx, marketID)
		if err != nil {
			return err
		}
		if !m.Resolved {
			return domain.ErrNotResolved
		}
		if m.Finalized {
			return domain.ErrAlreadyFinalized
		}
		if e.unix() < m.ResolutionTS+int64(e.opts.BatchGrace/time.Second) {
			return domain.ErrTimeoutNotMet
		}

		bets, err := tx.Bets().ListByMarket(ctx, marketID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		for _, b := range bets {
			if checkCalculable(m, b) != nil {
				continue
			}
			if err := scoreBet(e.policy, &m, &b); err != nil {
				return fmt.Errorf("bet %s: %w", b.ID, err)
			}
			if m.Mode == domain.ModeParimutuel {
				b.Weight = settlement.ApplyPenalty(b.Weight, settlement.BatchPenaltyBps)
			}
			b.UpdatedAt = now
			if err := tx.Bets().Update(ctx, b); err != nil {
				return err
			}
			scored = append(scored, b.ID)
		}
		m.UpdatedAt = now
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		return 0, fmt.Errorf("settlement_service: batch calculate %s: %w", marketID, err)
	}
	e.invalidate(ctx, marketID)

	e.logger.InfoContext(ctx, "settlement_service: batch calculated",
		slog.String("market_id", marketID),
		slog.Int("count", len(scored)),
	)
	e.audit(ctx, "batch_calculated", map[string]any{domain.AuditMarketKey: marketID, "count": len(scored)})
	for _, id := range scored {
		e.publish(ctx, domain.Event{
			Type:     domain.EventOutcomeCalculated,
			MarketID: marketID,
			BetID:    id,
			Actor:    caller,
			Attrs:    map[string]string{"batch": "true"},
		})
	}
	return len(scored), nil
}
