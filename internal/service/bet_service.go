package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/wagerengine/internal/delegation"
	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/settlement"
)

// PlaceBetParams describes a wager. MultiplierBps and MaxSlippageBps only
// apply to House markets.
type PlaceBetParams struct {
	MarketID       string
	RequestID      string
	Amount         uint64
	MultiplierBps  uint64
	MaxSlippageBps uint64
	Commitment     domain.Digest
}

// PlaceBet moves Amount from the caller: the mode's fee to the treasury and
// the rest into the market vault as the bet's deposit.
func (e *Engine) PlaceBet(ctx context.Context, caller domain.Identity, p PlaceBetParams) (domain.UserBet, error) {
	id := domain.BetID(p.MarketID, caller, p.RequestID)

	unlock, err := e.lock(ctx, marketKey(p.MarketID), betKey(id))
	if err != nil {
		return domain.UserBet{}, err
	}
	defer unlock()

	var bet domain.UserBet
	var fee uint64
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := tx.Config().Get(ctx)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return domain.ErrPaused
		}
		m, err := tx.Markets().Get(ctx, p.MarketID)
		if err != nil {
			return err
		}
		if p.Amount == 0 {
			return domain.ErrInvalidAmount
		}
		now := e.unix()
		if m.Resolved || now < m.StartTime || now >= m.EndTime {
			return domain.ErrBettingClosed
		}
		if _, err := tx.Bets().Get(ctx, id); err == nil {
			return domain.ErrDuplicateBet
		}

		feeBps := cfg.ParimutuelFeeBps
		if m.Mode == domain.ModeHouse {
			feeBps = cfg.HouseFeeBps
		}
		var net uint64
		fee, net, err = settlement.SplitFee(p.Amount, feeBps)
		if err != nil {
			return err
		}
		if net == 0 {
			return domain.ErrInvalidAmount
		}

		created := e.now().UTC()
		bet = domain.UserBet{
			ID:         id,
			MarketID:   m.ID,
			Owner:      caller,
			RequestID:  p.RequestID,
			Deposit:    net,
			Commitment: p.Commitment,
			Holder:     domain.HolderPublic,
			Version:    1,
			CreationTS: now,
			Weight:     new(uint256.Int),
			Status:     domain.BetStatusActive,
			CreatedAt:  created,
			UpdatedAt:  created,
		}

		if m.Mode == domain.ModeHouse {
			mult, liability, err := houseTerms(m, p, net, now)
			if err != nil {
				return err
			}
			vaultAfter, err := settlement.AddU64(m.VaultBalance, net)
			if err != nil {
				return err
			}
			locked, err := settlement.AddU64(m.LockedForPayouts, liability)
			if err != nil || locked > vaultAfter {
				return domain.ErrInsufficientVault
			}
			bet.MultiplierBps = mult
			m.LockedForPayouts = locked
		}

		if m.VaultBalance, err = settlement.AddU64(m.VaultBalance, net); err != nil {
			return err
		}
		m.UpdatedAt = created

		if err := tx.Accounts().Transfer(ctx, m.Asset, caller, cfg.Treasury, fee); err != nil {
			return err
		}
		if err := tx.Accounts().Transfer(ctx, m.Asset, caller, m.Vault(), net); err != nil {
			return err
		}
		if err := tx.Bets().Create(ctx, bet); err != nil {
			return err
		}
		return tx.Markets().Update(ctx, m)
	})
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("bet_service: place bet on %s: %w", p.MarketID, err)
	}
	e.invalidate(ctx, p.MarketID)

	e.logger.InfoContext(ctx, "bet_service: bet placed",
		slog.String("bet_id", bet.ID),
		slog.String("market_id", bet.MarketID),
		slog.Uint64("deposit", bet.Deposit),
		slog.Uint64("fee", fee),
	)
	e.publish(ctx, domain.Event{
		Type:     domain.EventBetPlaced,
		MarketID: bet.MarketID,
		BetID:    bet.ID,
		Actor:    caller,
		Attrs: map[string]string{
			"deposit":        strconv.FormatUint(bet.Deposit, 10),
			"multiplier_bps": strconv.FormatUint(bet.MultiplierBps, 10),
		},
	})
	return bet, nil
}

// houseTerms applies time decay and slippage to the declared multiplier and
// returns the locked multiplier with the liability it reserves.
func houseTerms(m domain.Market, p PlaceBetParams, net uint64, now int64) (mult, liability uint64, err error) {
	if p.MultiplierBps == 0 {
		return 0, 0, domain.ErrInvalidAmount
	}
	declared := p.MultiplierBps
	if declared > settlement.MaxMultiplierBps {
		declared = settlement.MaxMultiplierBps
	}
	decay := settlement.TimeDecayFactor(m.StartTime, m.EndTime, now)
	if decay == 0 {
		return 0, 0, domain.ErrBettingClosed
	}
	mult, err = settlement.MulDiv(declared, decay, settlement.BpsScale)
	if err != nil {
		return 0, 0, err
	}
	if settlement.SlippageExceeded(declared, mult, p.MaxSlippageBps) {
		return 0, 0, domain.ErrSlippageExceeded
	}
	liability, err = settlement.Liability(net, mult)
	if err != nil {
		return 0, 0, domain.ErrInsufficientVault
	}
	return mult, liability, nil
}

// DelegateBet hands the bet to the confidential domain. The public record
// names the confidential holder before the enclave receives its snapshot.
func (e *Engine) DelegateBet(ctx context.Context, caller domain.Identity, betID string) (domain.UserBet, error) {
	if e.coord.Pending(betID) {
		return domain.UserBet{}, fmt.Errorf("bet_service: delegate %s: %w", betID, domain.ErrUndelegationPending)
	}

	unlock, err := e.lock(ctx, betKey(betID))
	if err != nil {
		return domain.UserBet{}, err
	}
	defer unlock()

	var prev, snap domain.UserBet
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := tx.Config().Get(ctx)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return domain.ErrPaused
		}
		b, err := tx.Bets().Get(ctx, betID)
		if err != nil {
			return err
		}
		if b.Owner != caller {
			return domain.ErrUnauthorized
		}
		if b.Delegated() {
			return domain.ErrAlreadyDelegated
		}
		if b.Calculated || b.Status == domain.BetStatusRefunded {
			return domain.ErrAlreadyCalculated
		}
		prev = b.Clone()
		b.Holder = domain.HolderConfidential
		b.Version++
		b.UpdatedAt = e.now().UTC()
		snap = b
		return tx.Bets().Update(ctx, b)
	})
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("bet_service: delegate %s: %w", betID, err)
	}

	if err := e.coord.Delegate(ctx, snap); err != nil {
		// Hand the record back. The caller's ctx may be what failed, so the
		// rollback must not depend on it. Should the enclave have taken the
		// snapshot anyway, the next delegation replaces that copy.
		rbCtx := context.WithoutCancel(ctx)
		if rbErr := e.store.InTx(rbCtx, func(tx domain.Tx) error {
			return tx.Bets().Update(rbCtx, prev)
		}); rbErr != nil {
			e.logger.ErrorContext(ctx, "bet_service: delegate rollback failed",
				slog.String("bet_id", betID),
				slog.String("error", rbErr.Error()),
			)
		}
		return domain.UserBet{}, fmt.Errorf("bet_service: delegate %s: %w", betID, err)
	}

	e.publish(ctx, domain.Event{Type: domain.EventBetDelegated, MarketID: snap.MarketID, BetID: betID, Actor: caller})
	return snap, nil
}

// loadDelegated returns the public record of a bet the confidential domain
// holds, together with its market.
func (e *Engine) loadDelegated(ctx context.Context, betID string) (domain.UserBet, domain.Market, error) {
	var b domain.UserBet
	var m domain.Market
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		if b, err = tx.Bets().Get(ctx, betID); err != nil {
			return err
		}
		if !b.Delegated() {
			return domain.ErrNotDelegated
		}
		m, err = tx.Markets().Get(ctx, b.MarketID)
		return err
	})
	return b, m, err
}

// withCustody runs op against the enclave. When the public record still names
// the confidential holder but the enclave has no copy, as after a restart or
// on a replica that never took the bet, the enclave is re-seeded from the
// public record and op runs once more.
func (e *Engine) withCustody(ctx context.Context, betID string, op func() error) error {
	err := op()
	if !errors.Is(err, domain.ErrNotDelegated) {
		return err
	}
	if rerr := e.reclaim(ctx, betID); rerr != nil {
		e.logger.WarnContext(ctx, "bet_service: reclaim failed",
			slog.String("bet_id", betID),
			slog.String("error", rerr.Error()),
		)
		return err
	}
	return op()
}

// reclaim hands the enclave the current public record of a delegated bet.
func (e *Engine) reclaim(ctx context.Context, betID string) error {
	unlock, err := e.lock(ctx, betKey(betID))
	if err != nil {
		return err
	}
	defer unlock()

	var b domain.UserBet
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		b, err = tx.Bets().Get(ctx, betID)
		return err
	})
	if err != nil {
		return err
	}
	if err := e.coord.Reclaim(ctx, b); err != nil {
		return err
	}
	e.audit(ctx, "bet_reclaimed", map[string]any{
		domain.AuditMarketKey: b.MarketID,
		"bet_id":              betID,
		"version":             b.Version,
	})
	return nil
}

// RevealBet opens the bet's commitment inside the confidential domain. A
// repeated correct reveal succeeds without changing anything.
func (e *Engine) RevealBet(ctx context.Context, caller domain.Identity, betID string, low, high, target int64, salt []byte) (domain.UserBet, error) {
	_, m, err := e.loadDelegated(ctx, betID)
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("bet_service: reveal %s: %w", betID, err)
	}

	var deadline int64
	if e.opts.RevealWindow > 0 {
		deadline = m.EndTime + int64(e.opts.RevealWindow.Seconds())
	}
	var b domain.UserBet
	err = e.withCustody(ctx, betID, func() error {
		var err error
		b, err = e.coord.Reveal(ctx, delegation.RevealRequest{
			BetID:    betID,
			Caller:   caller,
			Low:      low,
			High:     high,
			Target:   target,
			Salt:     salt,
			Now:      e.unix(),
			Deadline: deadline,
		})
		return err
	})
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("bet_service: reveal %s: %w", betID, err)
	}

	e.publish(ctx, domain.Event{Type: domain.EventBetRevealed, MarketID: m.ID, BetID: betID, Actor: caller})
	return b, nil
}

// UpdateBet replaces a delegated bet's prediction before the market ends.
// House bets lose part of their multiplier on every update.
func (e *Engine) UpdateBet(ctx context.Context, caller domain.Identity, betID string, low, high, target int64, salt []byte) (domain.UserBet, error) {
	cfg, err := e.Config(ctx)
	if err != nil {
		return domain.UserBet{}, err
	}
	if cfg.Paused {
		return domain.UserBet{}, fmt.Errorf("bet_service: update %s: %w", betID, domain.ErrPaused)
	}
	_, m, err := e.loadDelegated(ctx, betID)
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("bet_service: update %s: %w", betID, err)
	}

	var b domain.UserBet
	err = e.withCustody(ctx, betID, func() error {
		var err error
		b, err = e.coord.Update(ctx, delegation.UpdateRequest{
			BetID:  betID,
			Caller: caller,
			Low:    low,
			High:   high,
			Target: target,
			Salt:   salt,
			Now:    e.unix(),
			Market: m,
		})
		return err
	})
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("bet_service: update %s: %w", betID, err)
	}

	e.publish(ctx, domain.Event{
		Type:     domain.EventBetUpdated,
		MarketID: m.ID,
		BetID:    betID,
		Actor:    caller,
		Attrs:    map[string]string{"update_count": strconv.FormatUint(uint64(b.UpdateCount), 10)},
	})
	return b, nil
}

// UndelegateBet asks the confidential domain to commit the bet back. It
// returns once the request is accepted; the commit lands asynchronously.
func (e *Engine) UndelegateBet(ctx context.Context, caller domain.Identity, betID string) (delegation.Status, error) {
	b, _, err := e.loadDelegated(ctx, betID)
	if err != nil {
		return delegation.Status{}, fmt.Errorf("bet_service: undelegate %s: %w", betID, err)
	}
	if b.Owner != caller {
		return delegation.Status{}, fmt.Errorf("bet_service: undelegate %s: %w", betID, domain.ErrUnauthorized)
	}
	if err := e.withCustody(ctx, betID, func() error {
		return e.coord.Undelegate(ctx, betID, caller)
	}); err != nil {
		return delegation.Status{}, fmt.Errorf("bet_service: undelegate %s: %w", betID, err)
	}
	return e.coord.Status(betID), nil
}

// UndelegationStatus reports the progress of the latest undelegation.
func (e *Engine) UndelegationStatus(betID string) delegation.Status {
	return e.coord.Status(betID)
}

// AwaitUndelegation blocks until the pending undelegation settles or ctx ends.
func (e *Engine) AwaitUndelegation(ctx context.Context, betID string) (delegation.Status, error) {
	return e.coord.Await(ctx, betID)
}

// ApplyCommit implements delegation.Ledger. It copies the enclave state onto
// the public record and returns write authority to the public domain.
// Applying the same commit twice is a no-op.
func (e *Engine) ApplyCommit(ctx context.Context, c delegation.Commit) error {
	in := c.Bet
	unlock, err := e.lock(ctx, marketKey(in.MarketID), betKey(in.ID))
	if err != nil {
		return err
	}
	defer unlock()

	applied := false
	err = e.store.InTx(ctx, func(tx domain.Tx) error {
		b, err := tx.Bets().Get(ctx, in.ID)
		if err != nil {
			return err
		}
		if !b.Delegated() && b.Version == in.Version+1 && b.Commitment == in.Commitment {
			applied = true
			return nil
		}
		if !b.Delegated() || in.Version < b.Version {
			return delegation.ErrStaleCommit
		}
		m, err := tx.Markets().Get(ctx, b.MarketID)
		if err != nil {
			return err
		}

		if m.Mode == domain.ModeHouse && in.MultiplierBps != b.MultiplierBps {
			before, err := settlement.Liability(b.Deposit, b.MultiplierBps)
			if err != nil {
				return err
			}
			after, err := settlement.Liability(b.Deposit, in.MultiplierBps)
			if err != nil {
				return err
			}
			if before > after {
				release := before - after
				if release > m.LockedForPayouts {
					release = m.LockedForPayouts
				}
				m.LockedForPayouts -= release
				m.UpdatedAt = e.now().UTC()
				if err := tx.Markets().Update(ctx, m); err != nil {
					return err
				}
			}
		}

		b.Commitment = in.Commitment
		b.Revealed = in.Revealed
		b.RevealedLow = in.RevealedLow
		b.RevealedHigh = in.RevealedHigh
		b.RevealedTarget = in.RevealedTarget
		b.Salt = append([]byte(nil), in.Salt...)
		b.MultiplierBps = in.MultiplierBps
		b.CreationTS = in.CreationTS
		b.UpdateCount = in.UpdateCount
		b.Holder = domain.HolderPublic
		b.Version = in.Version + 1
		b.UpdatedAt = e.now().UTC()
		return tx.Bets().Update(ctx, b)
	})
	if err != nil {
		return fmt.Errorf("bet_service: apply commit %s: %w", in.ID, err)
	}
	if applied {
		return nil
	}
	e.invalidate(ctx, in.MarketID)

	e.publish(ctx, domain.Event{
		Type:     domain.EventBetUndelegated,
		MarketID: in.MarketID,
		BetID:    in.ID,
		Actor:    in.Owner,
		Attrs:    map[string]string{"revealed": strconv.FormatBool(in.Revealed)},
	})
	return nil
}

// GetBet returns the public record of a bet.
func (e *Engine) GetBet(ctx context.Context, id string) (domain.UserBet, error) {
	var b domain.UserBet
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		b, err = tx.Bets().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.UserBet{}, fmt.Errorf("bet_service: get %s: %w", id, err)
	}
	return b, nil
}

// ListBets returns the bets of a market.
func (e *Engine) ListBets(ctx context.Context, marketID string) ([]domain.UserBet, error) {
	var out []domain.UserBet
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Bets().ListByMarket(ctx, marketID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bet_service: list %s: %w", marketID, err)
	}
	return out, nil
}

var _ delegation.Ledger = (*Engine)(nil)
