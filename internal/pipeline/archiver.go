package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// ArchiveTarget stores settlement archives.
type ArchiveTarget interface {
	domain.SettlementArchiver
	Archived(ctx context.Context, marketID string) (bool, error)
}

// SettlementArchiver exports settled markets to cold storage. A market is
// settled once its weights are finalized or every bet has been paid out or
// refunded. Markets already archived are skipped.
type SettlementArchiver struct {
	source MarketSource
	target ArchiveTarget
	logger *slog.Logger
}

func NewSettlementArchiver(source MarketSource, target ArchiveTarget, logger *slog.Logger) *SettlementArchiver {
	return &SettlementArchiver{
		source: source,
		target: target,
		logger: logger.With(slog.String("job", "archiver")),
	}
}

// Run performs one archive pass and returns the number of markets exported.
func (a *SettlementArchiver) Run(ctx context.Context) (int, error) {
	markets, err := resolvedMarkets(ctx, a.source)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archive: list markets: %w", err)
	}

	archived := 0
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		done, err := a.target.Archived(ctx, m.ID)
		if err != nil {
			return archived, fmt.Errorf("pipeline: archive: check %s: %w", m.ID, err)
		}
		if done {
			continue
		}
		bets, err := a.source.ListBets(ctx, m.ID)
		if err != nil {
			return archived, fmt.Errorf("pipeline: archive: list bets %s: %w", m.ID, err)
		}
		if !settled(m, bets) {
			continue
		}
		path, err := a.target.ArchiveMarket(ctx, m, bets)
		if err != nil {
			return archived, fmt.Errorf("pipeline: archive: market %s: %w", m.ID, err)
		}
		archived++
		a.logger.InfoContext(ctx, "market archived",
			slog.String("market_id", m.ID),
			slog.String("path", path),
			slog.Int("bets", len(bets)),
		)
	}
	return archived, nil
}

func settled(m domain.Market, bets []domain.UserBet) bool {
	if m.Finalized {
		return true
	}
	for _, b := range bets {
		if b.Status != domain.BetStatusSettled && b.Status != domain.BetStatusRefunded {
			return false
		}
	}
	return true
}
