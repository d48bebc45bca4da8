package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// BatchCalculator scores every outstanding bet of a market.
type BatchCalculator interface {
	BatchCalculate(ctx context.Context, caller domain.Identity, marketID string) (int, error)
}

// OverdueCalculator batch-scores resolved markets whose grace period has
// passed, acting as the keeper identity.
type OverdueCalculator struct {
	source MarketSource
	engine BatchCalculator
	keeper domain.Identity
	grace  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewOverdueCalculator(source MarketSource, engine BatchCalculator, keeper domain.Identity,
	grace time.Duration, logger *slog.Logger,
) *OverdueCalculator {
	return &OverdueCalculator{
		source: source,
		engine: engine,
		keeper: keeper,
		grace:  grace,
		now:    time.Now,
		logger: logger.With(slog.String("job", "calculator"), slog.String("keeper", keeper.Hex())),
	}
}

// Run performs one pass and returns the number of bets scored.
func (c *OverdueCalculator) Run(ctx context.Context) (int, error) {
	markets, err := resolvedMarkets(ctx, c.source)
	if err != nil {
		return 0, fmt.Errorf("pipeline: calculate: list markets: %w", err)
	}

	deadline := c.now().Add(-c.grace).Unix()
	total := 0
	for _, m := range markets {
		if m.Finalized || m.ResolutionTS > deadline {
			continue
		}
		n, err := c.engine.BatchCalculate(ctx, c.keeper, m.ID)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrUnauthorized):
			return total, fmt.Errorf("pipeline: calculate: keeper is not admin: %w", err)
		case errors.Is(err, domain.ErrTimeoutNotMet), errors.Is(err, domain.ErrAlreadyFinalized):
			continue
		default:
			c.logger.WarnContext(ctx, "batch calculate failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			c.logger.InfoContext(ctx, "overdue bets scored",
				slog.String("market_id", m.ID),
				slog.Int("bets", n),
			)
		}
		total += n
	}
	return total, nil
}
