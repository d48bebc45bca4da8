package pipeline

import (
	"context"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

const pageSize = 100

// MarketSource lists markets and their bets.
type MarketSource interface {
	ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error)
	ListBets(ctx context.Context, marketID string) ([]domain.UserBet, error)
}

// resolvedMarkets pages through every resolved market.
func resolvedMarkets(ctx context.Context, src MarketSource) ([]domain.Market, error) {
	resolved := true
	var out []domain.Market
	for offset := 0; ; offset += pageSize {
		page, err := src.ListMarkets(ctx, domain.MarketFilter{
			Resolved: &resolved,
			Limit:    pageSize,
			Offset:   offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}
