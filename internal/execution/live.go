// Package execution provides the two order-execution backends behind the
// shared Executor capability: live venue orders and a paper simulator. The
// rest of the pipeline cannot tell them apart.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
	"github.com/kaelweather/weatherbot/internal/platform/kalshi"
)

// Live submits real orders against the Kalshi venue.
type Live struct {
	client *kalshi.Client
	logger *slog.Logger
}

// NewLive creates a live executor over the venue REST client.
func NewLive(client *kalshi.Client, logger *slog.Logger) *Live {
	return &Live{
		client: client,
		logger: logger.With(slog.String("component", "execution.live")),
	}
}

func (l *Live) Mode() domain.TradeMode { return domain.ModeLive }

func (l *Live) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	order, err := l.client.PlaceOrder(ctx, kalshi.OrderParams{
		Ticker:     req.MarketID,
		Side:       req.Side,
		Contracts:  req.Contracts,
		PriceCents: req.PriceCents,
	})
	if err != nil {
		return domain.Fill{}, fmt.Errorf("execution: submit order %s: %w", req.MarketID, err)
	}

	l.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", order.OrderID),
		slog.String("market_id", req.MarketID),
		slog.String("side", string(req.Side)),
		slog.Int64("contracts", req.Contracts),
		slog.Int64("price_cents", req.PriceCents),
	)
	return domain.Fill{
		OrderID:    order.OrderID,
		MarketID:   req.MarketID,
		Side:       req.Side,
		Contracts:  req.Contracts,
		PriceCents: req.PriceCents,
		FilledAt:   time.Now().UTC(),
	}, nil
}

func (l *Live) FetchSettlement(ctx context.Context, marketID string) (*domain.SettlementOutcome, error) {
	m, err := l.client.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("execution: fetch settlement %s: %w", marketID, err)
	}
	if m.Result == "" {
		return nil, nil
	}
	return &domain.SettlementOutcome{
		MarketID:   marketID,
		Result:     domain.MarketResult(m.Result),
		ObservedAt: time.Now().UTC(),
	}, nil
}

// Balance reports the venue account balance in cents, used for the
// available-capital admission check.
func (l *Live) Balance(ctx context.Context) (int64, error) {
	return l.client.GetBalance(ctx)
}
