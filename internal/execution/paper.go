package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// SettlementOracle reports real venue settlement results. Paper mode
// simulates fills but settles against the venue's actual outcomes, so paper
// P&L tracks what live trading would have produced.
type SettlementOracle interface {
	FetchSettlement(ctx context.Context, marketID string) (*domain.SettlementOutcome, error)
}

// CapitalSource reports spendable capital in cents. Both executors provide
// one: the venue balance for live, the simulated bankroll for paper.
type CapitalSource interface {
	Balance(ctx context.Context) (int64, error)
}

// Paper simulates order execution: every order fills immediately at the
// requested price and debits a simulated bankroll. No venue order traffic.
type Paper struct {
	oracle SettlementOracle
	logger *slog.Logger

	mu           sync.Mutex
	balanceCents int64
	seq          int64

	now func() time.Time
}

// NewPaper creates a paper executor with the given starting bankroll.
func NewPaper(startingBalanceCents int64, oracle SettlementOracle, logger *slog.Logger) *Paper {
	return &Paper{
		oracle:       oracle,
		logger:       logger.With(slog.String("component", "execution.paper")),
		balanceCents: startingBalanceCents,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Test hook.
func (p *Paper) SetClock(now func() time.Time) { p.now = now }

func (p *Paper) Mode() domain.TradeMode { return domain.ModePaper }

func (p *Paper) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := req.Contracts * req.PriceCents
	if cost > p.balanceCents {
		return domain.Fill{}, fmt.Errorf("execution: paper balance %d¢ cannot cover %d¢", p.balanceCents, cost)
	}

	now := p.now()
	p.seq++
	p.balanceCents -= cost
	orderID := fmt.Sprintf("PAPER-%s-%s-%d", req.MarketID, now.Format("20060102150405"), p.seq)

	p.logger.InfoContext(ctx, "paper order filled",
		slog.String("order_id", orderID),
		slog.String("market_id", req.MarketID),
		slog.String("side", string(req.Side)),
		slog.Int64("contracts", req.Contracts),
		slog.Int64("price_cents", req.PriceCents),
		slog.Int64("balance_cents", p.balanceCents),
	)
	return domain.Fill{
		OrderID:    orderID,
		MarketID:   req.MarketID,
		Side:       req.Side,
		Contracts:  req.Contracts,
		PriceCents: req.PriceCents,
		FilledAt:   now,
		Paper:      true,
	}, nil
}

// FetchSettlement defers to the real-outcome oracle. Without an oracle a
// paper market never resolves on its own.
func (p *Paper) FetchSettlement(ctx context.Context, marketID string) (*domain.SettlementOutcome, error) {
	if p.oracle == nil {
		return nil, nil
	}
	return p.oracle.FetchSettlement(ctx, marketID)
}

// Balance reports the simulated bankroll.
func (p *Paper) Balance(_ context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balanceCents, nil
}

// Credit returns settlement proceeds to the simulated bankroll: the
// position's entry cost plus its realized P&L (zero total for a loss, the
// full 100¢-per-contract payout for a win).
func (p *Paper) Credit(ctx context.Context, pos domain.Position, pnlCents int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	proceeds := pos.EntryCostCents + pnlCents
	if proceeds <= 0 {
		return
	}
	p.balanceCents += proceeds
	p.logger.InfoContext(ctx, "paper settlement credited",
		slog.String("position_id", pos.ID),
		slog.Int64("proceeds_cents", proceeds),
		slog.Int64("balance_cents", p.balanceCents),
	)
}

// Refund releases the reserved cost of a cancelled paper position.
func (p *Paper) Refund(pos domain.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balanceCents += pos.EntryCostCents
}
