package settlement

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
	"github.com/kaelweather/weatherbot/internal/execution"
	"github.com/kaelweather/weatherbot/internal/provider"
	"github.com/kaelweather/weatherbot/internal/risk"
	"github.com/kaelweather/weatherbot/internal/store/memory"
)

type stubExecutor struct {
	outcomes map[string]domain.MarketResult
	mode     domain.TradeMode
}

func (s *stubExecutor) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	return domain.Fill{OrderID: "stub", MarketID: req.MarketID}, nil
}

func (s *stubExecutor) FetchSettlement(_ context.Context, marketID string) (*domain.SettlementOutcome, error) {
	r, ok := s.outcomes[marketID]
	if !ok {
		return nil, nil
	}
	return &domain.SettlementOutcome{MarketID: marketID, Result: r, ObservedAt: time.Now().UTC()}, nil
}

func (s *stubExecutor) Mode() domain.TradeMode { return s.mode }

type stubObserver struct {
	high float64
}

func (s *stubObserver) ObservedHigh(_ context.Context, _ provider.Location, _ time.Time) (float64, error) {
	return s.high, nil
}

func TestRunSettlesAndRecordsBias(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	positions := memory.NewPositionStore()
	biases := memory.NewBiasStore()
	manager := risk.NewManager(risk.Config{MaxPerGroup: 5, MaxDailyTrades: 10, MaxWeeklyTrades: 50},
		positions, memory.NewRiskStateStore(), nil, logger)
	if err := manager.Reconstruct(ctx); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}

	date := time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC)
	cand := domain.Candidate{
		Quote: domain.MarketQuote{MarketID: "KXHIGHTPHX-26JUL16-B105", Location: "PHX", SettlementDate: date},
		Signal: domain.EdgeSignal{
			MarketID: "KXHIGHTPHX-26JUL16-B105", Location: "PHX",
			Side: domain.SideYes, PriceCents: 40,
		},
		Samples: []domain.ForecastSample{
			{Provider: "NOAA", Location: "PHX", ValidDate: date, Predicted: 106.0},
			{Provider: "OpenMeteo_GFS", Location: "PHX", ValidDate: date, Predicted: 104.0},
		},
		Contracts: 10,
		CostCents: 400,
		Mode:      domain.ModePaper,
	}
	pos, err := manager.Admit(ctx, cand, 1_000_000)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	exec := &stubExecutor{
		mode:     domain.ModePaper,
		outcomes: map[string]domain.MarketResult{pos.MarketID: domain.MarketResultYes},
	}
	locations := map[string]provider.Location{"PHX": {Code: "PHX", Station: "KPHX"}}
	proc := NewProcessor(positions, biases, manager, exec, &stubObserver{high: 105.0}, nil, nil, locations, nil, 0, logger)

	if err := proc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := positions.GetByID(ctx, pos.ID)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if got.Status != domain.PositionSettledWin {
		t.Errorf("status = %q, want settled_win", got.Status)
	}
	if got.PnLCents == nil || *got.PnLCents != (100-40)*10 {
		t.Errorf("pnl = %v, want %d", got.PnLCents, (100-40)*10)
	}

	// NOAA predicted 106 against an observed 105: correction starts at +1.
	season := domain.SeasonOf(date)
	noaa, err := biases.Get(ctx, "NOAA", "PHX", season)
	if err != nil {
		t.Fatalf("bias get: %v", err)
	}
	if math.Abs(noaa.Correction-1.0) > 1e-9 {
		t.Errorf("NOAA correction = %v, want 1.0", noaa.Correction)
	}
	if noaa.Samples != 1 {
		t.Errorf("NOAA samples = %d, want 1", noaa.Samples)
	}
	if _, err := biases.Get(ctx, "OpenMeteo_GFS", "PHX", season); err != nil {
		t.Errorf("GFS profile missing: %v", err)
	}

	// A second pass over the same outcome must change nothing.
	if err := proc.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	noaa2, _ := biases.Get(ctx, "NOAA", "PHX", season)
	if noaa2.Samples != 1 {
		t.Errorf("replay bumped samples to %d", noaa2.Samples)
	}
}

func TestRunSkipsUnresolvedMarkets(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	positions := memory.NewPositionStore()
	manager := risk.NewManager(risk.Config{MaxPerGroup: 5, MaxDailyTrades: 10, MaxWeeklyTrades: 50},
		positions, memory.NewRiskStateStore(), nil, logger)
	if err := manager.Reconstruct(ctx); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}

	date := time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC)
	pos, err := manager.Admit(ctx, domain.Candidate{
		Quote:     domain.MarketQuote{MarketID: "M", Location: "SEA", SettlementDate: date},
		Signal:    domain.EdgeSignal{MarketID: "M", Side: domain.SideNo, PriceCents: 30},
		Contracts: 5,
		CostCents: 150,
		Mode:      domain.ModePaper,
	}, 1_000_000)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	exec := &stubExecutor{mode: domain.ModePaper} // no outcomes
	proc := NewProcessor(positions, memory.NewBiasStore(), manager, exec, nil, nil, nil, nil, nil, 0, logger)

	if err := proc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := positions.GetByID(ctx, pos.ID)
	if got.Status != domain.PositionOpen {
		t.Errorf("status = %q, want open", got.Status)
	}
}

func TestRunVoidedMarketCancelsAndRefunds(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	positions := memory.NewPositionStore()
	manager := risk.NewManager(risk.Config{MaxPerGroup: 5, MaxDailyTrades: 10, MaxWeeklyTrades: 50},
		positions, memory.NewRiskStateStore(), nil, logger)
	if err := manager.Reconstruct(ctx); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}

	paper := execution.NewPaper(100_000, nil, logger)
	date := time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC)
	pos, err := manager.Admit(ctx, domain.Candidate{
		Quote:     domain.MarketQuote{MarketID: "V", Location: "BOS", SettlementDate: date},
		Signal:    domain.EdgeSignal{MarketID: "V", Side: domain.SideYes, PriceCents: 45},
		Contracts: 10,
		CostCents: 450,
		Mode:      domain.ModePaper,
	}, 1_000_000)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := paper.SubmitOrder(ctx, domain.OrderRequest{
		MarketID: pos.MarketID, Side: domain.SideYes, Contracts: 10, PriceCents: 45,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	exec := &stubExecutor{
		mode:     domain.ModePaper,
		outcomes: map[string]domain.MarketResult{pos.MarketID: domain.MarketResultVoid},
	}
	proc := NewProcessor(positions, memory.NewBiasStore(), manager, exec, nil, paper, nil, nil, nil, 0, logger)

	if err := proc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := positions.GetByID(ctx, pos.ID)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if got.Status != domain.PositionCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
	if bal, _ := paper.Balance(ctx); bal != 100_000 {
		t.Errorf("paper balance = %d¢, want the full 100000¢ back", bal)
	}

	state := manager.State()
	if state.LocationDateOpen[got.LocationDateKey()] != 0 {
		t.Errorf("location-date counter not released: %v", state.LocationDateOpen)
	}
	if state.DailyPnLCents != 0 {
		t.Errorf("daily pnl = %d¢, want 0 for a void", state.DailyPnLCents)
	}

	// A replay must not refund twice.
	if err := proc.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if bal, _ := paper.Balance(ctx); bal != 100_000 {
		t.Errorf("replay changed balance to %d¢", bal)
	}
}

func TestRunDefersWhileCycleLockHeld(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	positions := memory.NewPositionStore()
	manager := risk.NewManager(risk.Config{MaxPerGroup: 5, MaxDailyTrades: 10, MaxWeeklyTrades: 50},
		positions, memory.NewRiskStateStore(), nil, logger)
	if err := manager.Reconstruct(ctx); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}

	date := time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC)
	pos, err := manager.Admit(ctx, domain.Candidate{
		Quote:     domain.MarketQuote{MarketID: "M", Location: "SEA", SettlementDate: date},
		Signal:    domain.EdgeSignal{MarketID: "M", Side: domain.SideYes, PriceCents: 40},
		Contracts: 5,
		CostCents: 200,
		Mode:      domain.ModePaper,
	}, 1_000_000)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	exec := &stubExecutor{
		mode:     domain.ModePaper,
		outcomes: map[string]domain.MarketResult{pos.MarketID: domain.MarketResultYes},
	}
	locks := memory.NewLockManager()
	proc := NewProcessor(positions, memory.NewBiasStore(), manager, exec, nil, nil, nil, nil, locks, time.Minute, logger)

	// An evaluation cycle holds the shared lock: the pass defers without
	// touching the position.
	unlock, err := locks.Acquire(ctx, domain.CycleLockKey, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := proc.Run(ctx); err != nil {
		t.Fatalf("run under held lock: %v", err)
	}
	got, _ := positions.GetByID(ctx, pos.ID)
	if got.Status != domain.PositionOpen {
		t.Fatalf("status = %q, want open while lock held", got.Status)
	}

	// Lock released: the next tick settles and releases the lock itself.
	unlock()
	if err := proc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ = positions.GetByID(ctx, pos.ID)
	if got.Status != domain.PositionSettledWin {
		t.Errorf("status = %q, want settled_win after lock released", got.Status)
	}
	if unlock, err = locks.Acquire(ctx, domain.CycleLockKey, time.Minute); err != nil {
		t.Fatalf("lock not released after pass: %v", err)
	}
	unlock()
}
