package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
	"github.com/kaelweather/weatherbot/internal/edge"
	"github.com/kaelweather/weatherbot/internal/execution"
	"github.com/kaelweather/weatherbot/internal/forecast"
	"github.com/kaelweather/weatherbot/internal/platform/kalshi"
	"github.com/kaelweather/weatherbot/internal/provider"
	"github.com/kaelweather/weatherbot/internal/risk"
	"github.com/kaelweather/weatherbot/internal/sizing"
	"github.com/kaelweather/weatherbot/internal/store/memory"
)

type stubVenue struct {
	events map[string][]kalshi.Event
}

func (v *stubVenue) GetOpenEvents(_ context.Context, series string, _ int) ([]kalshi.Event, error) {
	return v.events[series], nil
}

type stubForecaster struct {
	name string
	high float64
	t    time.Time
}

func (f *stubForecaster) Name() string { return f.name }

func (f *stubForecaster) ForecastHigh(_ context.Context, _ provider.Location, _ time.Time) (float64, time.Time, error) {
	return f.high, f.t, nil
}

type failingExecutor struct {
	mode domain.TradeMode
}

func (e *failingExecutor) SubmitOrder(_ context.Context, _ domain.OrderRequest) (domain.Fill, error) {
	return domain.Fill{}, errors.New("venue unavailable")
}

func (e *failingExecutor) FetchSettlement(_ context.Context, _ string) (*domain.SettlementOutcome, error) {
	return nil, nil
}

func (e *failingExecutor) Mode() domain.TradeMode { return e.mode }

func (e *failingExecutor) Balance(_ context.Context) (int64, error) { return 100_000, nil }

func f64(v float64) *float64 { return &v }

// testDeps builds a fully wired scanner over the in-memory stores, with
// two events for the same Phoenix settlement date so the dedup rule has
// something to reject.
func testDeps(t *testing.T, executor domain.Executor, capital execution.CapitalSource) (*Scanner, Deps) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 7, 15, 18, 0, 0, 0, time.UTC)

	positions := memory.NewPositionStore()
	manager := risk.NewManager(risk.Config{
		MaxPerGroup:     5,
		MaxDailyTrades:  10,
		MaxWeeklyTrades: 50,
	}, positions, memory.NewRiskStateStore(), nil, logger)
	manager.SetClock(func() time.Time { return now })
	if err := manager.Reconstruct(context.Background()); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}

	tradable := kalshi.Market{
		Ticker: "KXHIGHTPHX-26JUL16-T103", Status: "active",
		StrikeType: "greater", FloorStrike: f64(103.0),
		YesBid: 58, YesAsk: 60, LastPrice: 59, Volume: 1000,
	}
	longshot := kalshi.Market{
		Ticker: "KXHIGHTPHX-26JUL16-T115", Status: "active",
		StrikeType: "greater", FloorStrike: f64(115.0),
		YesBid: 8, YesAsk: 10, LastPrice: 9, Volume: 1000,
	}
	dupe := tradable
	dupe.Ticker = "KXHIGHTPHX-26JUL16-T103B"

	deps := Deps{
		Series:    map[string]string{"PHX": "KXHIGHTPHX"},
		Locations: map[string]provider.Location{"PHX": {Code: "PHX", Name: "Phoenix"}},
		Forecasters: []provider.Forecaster{
			&stubForecaster{name: "NOAA", high: 106.0, t: now},
			&stubForecaster{name: "OpenMeteo_GFS", high: 105.0, t: now},
		},
		Venue: &stubVenue{events: map[string][]kalshi.Event{
			"KXHIGHTPHX": {
				{EventTicker: "E1", Title: "Highest temperature in Phoenix tomorrow?", Markets: []kalshi.Market{tradable, longshot}},
				{EventTicker: "E2", Title: "Highest temperature in Phoenix tomorrow?", Markets: []kalshi.Market{dupe}},
			},
		}},
		Aggregator: forecast.NewAggregator(forecast.Config{
			BaseWeights:   map[string]float64{"NOAA": 1.2, "OpenMeteo_GFS": 1.0},
			DefaultStdDev: 3.0,
		}),
		Calculator: edge.NewCalculator(edge.Config{
			ModelWeight:          0.30,
			MinVolume:            100,
			MaxSpreadCents:       10,
			StrikeProximityF:     0.2,
			MinYesPriceCents:     5,
			MinNoPriceCents:      5,
			MaxProviderSpreadF:   6.0,
			MaxDisagreementCents: 30,
			MaxFairMarketRatio:   3.0,
			MinEdgeCents:         2.0,
			MaxEdgeCents:         25.0,
			MinConfidence:        0.4,
		}),
		Sizer: sizing.NewSizer(sizing.Config{
			KellyFraction: 0.25,
			MaxContracts:  50,
			MaxCostCents:  10_000,
		}),
		Manager:   manager,
		Executor:  executor,
		Capital:   capital,
		Positions: positions,
		Samples:   memory.NewSampleStore(),
		Biases:    memory.NewBiasStore(),
		Audit:     memory.NewAuditStore(),
		Quotes:    memory.NewQuoteCache(0),
		Locks:     memory.NewLockManager(),
		Logger:    logger,
	}

	s := New(Config{}, deps)
	s.SetClock(func() time.Time { return now })
	return s, deps
}

func auditReasons(t *testing.T, audit domain.AuditStore) map[string]int {
	t.Helper()
	entries, err := audit.ListSince(context.Background(), time.Time{}, 0)
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Reason]++
	}
	return counts
}

func TestCycleAdmitsBestEdgeAndDedupsLocationDate(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	paper := execution.NewPaper(100_000, nil, logger)
	s, deps := testDeps(t, paper, paper)

	if err := s.Cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	open, err := deps.Positions.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1 (dedup must block the twin market)", len(open))
	}
	pos := open[0]
	if pos.Side != domain.SideYes {
		t.Errorf("side = %q, want yes", pos.Side)
	}
	if pos.EntryPriceCents != 60 {
		t.Errorf("entry price = %d¢, want 60¢", pos.EntryPriceCents)
	}
	if !strings.HasPrefix(pos.OrderID, "PAPER-") {
		t.Errorf("order id = %q, want PAPER- prefix", pos.OrderID)
	}
	if len(pos.Samples) != 2 {
		t.Errorf("position carries %d samples, want 2", len(pos.Samples))
	}

	reasons := auditReasons(t, deps.Audit)
	if reasons["admitted"] != 1 {
		t.Errorf("admitted audit rows = %d, want 1", reasons["admitted"])
	}
	if reasons[risk.ReasonDuplicateLocation] != 1 {
		t.Errorf("duplicate-location-date rows = %d, want 1", reasons[risk.ReasonDuplicateLocation])
	}
	if reasons[edge.ReasonEdgeTooSmall] == 0 {
		t.Error("expected an edge-too-small audit row for the longshot strike")
	}

	bal, _ := paper.Balance(ctx)
	if bal != 100_000-pos.EntryCostCents {
		t.Errorf("paper balance = %d, want %d", bal, 100_000-pos.EntryCostCents)
	}

	// Quotes were cached for the WS feed consumers.
	if _, err := deps.Quotes.Get(ctx, "KXHIGHTPHX-26JUL16-T103"); err != nil {
		t.Errorf("quote cache miss: %v", err)
	}
}

func TestCyclePrefersFresherCachedQuote(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	paper := execution.NewPaper(100_000, nil, logger)
	s, deps := testDeps(t, paper, paper)

	// The ticker feed moved the book after the REST snapshot: the cached
	// quote is one second fresher and two ticks cheaper.
	now := time.Date(2026, 7, 15, 18, 0, 0, 0, time.UTC)
	if err := deps.Quotes.Set(ctx, domain.MarketQuote{
		MarketID:  "KXHIGHTPHX-26JUL16-T103",
		YesBid:    56,
		YesAsk:    58,
		LastPrice: 57,
		Volume:    1200,
		FetchedAt: now.Add(time.Second),
	}); err != nil {
		t.Fatalf("seed quote cache: %v", err)
	}

	if err := s.Cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	open, err := deps.Positions.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	if open[0].EntryPriceCents != 58 {
		t.Errorf("entry price = %d¢, want the feed's 58¢ over the polled 60¢", open[0].EntryPriceCents)
	}
	if open[0].MarketID != "KXHIGHTPHX-26JUL16-T103" {
		t.Errorf("admitted market = %q, want the repriced KXHIGHTPHX-26JUL16-T103", open[0].MarketID)
	}

	// The merged quote went back into the cache with the feed prices.
	q, err := deps.Quotes.Get(ctx, "KXHIGHTPHX-26JUL16-T103")
	if err != nil {
		t.Fatalf("quote cache miss: %v", err)
	}
	if q.YesAsk != 58 || q.Volume != 1200 {
		t.Errorf("cached quote = ask %d¢ vol %d, want ask 58¢ vol 1200", q.YesAsk, q.Volume)
	}
	if q.StrikeType == "" {
		t.Error("merged quote lost the polled strike geometry")
	}
}

func TestCycleRollsBackOnExecutionFailure(t *testing.T) {
	ctx := context.Background()
	exec := &failingExecutor{mode: domain.ModePaper}
	s, deps := testDeps(t, exec, exec)

	if err := s.Cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	open, err := deps.Positions.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("open positions = %d after execution failure, want 0", len(open))
	}

	reasons := auditReasons(t, deps.Audit)
	if reasons["execution-failure"] == 0 {
		t.Error("expected execution-failure audit rows")
	}
	if reasons["admitted"] != 0 {
		t.Errorf("admitted rows = %d, want 0", reasons["admitted"])
	}
}

func TestPollIntervalTracksModelUpdateHours(t *testing.T) {
	tests := []struct {
		hour int
		want time.Duration
	}{
		{4, 5 * time.Minute},
		{16, 5 * time.Minute},
		{6, 10 * time.Minute},
		{19, 10 * time.Minute},
		{2, 30 * time.Minute},
		{14, 30 * time.Minute},
	}
	for _, tt := range tests {
		now := time.Date(2026, 7, 15, tt.hour, 30, 0, 0, time.UTC)
		if got := PollInterval(now); got != tt.want {
			t.Errorf("PollInterval(hour %d) = %s, want %s", tt.hour, got, tt.want)
		}
	}
}
