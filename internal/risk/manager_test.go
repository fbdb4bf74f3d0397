package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
	"github.com/kaelweather/weatherbot/internal/store/memory"
)

func testManager(t *testing.T, cfg Config) (*Manager, *memory.PositionStore) {
	t.Helper()
	if cfg.MaxPerGroup == 0 {
		cfg.MaxPerGroup = 2
	}
	if cfg.MaxDailyTrades == 0 {
		cfg.MaxDailyTrades = 5
	}
	if cfg.MaxWeeklyTrades == 0 {
		cfg.MaxWeeklyTrades = 20
	}
	positions := memory.NewPositionStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(cfg, positions, memory.NewRiskStateStore(), nil, logger)
	m.SetClock(func() time.Time {
		return time.Date(2026, 7, 15, 18, 0, 0, 0, time.UTC)
	})
	if err := m.Reconstruct(context.Background()); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	return m, positions
}

func candidate(location, marketID string, costCents int64) domain.Candidate {
	date := time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC)
	return domain.Candidate{
		Quote: domain.MarketQuote{
			MarketID:       marketID,
			Location:       location,
			SettlementDate: date,
		},
		Signal: domain.EdgeSignal{
			MarketID:   marketID,
			Location:   location,
			Side:       domain.SideYes,
			PriceCents: 40,
		},
		Contracts: costCents / 40,
		CostCents: costCents,
		Mode:      domain.ModePaper,
	}
}

func rejectReason(t *testing.T, err error) string {
	t.Helper()
	var rej *domain.RiskRejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected RiskRejection, got %v", err)
	}
	return rej.Reason
}

func TestAdmitDuplicateLocationDate(t *testing.T) {
	m, _ := testManager(t, Config{})
	ctx := context.Background()

	if _, err := m.Admit(ctx, candidate("nyc", "HIGH-NYC-1", 400), 100_000); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	_, err := m.Admit(ctx, candidate("nyc", "HIGH-NYC-2", 400), 100_000)
	if got := rejectReason(t, err); got != ReasonDuplicateLocation {
		t.Errorf("reason = %q, want %q", got, ReasonDuplicateLocation)
	}
}

func TestAdmitCorrelationGroupCap(t *testing.T) {
	m, _ := testManager(t, Config{
		MaxPerGroup: 2,
		CorrelationGroups: map[string][]string{
			"northeast": {"nyc", "philadelphia", "boston"},
		},
	})
	ctx := context.Background()

	for _, loc := range []string{"nyc", "philadelphia"} {
		if _, err := m.Admit(ctx, candidate(loc, "HIGH-"+loc, 400), 100_000); err != nil {
			t.Fatalf("admit %s: %v", loc, err)
		}
	}
	_, err := m.Admit(ctx, candidate("boston", "HIGH-boston", 400), 100_000)
	if got := rejectReason(t, err); got != ReasonCorrelationGroup {
		t.Errorf("reason = %q, want %q", got, ReasonCorrelationGroup)
	}

	// A location outside the group is unaffected.
	if _, err := m.Admit(ctx, candidate("miami", "HIGH-miami", 400), 100_000); err != nil {
		t.Errorf("admit outside group: %v", err)
	}
}

func TestAdmitTradeLimits(t *testing.T) {
	m, _ := testManager(t, Config{MaxDailyTrades: 2, MaxPerGroup: 10})
	ctx := context.Background()

	for i, loc := range []string{"nyc", "chicago"} {
		if _, err := m.Admit(ctx, candidate(loc, "M", 400), 100_000); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	_, err := m.Admit(ctx, candidate("miami", "M3", 400), 100_000)
	if got := rejectReason(t, err); got != ReasonDailyTradeLimit {
		t.Errorf("reason = %q, want %q", got, ReasonDailyTradeLimit)
	}
}

func TestAdmitInsufficientCapital(t *testing.T) {
	m, _ := testManager(t, Config{CapitalBufferCents: 500})
	ctx := context.Background()

	_, err := m.Admit(ctx, candidate("nyc", "M", 800), 1_000)
	if got := rejectReason(t, err); got != ReasonInsufficientCapital {
		t.Errorf("reason = %q, want %q", got, ReasonInsufficientCapital)
	}
}

func TestSettlementTripsBreakerAtExactLimit(t *testing.T) {
	m, _ := testManager(t, Config{MaxDailyLossCents: 5_000})
	ctx := context.Background()

	// 125 contracts at 40¢ lose exactly $50.00 on a NO result.
	pos, err := m.Admit(ctx, candidate("nyc", "M", 5_000), 1_000_000)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	pnl, err := m.ApplySettlement(ctx, pos, domain.SettlementOutcome{
		MarketID: pos.MarketID,
		Result:   domain.MarketResultNo,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if pnl != -5_000 {
		t.Fatalf("pnl = %d, want -5000", pnl)
	}

	st := m.State()
	if st.Breaker != domain.BreakerTrippedDaily {
		t.Errorf("breaker = %q, want %q", st.Breaker, domain.BreakerTrippedDaily)
	}
	_, err = m.Admit(ctx, candidate("chicago", "M2", 400), 1_000_000)
	if got := rejectReason(t, err); got != ReasonBreakerTripped {
		t.Errorf("reason = %q, want %q", got, ReasonBreakerTripped)
	}
}

func TestLossLimitCountsOpenExposure(t *testing.T) {
	m, _ := testManager(t, Config{MaxDailyLossCents: 3_000, MaxPerGroup: 10, MaxDailyTrades: 10})
	ctx := context.Background()

	// $20 realized loss plus $15 still at risk breaches the $30 daily limit
	// even though realized loss alone does not.
	pos, err := m.Admit(ctx, candidate("nyc", "M1", 2_000), 1_000_000)
	if err != nil {
		t.Fatalf("admit loser: %v", err)
	}
	if _, err := m.Admit(ctx, candidate("chicago", "M2", 1_500), 1_000_000); err != nil {
		t.Fatalf("admit open: %v", err)
	}
	if _, err := m.ApplySettlement(ctx, pos, domain.SettlementOutcome{Result: domain.MarketResultNo}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if st := m.State(); st.Breaker != domain.BreakerTrippedDaily {
		t.Errorf("breaker = %q, want tripped: realized %d¢ + exposure %d¢",
			st.Breaker, st.DailyPnLCents, st.OpenExposureCents)
	}
}

func TestSettlementReplayIsNoOp(t *testing.T) {
	m, _ := testManager(t, Config{})
	ctx := context.Background()

	pos, err := m.Admit(ctx, candidate("nyc", "M", 400), 1_000_000)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	outcome := domain.SettlementOutcome{Result: domain.MarketResultYes}
	pnl, err := m.ApplySettlement(ctx, pos, outcome)
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	want := m.State().DailyPnLCents

	if _, err := m.ApplySettlement(ctx, pos, outcome); !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("replay err = %v, want ErrAlreadySettled", err)
	}
	if got := m.State().DailyPnLCents; got != want {
		t.Errorf("replay changed daily pnl: %d -> %d (first pnl %d)", want, got, pnl)
	}
}

func TestCancelReleasesCounters(t *testing.T) {
	m, _ := testManager(t, Config{})
	ctx := context.Background()

	pos, err := m.Admit(ctx, candidate("nyc", "M", 400), 1_000_000)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := m.Cancel(ctx, pos); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	st := m.State()
	if st.OpenExposureCents != 0 {
		t.Errorf("open exposure = %d after cancel, want 0", st.OpenExposureCents)
	}
	if len(st.LocationDateOpen) != 0 || len(st.GroupOpen) != 0 {
		t.Errorf("counters not released: loc=%v group=%v", st.LocationDateOpen, st.GroupOpen)
	}
	// The failed attempt still counts toward trade caps.
	if st.DailyTrades != 1 {
		t.Errorf("daily trades = %d, want 1", st.DailyTrades)
	}
	// The slot is free again.
	if _, err := m.Admit(ctx, candidate("nyc", "M2", 400), 1_000_000); err != nil {
		t.Errorf("re-admit after cancel: %v", err)
	}
}

func TestRolloverReArmsDailyBreaker(t *testing.T) {
	m, _ := testManager(t, Config{MaxDailyLossCents: 1_000})
	ctx := context.Background()

	now := time.Date(2026, 7, 15, 18, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	pos, err := m.Admit(ctx, candidate("nyc", "M", 1_000), 1_000_000)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := m.ApplySettlement(ctx, pos, domain.SettlementOutcome{Result: domain.MarketResultNo}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if st := m.State(); st.Breaker != domain.BreakerTrippedDaily {
		t.Fatalf("breaker = %q, want tripped", st.Breaker)
	}

	now = now.Add(24 * time.Hour)
	if _, err := m.Admit(ctx, candidate("chicago", "M2", 400), 1_000_000); err != nil {
		t.Errorf("admit after rollover: %v", err)
	}
	st := m.State()
	if st.Breaker != domain.BreakerArmed {
		t.Errorf("breaker = %q after rollover, want armed", st.Breaker)
	}
	if st.DailyPnLCents != 0 {
		t.Errorf("daily pnl = %d after rollover, want 0", st.DailyPnLCents)
	}
	// Weekly accounting carries across the day boundary.
	if st.WeeklyPnLCents != -1_000 {
		t.Errorf("weekly pnl = %d, want -1000", st.WeeklyPnLCents)
	}
}

func TestReconstructCarriesSnapshotTripTime(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{MaxPerGroup: 10, MaxDailyTrades: 10, MaxWeeklyTrades: 20, MaxDailyLossCents: 300}

	positions := memory.NewPositionStore()
	snapshots := memory.NewRiskStateStore()

	tripTime := time.Date(2026, 7, 15, 18, 0, 0, 0, time.UTC)
	m := NewManager(cfg, positions, snapshots, nil, logger)
	m.SetClock(func() time.Time { return tripTime })
	if err := m.Reconstruct(ctx); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}

	loser, err := m.Admit(ctx, candidate("nyc", "M1", 300), 1_000_000)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := m.ApplySettlement(ctx, loser, domain.SettlementOutcome{Result: domain.MarketResultNo}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := m.State(); got.Breaker != domain.BreakerTrippedDaily {
		t.Fatalf("breaker = %q, want tripped_daily", got.Breaker)
	}

	// A restart later the same day re-trips from the ledger numbers but
	// must keep the trip time the snapshot recorded.
	m2 := NewManager(cfg, positions, snapshots, nil, logger)
	m2.SetClock(func() time.Time { return tripTime.Add(2 * time.Hour) })
	if err := m2.Reconstruct(ctx); err != nil {
		t.Fatalf("reconstruct after restart: %v", err)
	}

	got := m2.State()
	if got.Breaker != domain.BreakerTrippedDaily {
		t.Fatalf("breaker after restart = %q, want tripped_daily", got.Breaker)
	}
	if got.TrippedAt == nil || !got.TrippedAt.Equal(tripTime) {
		t.Errorf("tripped at = %v, want the original %v", got.TrippedAt, tripTime)
	}
}

func TestReconstructFromLedger(t *testing.T) {
	m, positions := testManager(t, Config{MaxPerGroup: 10, MaxDailyTrades: 10})
	ctx := context.Background()

	openPos, err := m.Admit(ctx, candidate("nyc", "M1", 700), 1_000_000)
	if err != nil {
		t.Fatalf("admit open: %v", err)
	}
	loser, err := m.Admit(ctx, candidate("chicago", "M2", 300), 1_000_000)
	if err != nil {
		t.Fatalf("admit loser: %v", err)
	}
	if _, err := m.ApplySettlement(ctx, loser, domain.SettlementOutcome{Result: domain.MarketResultNo}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	before := m.State()

	// A fresh manager over the same ledger must rebuild identical state.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m2 := NewManager(Config{MaxPerGroup: 10, MaxDailyTrades: 10}, positions, memory.NewRiskStateStore(), nil, logger)
	m2.SetClock(m.now)
	if err := m2.Reconstruct(ctx); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	after := m2.State()

	if after.OpenExposureCents != before.OpenExposureCents {
		t.Errorf("open exposure = %d, want %d", after.OpenExposureCents, before.OpenExposureCents)
	}
	if after.DailyPnLCents != before.DailyPnLCents {
		t.Errorf("daily pnl = %d, want %d", after.DailyPnLCents, before.DailyPnLCents)
	}
	if after.DailyTrades != before.DailyTrades {
		t.Errorf("daily trades = %d, want %d", after.DailyTrades, before.DailyTrades)
	}
	if got := after.LocationDateOpen[openPos.LocationDateKey()]; got != 1 {
		t.Errorf("open count for %s = %d, want 1", openPos.LocationDateKey(), got)
	}
}
