package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// Reconstruct rebuilds the in-memory risk state from the position ledger.
// Called once at startup before any admission: open-position counters, open
// exposure and period P&L all come from the ledger, so a crash between a
// fill and a snapshot loses nothing.
func (m *Manager) Reconstruct(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	state := domain.NewRiskState(now)

	dayStart := startOfDay(now)
	weekStart := startOfWeek(now)

	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("risk: reconstruct: list open positions: %w", err)
	}
	for _, p := range open {
		state.LocationDateOpen[p.LocationDateKey()]++
		state.GroupOpen[p.CorrelationGroup]++
		if !p.OpenedAt.Before(dayStart) {
			state.OpenExposureCents += p.EntryCostCents
		}
	}

	if state.DailyPnLCents, err = m.positions.RealizedPnLSince(ctx, dayStart); err != nil {
		return fmt.Errorf("risk: reconstruct: daily pnl: %w", err)
	}
	if state.WeeklyPnLCents, err = m.positions.RealizedPnLSince(ctx, weekStart); err != nil {
		return fmt.Errorf("risk: reconstruct: weekly pnl: %w", err)
	}
	if state.DailyTrades, err = m.positions.CountOpenedSince(ctx, dayStart); err != nil {
		return fmt.Errorf("risk: reconstruct: daily trades: %w", err)
	}
	if state.WeeklyTrades, err = m.positions.CountOpenedSince(ctx, weekStart); err != nil {
		return fmt.Errorf("risk: reconstruct: weekly trades: %w", err)
	}

	m.crossCheckSnapshot(ctx, state)

	m.state = state
	m.evaluateLossLimits(ctx, now)
	m.saveSnapshot(ctx)

	m.logger.InfoContext(ctx, "risk state reconstructed",
		slog.Int("open_positions", len(open)),
		slog.Int64("open_exposure_cents", state.OpenExposureCents),
		slog.Int64("daily_pnl_cents", state.DailyPnLCents),
		slog.Int64("weekly_pnl_cents", state.WeeklyPnLCents),
		slog.Int("daily_trades", state.DailyTrades),
		slog.String("breaker", string(state.Breaker)),
	)
	return nil
}

// crossCheckSnapshot compares the last persisted snapshot against the
// ledger-derived state. The ledger wins; a divergence means snapshot writes
// were lost (crash between fill and flush) and is worth an operator's
// attention, not an abort.
func (m *Manager) crossCheckSnapshot(ctx context.Context, rebuilt *domain.RiskState) {
	snap, err := m.snapshots.Load(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.WarnContext(ctx, "risk snapshot load failed", slog.String("error", err.Error()))
		}
		return
	}
	if (snap.Breaker == domain.BreakerTrippedDaily && snap.Day == rebuilt.Day) ||
		(snap.Breaker == domain.BreakerTrippedWeekly && snap.Week == rebuilt.Week) {
		// Carry the recorded trip time; evaluateLossLimits re-trips from
		// the ledger numbers but cannot recover when it first happened.
		rebuilt.TrippedAt = snap.TrippedAt
	}

	if snap.Day != rebuilt.Day || snap.Week != rebuilt.Week {
		// Stale period: the snapshot predates the current day or week and
		// its counters are expected to differ.
		return
	}

	if snap.DailyPnLCents != rebuilt.DailyPnLCents ||
		snap.WeeklyPnLCents != rebuilt.WeeklyPnLCents ||
		snap.DailyTrades != rebuilt.DailyTrades ||
		snap.WeeklyTrades != rebuilt.WeeklyTrades {
		m.logger.WarnContext(ctx, "risk snapshot diverges from ledger, using ledger",
			slog.Int64("snapshot_daily_pnl_cents", snap.DailyPnLCents),
			slog.Int64("ledger_daily_pnl_cents", rebuilt.DailyPnLCents),
			slog.Int("snapshot_daily_trades", snap.DailyTrades),
			slog.Int("ledger_daily_trades", rebuilt.DailyTrades),
			slog.Int64("snapshot_weekly_pnl_cents", snap.WeeklyPnLCents),
			slog.Int64("ledger_weekly_pnl_cents", rebuilt.WeeklyPnLCents),
		)
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfWeek returns the preceding Monday 00:00 UTC, matching the ISO week
// used by WeekKey.
func startOfWeek(t time.Time) time.Time {
	d := startOfDay(t)
	wd := int(d.Weekday())
	if wd == 0 {
		wd = 7
	}
	return d.AddDate(0, 0, -(wd - 1))
}
