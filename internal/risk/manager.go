// Package risk is the admission gatekeeper. It owns the single authoritative
// RiskState, enforces loss limits, correlation-group and per-location-date
// caps, deduplication and the circuit-breaker state machine, and applies
// settlements to the position ledger.
//
// All mutation happens under the manager's lock: admission checks, position
// creation and counter updates are one atomic unit per candidate, so two
// candidates in the same cycle can never jointly violate a cap that neither
// alone would violate.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// Reason names for admission rejections, stable identifiers in the audit log.
const (
	ReasonBreakerTripped      = "circuit-breaker-tripped"
	ReasonDuplicateLocation   = "duplicate-location-date"
	ReasonCorrelationGroup    = "correlation-group-limit"
	ReasonDailyTradeLimit     = "daily-trade-limit"
	ReasonWeeklyTradeLimit    = "weekly-trade-limit"
	ReasonInsufficientCapital = "insufficient-capital"
)

// Alerter receives operator-facing events. Satisfied by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the risk limits.
type Config struct {
	MaxPerLocationDate int // open positions per (location, settlement date)
	MaxPerGroup        int // open positions per correlation group
	MaxDailyTrades     int
	MaxWeeklyTrades    int
	MaxDailyLossCents  int64
	MaxWeeklyLossCents int64
	// CapitalBufferCents is kept back from the bankroll so fees and price
	// drift cannot overdraw the account.
	CapitalBufferCents int64
	// CorrelationGroups maps group name -> member locations. Locations not
	// listed form their own singleton group.
	CorrelationGroups map[string][]string
	// BreakerAlertInterval throttles repeated circuit-breaker alerts.
	BreakerAlertInterval time.Duration
}

// Manager enforces admission checks and settlement accounting.
type Manager struct {
	cfg       Config
	positions domain.PositionStore
	snapshots domain.RiskStateStore
	alerter   Alerter
	logger    *slog.Logger

	mu    sync.Mutex
	state *domain.RiskState

	groupByLocation  map[string]string
	lastBreakerAlert time.Time

	now func() time.Time
}

// NewManager creates a Manager. The state starts empty; call Reconstruct
// before admitting anything.
func NewManager(
	cfg Config,
	positions domain.PositionStore,
	snapshots domain.RiskStateStore,
	alerter Alerter,
	logger *slog.Logger,
) *Manager {
	if cfg.MaxPerLocationDate <= 0 {
		cfg.MaxPerLocationDate = 1
	}
	if cfg.BreakerAlertInterval <= 0 {
		cfg.BreakerAlertInterval = time.Hour
	}
	byLoc := make(map[string]string)
	for group, locations := range cfg.CorrelationGroups {
		for _, loc := range locations {
			byLoc[loc] = group
		}
	}
	return &Manager{
		cfg:             cfg,
		positions:       positions,
		snapshots:       snapshots,
		alerter:         alerter,
		logger:          logger.With(slog.String("component", "risk")),
		state:           domain.NewRiskState(time.Now().UTC()),
		groupByLocation: byLoc,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// GroupFor returns the correlation group for a location; ungrouped
// locations are their own group.
func (m *Manager) GroupFor(location string) string {
	if g, ok := m.groupByLocation[location]; ok {
		return g
	}
	return location
}

// State returns a snapshot copy of the current risk state.
func (m *Manager) State() *domain.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Admit runs the admission pipeline for one candidate and, on acceptance,
// atomically creates the open position and updates every counter it is
// accounted in. availableCents is the capital the executor can spend.
//
// Rejections are *domain.RiskRejection values carrying a named reason; any
// other error is a persistence failure and the caller must abort the cycle.
func (m *Manager) Admit(ctx context.Context, cand domain.Candidate, availableCents int64) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.rollover(now)
	m.evaluateLossLimits(ctx, now)

	// 1. Circuit breaker.
	if m.state.Breaker != domain.BreakerArmed {
		return domain.Position{}, &domain.RiskRejection{
			Reason: ReasonBreakerTripped,
			Detail: string(m.state.Breaker),
		}
	}

	// 2. Location+date dedup.
	ldKey := domain.LocationDateKey(cand.Quote.Location, cand.Quote.SettlementDate)
	if m.state.LocationDateOpen[ldKey] >= m.cfg.MaxPerLocationDate {
		return domain.Position{}, &domain.RiskRejection{
			Reason: ReasonDuplicateLocation,
			Detail: ldKey,
		}
	}

	// 3. Correlation-group cap.
	group := m.GroupFor(cand.Quote.Location)
	if m.cfg.MaxPerGroup > 0 && m.state.GroupOpen[group] >= m.cfg.MaxPerGroup {
		return domain.Position{}, &domain.RiskRejection{
			Reason: ReasonCorrelationGroup,
			Detail: fmt.Sprintf("%s at %d/%d", group, m.state.GroupOpen[group], m.cfg.MaxPerGroup),
		}
	}

	// 4. Trade-count caps.
	if m.cfg.MaxDailyTrades > 0 && m.state.DailyTrades >= m.cfg.MaxDailyTrades {
		return domain.Position{}, &domain.RiskRejection{
			Reason: ReasonDailyTradeLimit,
			Detail: fmt.Sprintf("%d/%d", m.state.DailyTrades, m.cfg.MaxDailyTrades),
		}
	}
	if m.cfg.MaxWeeklyTrades > 0 && m.state.WeeklyTrades >= m.cfg.MaxWeeklyTrades {
		return domain.Position{}, &domain.RiskRejection{
			Reason: ReasonWeeklyTradeLimit,
			Detail: fmt.Sprintf("%d/%d", m.state.WeeklyTrades, m.cfg.MaxWeeklyTrades),
		}
	}

	// 5. Available capital.
	if cand.CostCents > availableCents-m.cfg.CapitalBufferCents {
		return domain.Position{}, &domain.RiskRejection{
			Reason: ReasonInsufficientCapital,
			Detail: fmt.Sprintf("cost=%d¢ available=%d¢ buffer=%d¢", cand.CostCents, availableCents, m.cfg.CapitalBufferCents),
		}
	}

	pos := domain.Position{
		ID:               uuid.New().String(),
		MarketID:         cand.Quote.MarketID,
		Location:         cand.Quote.Location,
		SettlementDate:   cand.Quote.SettlementDate,
		CorrelationGroup: group,
		Side:             cand.Signal.Side,
		Contracts:        cand.Contracts,
		EntryPriceCents:  cand.Signal.PriceCents,
		EntryCostCents:   cand.CostCents,
		Status:           domain.PositionOpen,
		Mode:             cand.Mode,
		OpenedAt:         now,
		Samples:          cand.Samples,
	}
	if err := m.positions.Create(ctx, pos); err != nil {
		// No counter was touched; the admission simply did not happen.
		return domain.Position{}, fmt.Errorf("risk: create position: %w", err)
	}

	m.state.LocationDateOpen[ldKey]++
	m.state.GroupOpen[group]++
	m.state.DailyTrades++
	m.state.WeeklyTrades++
	m.state.OpenExposureCents += pos.EntryCostCents
	m.saveSnapshot(ctx)

	m.logger.InfoContext(ctx, "position admitted",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("side", string(pos.Side)),
		slog.Int64("contracts", pos.Contracts),
		slog.Int64("cost_cents", pos.EntryCostCents),
		slog.String("group", group),
	)
	return pos, nil
}

// Cancel terminates a position without P&L, releasing every counter Admit
// charged: rollback after a failed execution, or a market the venue voided.
// A position must never remain open without a confirmed fill.
func (m *Manager) Cancel(ctx context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.positions.Cancel(ctx, pos.ID); err != nil {
		return fmt.Errorf("risk: cancel position %s: %w", pos.ID, err)
	}

	m.releaseOpenCounters(pos)
	// The admission itself is still counted in the trade caps: a failed
	// order consumed a venue round-trip and should slow the bot down.
	m.saveSnapshot(ctx)

	m.logger.WarnContext(ctx, "position cancelled, counters released",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
	)
	return nil
}

// ApplySettlement applies one settlement outcome to an open position:
// terminal status transition, realized P&L accounting, loss-limit
// evaluation and circuit-breaker tripping, all in one atomic step.
//
// Replay-safe: settling an already-settled position returns
// domain.ErrAlreadySettled and changes nothing.
func (m *Manager) ApplySettlement(ctx context.Context, pos domain.Position, outcome domain.SettlementOutcome) (int64, error) {
	if outcome.Result == domain.MarketResultOpen {
		return 0, domain.ErrNotSettled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.rollover(now)

	pnl := domain.SettlementPnLCents(pos, outcome.Result)
	status := domain.PositionSettledLoss
	if pnl > 0 {
		status = domain.PositionSettledWin
	}

	if err := m.positions.Settle(ctx, pos.ID, status, pnl, now); err != nil {
		if err == domain.ErrAlreadySettled {
			return 0, domain.ErrAlreadySettled
		}
		return 0, fmt.Errorf("risk: settle position %s: %w", pos.ID, err)
	}

	m.releaseOpenCounters(pos)
	m.state.DailyPnLCents += pnl
	m.state.WeeklyPnLCents += pnl

	// Loss limits are evaluated atomically with the settlement that may
	// breach them: the very next admission already sees the trip.
	m.evaluateLossLimits(ctx, now)
	m.saveSnapshot(ctx)

	m.logger.InfoContext(ctx, "settlement applied",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("result", string(outcome.Result)),
		slog.Int64("pnl_cents", pnl),
		slog.Int64("daily_pnl_cents", m.state.DailyPnLCents),
		slog.String("breaker", string(m.state.Breaker)),
	)
	return pnl, nil
}

func (m *Manager) releaseOpenCounters(pos domain.Position) {
	ldKey := pos.LocationDateKey()
	if m.state.LocationDateOpen[ldKey] > 0 {
		m.state.LocationDateOpen[ldKey]--
		if m.state.LocationDateOpen[ldKey] == 0 {
			delete(m.state.LocationDateOpen, ldKey)
		}
	}
	group := pos.CorrelationGroup
	if m.state.GroupOpen[group] > 0 {
		m.state.GroupOpen[group]--
		if m.state.GroupOpen[group] == 0 {
			delete(m.state.GroupOpen, group)
		}
	}
	if pos.OpenedAt.UTC().Format("2006-01-02") == m.state.Day {
		m.state.OpenExposureCents -= pos.EntryCostCents
		if m.state.OpenExposureCents < 0 {
			m.state.OpenExposureCents = 0
		}
	}
}

// evaluateLossLimits trips the breaker when the realized P&L plus the
// worst-case loss of today's open exposure breaches a limit. One-way within
// the period: nothing here ever re-arms a tripped breaker.
func (m *Manager) evaluateLossLimits(ctx context.Context, now time.Time) {
	if m.state.Breaker != domain.BreakerArmed {
		m.maybeAlertBreaker(ctx, now)
		return
	}

	effectiveDaily := m.state.DailyPnLCents - m.state.OpenExposureCents
	effectiveWeekly := m.state.WeeklyPnLCents - m.state.OpenExposureCents

	switch {
	case m.cfg.MaxDailyLossCents > 0 && effectiveDaily <= -m.cfg.MaxDailyLossCents:
		m.trip(ctx, domain.BreakerTrippedDaily, now, effectiveDaily)
	case m.cfg.MaxWeeklyLossCents > 0 && effectiveWeekly <= -m.cfg.MaxWeeklyLossCents:
		m.trip(ctx, domain.BreakerTrippedWeekly, now, effectiveWeekly)
	}
}

func (m *Manager) trip(ctx context.Context, status domain.BreakerStatus, now time.Time, effective int64) {
	m.state.Breaker = status
	if m.state.TrippedAt == nil {
		// A restart re-trips from the ledger numbers; keep the trip time
		// the snapshot recorded.
		t := now
		m.state.TrippedAt = &t
	}

	m.logger.ErrorContext(ctx, "circuit breaker tripped",
		slog.String("status", string(status)),
		slog.Int64("effective_pnl_cents", effective),
	)
	m.lastBreakerAlert = time.Time{} // force an immediate alert
	m.maybeAlertBreaker(ctx, now)
}

func (m *Manager) maybeAlertBreaker(ctx context.Context, now time.Time) {
	if m.alerter == nil || m.state.Breaker == domain.BreakerArmed {
		return
	}
	if now.Sub(m.lastBreakerAlert) < m.cfg.BreakerAlertInterval {
		return
	}
	m.lastBreakerAlert = now
	_ = m.alerter.Notify(ctx, "circuit_breaker", "Circuit Breaker Tripped",
		fmt.Sprintf("Status: %s\nDaily P&L: $%.2f\nWeekly P&L: $%.2f\nTrading paused until period rollover.",
			m.state.Breaker,
			float64(m.state.DailyPnLCents)/100,
			float64(m.state.WeeklyPnLCents)/100,
		))
}

// rollover resets period accounting when the day or week boundary has
// passed. Re-arming the breaker happens here and only here.
func (m *Manager) rollover(now time.Time) {
	day := domain.DayKey(now)
	week := domain.WeekKey(now)

	if day != m.state.Day {
		m.state.Day = day
		m.state.DailyPnLCents = 0
		m.state.DailyTrades = 0
		m.state.OpenExposureCents = 0
		if m.state.Breaker == domain.BreakerTrippedDaily {
			m.state.Breaker = domain.BreakerArmed
			m.state.TrippedAt = nil
		}
	}
	if week != m.state.Week {
		m.state.Week = week
		m.state.WeeklyPnLCents = 0
		m.state.WeeklyTrades = 0
		if m.state.Breaker == domain.BreakerTrippedWeekly {
			m.state.Breaker = domain.BreakerArmed
			m.state.TrippedAt = nil
		}
	}
}

func (m *Manager) saveSnapshot(ctx context.Context) {
	if m.snapshots == nil {
		return
	}
	if err := m.snapshots.Save(ctx, m.state.Clone()); err != nil {
		// The ledger remains the source of truth; a failed snapshot only
		// costs a Reconstruct on next startup.
		m.logger.ErrorContext(ctx, "risk state snapshot failed",
			slog.String("error", err.Error()),
		)
	}
}
