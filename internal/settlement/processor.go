// Package settlement resolves open positions against venue outcomes and
// feeds observed temperatures back into provider bias learning.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
	"github.com/kaelweather/weatherbot/internal/forecast"
	"github.com/kaelweather/weatherbot/internal/provider"
	"github.com/kaelweather/weatherbot/internal/risk"
)

// Observer fetches the observed daily high for a location, ground truth
// for bias feedback. Satisfied by provider.NOAA.
type Observer interface {
	ObservedHigh(ctx context.Context, loc provider.Location, date time.Time) (float64, error)
}

// Crediter receives settlement proceeds and refunds for voided markets.
// Satisfied by execution.Paper; live mode needs none because the venue
// credits the real account.
type Crediter interface {
	Credit(ctx context.Context, pos domain.Position, pnlCents int64)
	Refund(pos domain.Position)
}

// Notifier sends operator-facing settlement events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Processor walks open positions and applies any settlements the venue has
// resolved. Every step is replay-safe: a crash mid-pass re-processes the
// same positions with no double counting.
type Processor struct {
	positions domain.PositionStore
	biases    domain.BiasStore
	manager   *risk.Manager
	executor  domain.Executor
	observer  Observer
	crediter  Crediter
	notifier  Notifier
	locations map[string]provider.Location
	locks     domain.LockManager
	lockTTL   time.Duration
	logger    *slog.Logger
}

// NewProcessor wires a settlement processor. observer, crediter and
// notifier may be nil; the corresponding steps are skipped. locks is the
// same manager the scanner uses, so a settlement pass never interleaves
// with an evaluation cycle; nil disables the exclusion.
func NewProcessor(
	positions domain.PositionStore,
	biases domain.BiasStore,
	manager *risk.Manager,
	executor domain.Executor,
	observer Observer,
	crediter Crediter,
	notifier Notifier,
	locations map[string]provider.Location,
	locks domain.LockManager,
	lockTTL time.Duration,
	logger *slog.Logger,
) *Processor {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Processor{
		positions: positions,
		biases:    biases,
		manager:   manager,
		executor:  executor,
		observer:  observer,
		crediter:  crediter,
		notifier:  notifier,
		locations: locations,
		locks:     locks,
		lockTTL:   lockTTL,
		logger:    logger.With(slog.String("component", "settlement")),
	}
}

// Run performs one settlement pass over all open positions. Per-position
// failures are logged and skipped so one bad market cannot stall the rest.
// The pass holds the shared cycle lock; a concurrent evaluation cycle defers
// it to the next tick.
func (p *Processor) Run(ctx context.Context) error {
	if p.locks != nil {
		unlock, err := p.locks.Acquire(ctx, domain.CycleLockKey, p.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			p.logger.InfoContext(ctx, "cycle lock held, deferring settlement pass")
			return nil
		}
		if err != nil {
			return fmt.Errorf("settlement: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	open, err := p.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("settlement: list open positions: %w", err)
	}

	settled := 0
	for _, pos := range open {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok, err := p.processOne(ctx, pos)
		if err != nil {
			p.logger.ErrorContext(ctx, "settlement failed",
				slog.String("position_id", pos.ID),
				slog.String("market_id", pos.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			settled++
		}
	}

	if settled > 0 {
		p.logger.InfoContext(ctx, "settlement pass complete",
			slog.Int("open", len(open)),
			slog.Int("settled", settled),
		)
	}
	return nil
}

// processOne resolves a single position. Returns true when the position
// settled during this pass.
func (p *Processor) processOne(ctx context.Context, pos domain.Position) (bool, error) {
	outcome, err := p.executor.FetchSettlement(ctx, pos.MarketID)
	if err != nil {
		return false, err
	}
	if outcome == nil {
		return false, nil
	}
	if outcome.Result == domain.MarketResultVoid {
		return p.voidPosition(ctx, pos)
	}

	pnl, err := p.manager.ApplySettlement(ctx, pos, *outcome)
	if errors.Is(err, domain.ErrAlreadySettled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if p.crediter != nil && pos.Mode == domain.ModePaper {
		p.crediter.Credit(ctx, pos, pnl)
	}

	actual := p.recordAccuracy(ctx, pos)
	p.notifySettlement(ctx, pos, *outcome, pnl, actual)
	return true, nil
}

// voidPosition cancels a position whose market the venue voided: no P&L,
// counters released, entry cost returned to a paper bankroll. Replay-safe
// like regular settlement.
func (p *Processor) voidPosition(ctx context.Context, pos domain.Position) (bool, error) {
	if err := p.manager.Cancel(ctx, pos); err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) {
			return false, nil
		}
		return false, err
	}
	if p.crediter != nil && pos.Mode == domain.ModePaper {
		p.crediter.Refund(pos)
	}
	p.logger.InfoContext(ctx, "position voided by venue",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.Int64("refunded_cents", pos.EntryCostCents),
	)
	return true, nil
}

// recordAccuracy fetches the observed high and folds the prediction error
// of every provider sample attached to the position into its bias profile.
// Returns the observed high, or nil when unavailable.
func (p *Processor) recordAccuracy(ctx context.Context, pos domain.Position) *float64 {
	if p.observer == nil || len(pos.Samples) == 0 {
		return nil
	}
	loc, ok := p.locations[pos.Location]
	if !ok {
		return nil
	}

	actual, err := p.observer.ObservedHigh(ctx, loc, pos.SettlementDate)
	if err != nil {
		p.logger.WarnContext(ctx, "observed high unavailable",
			slog.String("location", pos.Location),
			slog.String("error", err.Error()),
		)
		return nil
	}

	season := domain.SeasonOf(pos.SettlementDate)
	for _, sample := range pos.Samples {
		profile, err := p.biases.Get(ctx, sample.Provider, pos.Location, season)
		if errors.Is(err, domain.ErrNotFound) {
			profile = forecast.NewProfile(sample.Provider, pos.Location, season)
		} else if err != nil {
			p.logger.ErrorContext(ctx, "bias profile load failed",
				slog.String("provider", sample.Provider),
				slog.String("error", err.Error()),
			)
			continue
		}

		updated := forecast.UpdateProfile(profile, sample.Predicted, actual, time.Now().UTC())
		if err := p.biases.Upsert(ctx, updated); err != nil {
			p.logger.ErrorContext(ctx, "bias profile update failed",
				slog.String("provider", sample.Provider),
				slog.String("error", err.Error()),
			)
		}
	}

	p.logger.InfoContext(ctx, "accuracy recorded",
		slog.String("location", pos.Location),
		slog.String("date", pos.SettlementDate.Format("2006-01-02")),
		slog.Float64("observed_high_f", actual),
		slog.Int("providers", len(pos.Samples)),
	)
	return &actual
}

func (p *Processor) notifySettlement(ctx context.Context, pos domain.Position, outcome domain.SettlementOutcome, pnl int64, actual *float64) {
	if p.notifier == nil {
		return
	}

	verdict := "LOSS"
	if pnl > 0 {
		verdict = "WIN"
	}
	msg := fmt.Sprintf("%s %s\nSide: %s × %d @ %d¢\nResult: %s\nP&L: $%.2f",
		pos.Location, pos.SettlementDate.Format("Jan 2"),
		pos.Side, pos.Contracts, pos.EntryPriceCents,
		outcome.Result, float64(pnl)/100,
	)
	if actual != nil {
		msg += fmt.Sprintf("\nObserved high: %.1f°F", *actual)
	}
	if pos.Mode == domain.ModePaper {
		msg = "[PAPER] " + msg
	}
	_ = p.notifier.Notify(ctx, "settlement", fmt.Sprintf("Settlement %s: %s", verdict, pos.MarketID), msg)
}
