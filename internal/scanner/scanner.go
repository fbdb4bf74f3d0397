// Package scanner runs the evaluation cycle: fetch forecasts and quotes,
// price every open strike market, and hand the surviving candidates to the
// risk manager in best-edge-first order.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kaelweather/weatherbot/internal/domain"
	"github.com/kaelweather/weatherbot/internal/edge"
	"github.com/kaelweather/weatherbot/internal/execution"
	"github.com/kaelweather/weatherbot/internal/forecast"
	"github.com/kaelweather/weatherbot/internal/platform/kalshi"
	"github.com/kaelweather/weatherbot/internal/provider"
	"github.com/kaelweather/weatherbot/internal/risk"
	"github.com/kaelweather/weatherbot/internal/sizing"
)

// Venue lists open events with nested markets. Satisfied by kalshi.Client.
type Venue interface {
	GetOpenEvents(ctx context.Context, seriesTicker string, limit int) ([]kalshi.Event, error)
}

// Notifier sends operator-facing trade events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds cycle tuning knobs.
type Config struct {
	// EventsPerSeries caps how many open events are pulled per city series.
	EventsPerSeries int
	// FetchTimeout bounds each provider or venue HTTP call.
	FetchTimeout time.Duration
	// LocationConcurrency bounds parallel per-city scanning.
	LocationConcurrency int
	// LockTTL is how long the distributed cycle lock is held.
	LockTTL time.Duration
}

// Deps are the collaborators a Scanner needs.
type Deps struct {
	Series      map[string]string // location code -> series ticker
	Locations   map[string]provider.Location
	Forecasters []provider.Forecaster
	Venue       Venue
	Aggregator  *forecast.Aggregator
	Calculator  *edge.Calculator
	Sizer       *sizing.Sizer
	Manager     *risk.Manager
	Executor    domain.Executor
	Capital     execution.CapitalSource
	Positions   domain.PositionStore
	Samples     domain.SampleStore
	Biases      domain.BiasStore
	Audit       domain.AuditStore
	Quotes      domain.QuoteCache
	Locks       domain.LockManager
	Notifier    Notifier
	Logger      *slog.Logger
}

// Scanner evaluates markets and admits trades, one cycle at a time.
type Scanner struct {
	cfg  Config
	deps Deps

	logger *slog.Logger
	now    func() time.Time
}

// New creates a Scanner.
func New(cfg Config, deps Deps) *Scanner {
	if cfg.EventsPerSeries <= 0 {
		cfg.EventsPerSeries = 5
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 20 * time.Second
	}
	if cfg.LocationConcurrency <= 0 {
		cfg.LocationConcurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Scanner{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "scanner")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Test hook.
func (s *Scanner) SetClock(now func() time.Time) { s.now = now }

// Cycle runs one full evaluation pass. Per-market failures are audited and
// skipped; only persistence failures abort the cycle.
func (s *Scanner) Cycle(ctx context.Context) error {
	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, domain.CycleLockKey, s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.InfoContext(ctx, "cycle lock held elsewhere, skipping")
			return nil
		}
		if err != nil {
			return fmt.Errorf("scanner: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	available, err := s.deps.Capital.Balance(ctx)
	if err != nil {
		return fmt.Errorf("scanner: fetch balance: %w", err)
	}

	candidates := s.collectCandidates(ctx)
	if len(candidates) == 0 {
		s.logger.InfoContext(ctx, "no candidates above threshold")
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Signal.AdjustedEdgeCents > candidates[j].Signal.AdjustedEdgeCents
	})
	s.logger.InfoContext(ctx, "candidates found",
		slog.Int("count", len(candidates)),
		slog.String("best_market", candidates[0].Signal.MarketID),
		slog.Float64("best_edge_cents", candidates[0].Signal.AdjustedEdgeCents),
	)

	return s.admit(ctx, candidates, available)
}

// collectCandidates scans every configured city in parallel and returns
// the priced, sized candidates that survived all filters.
func (s *Scanner) collectCandidates(ctx context.Context) []domain.Candidate {
	var (
		mu         sync.Mutex
		candidates []domain.Candidate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.LocationConcurrency)

	for code, series := range s.deps.Series {
		code, series := code, series
		g.Go(func() error {
			found := s.scanLocation(gctx, code, series)
			if len(found) > 0 {
				mu.Lock()
				candidates = append(candidates, found...)
				mu.Unlock()
			}
			// Per-location failures never abort the cycle.
			return nil
		})
	}
	_ = g.Wait()
	return candidates
}

// scanLocation evaluates every open event for one city series.
func (s *Scanner) scanLocation(ctx context.Context, code, series string) []domain.Candidate {
	loc, ok := s.deps.Locations[code]
	if !ok {
		s.logger.WarnContext(ctx, "no location config", slog.String("location", code))
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	events, err := s.deps.Venue.GetOpenEvents(fetchCtx, series, s.cfg.EventsPerSeries)
	cancel()
	if err != nil {
		s.logger.WarnContext(ctx, "event fetch failed",
			slog.String("location", code),
			slog.String("error", err.Error()),
		)
		s.audit(ctx, series, domain.KindInputError, "event-fetch-failed", map[string]any{
			"location": code, "error": err.Error(),
		})
		return nil
	}

	var out []domain.Candidate
	for _, ev := range events {
		if ctx.Err() != nil {
			return out
		}
		out = append(out, s.scanEvent(ctx, code, loc, ev)...)
	}
	return out
}

// scanEvent prices every strike market in one city/date event.
func (s *Scanner) scanEvent(ctx context.Context, code string, loc provider.Location, ev kalshi.Event) []domain.Candidate {
	now := s.now()
	date, ok := kalshi.ParseEventDate(ev.Title, now)
	if !ok {
		s.audit(ctx, ev.EventTicker, domain.KindInputError, "unparseable-event-date", map[string]any{
			"title": ev.Title,
		})
		return nil
	}

	agg, samples, err := s.buildForecast(ctx, code, loc, date)
	if err != nil {
		s.audit(ctx, ev.EventTicker, domain.KindInputError, "forecast-unavailable", map[string]any{
			"location": code, "date": date.Format("2006-01-02"), "error": err.Error(),
		})
		return nil
	}

	var out []domain.Candidate
	for _, m := range ev.Markets {
		quote := s.freshestQuote(ctx, m.Quote(code, date, now))
		if s.deps.Quotes != nil {
			if err := s.deps.Quotes.Set(ctx, quote); err != nil {
				s.logger.WarnContext(ctx, "quote cache set failed",
					slog.String("market_id", quote.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}

		cand, ok := s.evaluateMarket(ctx, quote, agg, samples)
		if ok {
			out = append(out, cand)
		}
	}
	return out
}

// freshestQuote overlays the cached prices onto the polled quote when the
// ticker feed has written a newer snapshot since the REST fetch. Strike
// geometry always comes from the poll; the feed only moves prices.
func (s *Scanner) freshestQuote(ctx context.Context, polled domain.MarketQuote) domain.MarketQuote {
	if s.deps.Quotes == nil {
		return polled
	}
	cached, err := s.deps.Quotes.Get(ctx, polled.MarketID)
	if err != nil || !cached.FetchedAt.After(polled.FetchedAt) {
		return polled
	}
	polled.YesBid = cached.YesBid
	polled.YesAsk = cached.YesAsk
	polled.LastPrice = cached.LastPrice
	polled.Volume = cached.Volume
	polled.FetchedAt = cached.FetchedAt
	return polled
}

// buildForecast fetches fresh provider samples, persists them, and
// aggregates the latest sample per provider into one forecast.
func (s *Scanner) buildForecast(ctx context.Context, code string, loc provider.Location, date time.Time) (domain.AggregatedForecast, []domain.ForecastSample, error) {
	now := s.now()

	var (
		mu    sync.Mutex
		fresh []domain.ForecastSample
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range s.deps.Forecasters {
		f := f
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.cfg.FetchTimeout)
			defer cancel()

			high, issuedAt, err := f.ForecastHigh(callCtx, loc, date)
			if err != nil {
				// One provider down is routine; the ensemble absorbs it.
				s.logger.WarnContext(ctx, "provider fetch failed",
					slog.String("provider", f.Name()),
					slog.String("location", code),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			fresh = append(fresh, domain.ForecastSample{
				Provider:  f.Name(),
				Location:  code,
				ValidDate: date,
				Predicted: high,
				IssuedAt:  issuedAt,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(fresh) > 0 && s.deps.Samples != nil {
		if err := s.deps.Samples.Insert(ctx, fresh); err != nil {
			s.logger.ErrorContext(ctx, "sample insert failed", slog.String("error", err.Error()))
		}
	}

	// Prefer the stored history: it folds fresh samples together with older
	// ones from providers that failed this cycle, and staleness weighting
	// discounts the old ones.
	samples := fresh
	if s.deps.Samples != nil {
		stored, err := s.deps.Samples.Latest(ctx, code, date, now)
		if err == nil && len(stored) >= len(fresh) {
			samples = stored
		}
	}
	if len(samples) == 0 {
		return domain.AggregatedForecast{}, nil, fmt.Errorf("no provider samples for %s on %s", code, date.Format("2006-01-02"))
	}

	var profiles []domain.BiasProfile
	if s.deps.Biases != nil {
		profiles, _ = s.deps.Biases.GetAll(ctx, code, domain.SeasonOf(date))
	}

	agg, err := s.deps.Aggregator.Aggregate(samples, profiles, now)
	if err != nil {
		return domain.AggregatedForecast{}, nil, err
	}
	return agg, samples, nil
}

// evaluateMarket runs the filter chain, pricing and sizing for one market.
// Rejections are audited here; only admissible candidates are returned.
func (s *Scanner) evaluateMarket(ctx context.Context, quote domain.MarketQuote, agg domain.AggregatedForecast, samples []domain.ForecastSample) (domain.Candidate, bool) {
	sig, err := s.deps.Calculator.Evaluate(agg, quote)
	if err != nil {
		if rej, ok := domain.AsFilterRejection(err); ok {
			s.audit(ctx, quote.MarketID, domain.KindFilterReject, rej.Filter, map[string]any{
				"detail":     rej.Detail,
				"mean_f":     agg.Mean,
				"confidence": agg.Confidence,
			})
		} else {
			s.audit(ctx, quote.MarketID, domain.KindInputError, "evaluation-error", map[string]any{
				"error": err.Error(),
			})
		}
		return domain.Candidate{}, false
	}

	bankroll, err := s.deps.Capital.Balance(ctx)
	if err != nil {
		s.audit(ctx, quote.MarketID, domain.KindInputError, "balance-unavailable", map[string]any{
			"error": err.Error(),
		})
		return domain.Candidate{}, false
	}

	contracts, cost := s.deps.Sizer.Size(sig, bankroll)
	if contracts < 1 {
		s.audit(ctx, quote.MarketID, domain.KindFilterReject, "zero-size", map[string]any{
			"edge_cents": sig.AdjustedEdgeCents,
			"bankroll":   bankroll,
		})
		return domain.Candidate{}, false
	}

	return domain.Candidate{
		Quote:     quote,
		Signal:    sig,
		Forecast:  agg,
		Samples:   samples,
		Contracts: contracts,
		CostCents: cost,
		Mode:      s.deps.Executor.Mode(),
	}, true
}

// admit runs the strictly sequential admission pass, best edge first.
func (s *Scanner) admit(ctx context.Context, candidates []domain.Candidate, available int64) error {
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pos, err := s.deps.Manager.Admit(ctx, cand, available)
		if err != nil {
			var rej *domain.RiskRejection
			if errors.As(err, &rej) {
				s.audit(ctx, cand.Quote.MarketID, domain.KindRiskReject, rej.Reason, map[string]any{
					"detail":     rej.Detail,
					"edge_cents": cand.Signal.AdjustedEdgeCents,
				})
				continue
			}
			// Persistence failure: stop admitting, the risk state can no
			// longer be trusted this cycle.
			return fmt.Errorf("scanner: admit %s: %w", cand.Quote.MarketID, err)
		}

		fill, err := s.deps.Executor.SubmitOrder(ctx, domain.OrderRequest{
			MarketID:   cand.Quote.MarketID,
			Side:       cand.Signal.Side,
			Contracts:  cand.Contracts,
			PriceCents: cand.Signal.PriceCents,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "execution failed, rolling back",
				slog.String("position_id", pos.ID),
				slog.String("market_id", cand.Quote.MarketID),
				slog.String("error", err.Error()),
			)
			if cancelErr := s.deps.Manager.Cancel(ctx, pos); cancelErr != nil {
				return fmt.Errorf("scanner: cancel after failed execution: %w", cancelErr)
			}
			s.audit(ctx, cand.Quote.MarketID, domain.KindInputError, "execution-failure", map[string]any{
				"position_id": pos.ID,
				"error":       err.Error(),
			})
			continue
		}

		if err := s.deps.Positions.SetOrderID(ctx, pos.ID, fill.OrderID); err != nil {
			s.logger.WarnContext(ctx, "set order id failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
		available -= cand.CostCents

		s.audit(ctx, cand.Quote.MarketID, domain.KindAdmitted, "admitted", map[string]any{
			"position_id":    pos.ID,
			"order_id":       fill.OrderID,
			"side":           string(cand.Signal.Side),
			"contracts":      cand.Contracts,
			"price_cents":    cand.Signal.PriceCents,
			"edge_cents":     cand.Signal.AdjustedEdgeCents,
			"confidence":     cand.Signal.Confidence,
			"forecast_mean":  cand.Signal.ForecastMean,
			"model_fair":     cand.Signal.ModelFairCents,
			"blended_fair":   cand.Signal.BlendedFairCents,
			"provider_count": cand.Forecast.ProviderCount,
		})
		s.notifyTrade(ctx, cand, pos, fill)
	}
	return nil
}

func (s *Scanner) notifyTrade(ctx context.Context, cand domain.Candidate, pos domain.Position, fill domain.Fill) {
	if s.deps.Notifier == nil {
		return
	}
	title := fmt.Sprintf("Trade: %s %s", cand.Signal.Side, cand.Quote.MarketID)
	msg := fmt.Sprintf("%s %s\n%d × %d¢ (cost $%.2f)\nEdge: %.1f¢ | Confidence: %.2f\nForecast: %.1f°F",
		cand.Quote.Location, cand.Quote.SettlementDate.Format("Jan 2"),
		cand.Contracts, cand.Signal.PriceCents, float64(cand.CostCents)/100,
		cand.Signal.AdjustedEdgeCents, cand.Signal.Confidence, cand.Signal.ForecastMean,
	)
	if fill.Paper {
		msg = "[PAPER] " + msg
	}
	_ = s.deps.Notifier.Notify(ctx, "trade", title, msg)
}

func (s *Scanner) audit(ctx context.Context, marketID string, kind domain.RejectionKind, reason string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	err := s.deps.Audit.Log(ctx, domain.AuditEntry{
		MarketID:  marketID,
		Kind:      kind,
		Reason:    reason,
		Detail:    detail,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "audit log failed",
			slog.String("market_id", marketID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}
