// Package app provides the top-level application lifecycle for the weather
// bot. It wires together all dependencies (stores, caches, venue clients,
// the evaluation pipeline and notifications) and runs the scan, settlement
// and archival loops until shutdown.
package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kaelweather/weatherbot/internal/config"
	"github.com/kaelweather/weatherbot/internal/domain"
	"github.com/kaelweather/weatherbot/internal/platform/kalshi"
	"github.com/kaelweather/weatherbot/internal/scanner"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the scan,
// settlement, quote feed and archival loops, and blocks until the context is
// cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting weather bot",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.scanLoop(ctx, deps) })
	g.Go(func() error { return a.settlementLoop(ctx, deps) })
	g.Go(func() error { return a.quoteFeed(ctx, deps) })
	if deps.Archiver != nil {
		g.Go(func() error { return a.archiveLoop(ctx, deps) })
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down weather bot")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// scanLoop runs evaluation cycles on the model-update-aware cadence: short
// intervals in the UTC hours after the major weather models publish, long
// intervals otherwise.
func (a *App) scanLoop(ctx context.Context, deps *Dependencies) error {
	for {
		if err := deps.Scanner.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.ErrorContext(ctx, "scan cycle failed", slog.String("error", err.Error()))
		}
		a.refreshFeedSubscriptions(ctx, deps)

		interval := scanner.PollInterval(time.Now())
		a.logger.DebugContext(ctx, "scan cycle complete",
			slog.Duration("next_in", interval))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// settlementLoop periodically settles open positions against venue results.
func (a *App) settlementLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Scanner.SettlementInterval.Duration
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := deps.Settlement.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.ErrorContext(ctx, "settlement pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// quoteFeed keeps cached quotes fresh between scan cycles by applying ticker
// updates from the venue WebSocket to the quote cache. Markets not already
// in the cache are ignored; the scanner remains the source of market
// discovery.
func (a *App) quoteFeed(ctx context.Context, deps *Dependencies) error {
	deps.Feed.OnTicker(func(u kalshi.TickerUpdate) {
		q, err := deps.Quotes.Get(ctx, u.Ticker)
		if err != nil {
			return
		}
		q.YesBid = u.YesBid
		q.YesAsk = u.YesAsk
		q.LastPrice = u.LastPrice
		q.Volume = u.Volume
		q.FetchedAt = u.Time
		if err := deps.Quotes.Set(ctx, q); err != nil {
			a.logger.WarnContext(ctx, "quote cache update failed",
				slog.String("ticker", u.Ticker),
				slog.String("error", err.Error()))
		}
	})

	if err := deps.Feed.Connect(ctx); err != nil {
		// Live quotes are an optimisation; polling still works without
		// the feed.
		a.logger.WarnContext(ctx, "ticker feed unavailable", slog.String("error", err.Error()))
		<-ctx.Done()
		return ctx.Err()
	}
	defer deps.Feed.Close()

	<-ctx.Done()
	return ctx.Err()
}

// refreshFeedSubscriptions points the ticker feed at the markets of the
// currently open positions.
func (a *App) refreshFeedSubscriptions(ctx context.Context, deps *Dependencies) {
	open, err := deps.Positions.ListOpen(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "list open positions for feed", slog.String("error", err.Error()))
		return
	}
	if len(open) == 0 {
		return
	}
	tickers := make([]string, 0, len(open))
	seen := make(map[string]bool, len(open))
	for _, p := range open {
		if !seen[p.MarketID] {
			seen[p.MarketID] = true
			tickers = append(tickers, p.MarketID)
		}
	}
	if err := deps.Feed.Subscribe(ctx, tickers); err != nil {
		a.logger.DebugContext(ctx, "feed subscribe failed", slog.String("error", err.Error()))
	}
}

// archiveLoop exports aged audit rows and settled positions to object
// storage once a day.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.S3.ArchiveRetentionDays)
			a.runArchive(ctx, deps.Archiver, cutoff)
		}
	}
}

func (a *App) runArchive(ctx context.Context, archiver domain.Archiver, cutoff time.Time) {
	if n, err := archiver.ArchiveAudit(ctx, cutoff); err != nil {
		a.logger.ErrorContext(ctx, "audit archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.InfoContext(ctx, "audit archive complete", slog.Int64("rows", n))
	}
	if n, err := archiver.ArchivePositions(ctx, cutoff); err != nil {
		a.logger.ErrorContext(ctx, "position archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.InfoContext(ctx, "position archive complete", slog.Int64("rows", n))
	}
}
