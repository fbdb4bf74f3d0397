package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	s3blob "github.com/kaelweather/weatherbot/internal/blob/s3"
	"github.com/kaelweather/weatherbot/internal/cache/redis"
	"github.com/kaelweather/weatherbot/internal/config"
	"github.com/kaelweather/weatherbot/internal/domain"
	"github.com/kaelweather/weatherbot/internal/edge"
	"github.com/kaelweather/weatherbot/internal/execution"
	"github.com/kaelweather/weatherbot/internal/forecast"
	"github.com/kaelweather/weatherbot/internal/notify"
	"github.com/kaelweather/weatherbot/internal/platform/kalshi"
	"github.com/kaelweather/weatherbot/internal/provider"
	"github.com/kaelweather/weatherbot/internal/risk"
	"github.com/kaelweather/weatherbot/internal/scanner"
	"github.com/kaelweather/weatherbot/internal/settlement"
	"github.com/kaelweather/weatherbot/internal/sizing"
	"github.com/kaelweather/weatherbot/internal/store/memory"
	"github.com/kaelweather/weatherbot/internal/store/postgres"
)

// Dependencies bundles every component the application loops need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Positions domain.PositionStore
	RiskState domain.RiskStateStore
	Samples   domain.SampleStore
	Biases    domain.BiasStore
	Audit     domain.AuditStore

	// Caches
	Quotes domain.QuoteCache
	Locks  domain.LockManager

	// Venue
	Kalshi *kalshi.Client
	Feed   *kalshi.WSClient

	// Execution
	Executor domain.Executor
	Capital  execution.CapitalSource
	Paper    *execution.Paper // nil in live mode

	// Pipeline
	Manager    *risk.Manager
	Scanner    *scanner.Scanner
	Settlement *settlement.Processor
	Archiver   domain.Archiver // nil when S3 is disabled

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Stores ---
	var (
		auditArchive    s3blob.AuditArchiveStore
		positionArchive s3blob.PositionArchiveStore
	)
	if strings.ToLower(cfg.Database.Backend) == "postgres" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		positions := postgres.NewPositionStore(pool)
		audit := postgres.NewAuditStore(pool)
		deps.Positions = positions
		deps.RiskState = postgres.NewRiskStateStore(pool)
		deps.Samples = postgres.NewSampleStore(pool)
		deps.Biases = postgres.NewBiasStore(pool)
		deps.Audit = audit
		auditArchive = audit
		positionArchive = positions
	} else {
		positions := memory.NewPositionStore()
		audit := memory.NewAuditStore()
		deps.Positions = positions
		deps.RiskState = memory.NewRiskStateStore()
		deps.Samples = memory.NewSampleStore()
		deps.Biases = memory.NewBiasStore()
		deps.Audit = audit
		auditArchive = audit
		positionArchive = positions
	}

	// --- Caches and locks ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Quotes = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
	} else {
		deps.Quotes = memory.NewQuoteCache(cfg.Redis.QuoteTTL.Duration)
		deps.Locks = memory.NewLockManager()
	}

	// --- S3 archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			auditArchive,
			positionArchive,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Kalshi ---
	deps.Kalshi = kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.ApiKey)
	if cfg.Kalshi.RsaPrivateKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.Kalshi.RsaPrivateKeyPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: read kalshi private key: %w", err)
		}
		if err := deps.Kalshi.SetRSAPrivateKey(pemBytes); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kalshi private key: %w", err)
		}
	}
	deps.Feed = kalshi.NewWSClient(wsURL(cfg.Kalshi.BaseURL))

	// --- Execution ---
	live := execution.NewLive(deps.Kalshi, logger)
	if cfg.Paper() {
		// Paper mode settles against real venue outcomes via the live
		// executor's settlement lookup.
		paper := execution.NewPaper(cfg.Sizing.PaperBankrollCents, live, logger)
		deps.Paper = paper
		deps.Executor = paper
		deps.Capital = paper
	} else {
		deps.Executor = live
		deps.Capital = live
	}

	// --- Providers ---
	noaa := provider.NewNOAA()
	forecasters := []provider.Forecaster{
		noaa,
		provider.NewOpenMeteoGFS(),
		provider.NewOpenMeteoICON(),
		provider.NewOpenMeteoECMWF(),
		provider.NewOpenMeteoGEM(),
	}
	locations, series := buildLocations(cfg.Cities)

	// --- Pipeline ---
	deps.Manager = risk.NewManager(riskConfig(cfg), deps.Positions, deps.RiskState, deps.Notifier, logger)
	if err := deps.Manager.Reconstruct(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: reconstruct risk state: %w", err)
	}

	aggregator := forecast.NewAggregator(forecastConfig(cfg))
	calculator := edge.NewCalculator(edgeConfig(cfg))
	sizer := sizing.NewSizer(sizing.Config{
		KellyFraction: cfg.Sizing.KellyFraction,
		MaxContracts:  cfg.Sizing.MaxContracts,
		MaxCostCents:  cfg.Sizing.MaxCostCents,
	})

	deps.Scanner = scanner.New(scanner.Config{
		EventsPerSeries:     cfg.Scanner.EventsPerSeries,
		FetchTimeout:        cfg.Scanner.FetchTimeout.Duration,
		LocationConcurrency: cfg.Scanner.LocationConcurrency,
		LockTTL:             cfg.Scanner.LockTTL.Duration,
	}, scanner.Deps{
		Series:      series,
		Locations:   locations,
		Forecasters: forecasters,
		Venue:       deps.Kalshi,
		Aggregator:  aggregator,
		Calculator:  calculator,
		Sizer:       sizer,
		Manager:     deps.Manager,
		Executor:    deps.Executor,
		Capital:     deps.Capital,
		Positions:   deps.Positions,
		Samples:     deps.Samples,
		Biases:      deps.Biases,
		Audit:       deps.Audit,
		Quotes:      deps.Quotes,
		Locks:       deps.Locks,
		Notifier:    deps.Notifier,
		Logger:      logger,
	})

	var crediter settlement.Crediter
	if deps.Paper != nil {
		crediter = deps.Paper
	}
	deps.Settlement = settlement.NewProcessor(
		deps.Positions,
		deps.Biases,
		deps.Manager,
		deps.Executor,
		noaa,
		crediter,
		deps.Notifier,
		locations,
		deps.Locks,
		cfg.Scanner.LockTTL.Duration,
		logger,
	)

	return deps, cleanup, nil
}

// buildLocations converts the configured city table into provider locations
// and the city -> series ticker map.
func buildLocations(cities map[string]config.CityConfig) (map[string]provider.Location, map[string]string) {
	locations := make(map[string]provider.Location, len(cities))
	series := make(map[string]string, len(cities))
	for code, c := range cities {
		locations[code] = provider.Location{
			Code:       code,
			Name:       c.Name,
			Lat:        c.Lat,
			Lon:        c.Lon,
			NOAAOffice: c.NOAAOfc,
			GridX:      c.GridX,
			GridY:      c.GridY,
			Timezone:   c.Timezone,
			Station:    c.Station,
		}
		series[code] = c.Series
	}
	return locations, series
}

func riskConfig(cfg *config.Config) risk.Config {
	return risk.Config{
		MaxPerLocationDate:   cfg.Risk.MaxPerCityDate,
		MaxPerGroup:          cfg.Risk.MaxPerGroup,
		MaxDailyTrades:       cfg.Risk.MaxDailyTrades,
		MaxWeeklyTrades:      cfg.Risk.MaxWeeklyTrades,
		MaxDailyLossCents:    cfg.Risk.MaxDailyLossCents,
		MaxWeeklyLossCents:   cfg.Risk.MaxWeeklyLossCents,
		CapitalBufferCents:   cfg.Risk.CapitalBufferCents,
		CorrelationGroups:    cfg.Risk.CorrelationGroups,
		BreakerAlertInterval: cfg.Risk.BreakerAlertInterval.Duration,
	}
}

func forecastConfig(cfg *config.Config) forecast.Config {
	stdDevs := make(map[string]map[domain.Season]float64, len(cfg.Forecast.StdDevs))
	for city, seasons := range cfg.Forecast.StdDevs {
		m := make(map[domain.Season]float64, len(seasons))
		for season, sd := range seasons {
			m[domain.Season(season)] = sd
		}
		stdDevs[city] = m
	}
	refresh := make(map[string]time.Duration, len(cfg.Forecast.RefreshHours))
	for p, hours := range cfg.Forecast.RefreshHours {
		refresh[p] = time.Duration(hours * float64(time.Hour))
	}
	return forecast.Config{
		BaseWeights:      cfg.Forecast.Weights,
		RefreshIntervals: refresh,
		StalenessFloor:   cfg.Forecast.StalenessFloor,
		DefaultStdDev:    cfg.Forecast.DefaultStdDev,
		StdDevs:          stdDevs,
		MinProviders:     cfg.Forecast.MinProviders,
		MinBiasSamples:   cfg.Forecast.MinBiasSamples,
	}
}

func edgeConfig(cfg *config.Config) edge.Config {
	profile := cfg.Edge.Profile(cfg.Mode)
	return edge.Config{
		ModelWeight:          cfg.Edge.ModelWeight,
		MinVolume:            cfg.Edge.MinVolume,
		MaxSpreadCents:       cfg.Edge.MaxSpreadCents,
		StrikeProximityF:     cfg.Edge.StrikeProximityF,
		MinYesPriceCents:     profile.MinYesPriceCents,
		MinNoPriceCents:      profile.MinNoPriceCents,
		MaxProviderSpreadF:   cfg.Edge.MaxProviderSpreadF,
		MaxDisagreementCents: profile.MaxDisagreementCents,
		MaxFairMarketRatio:   profile.MaxFairMarketRatio,
		MinEdgeCents:         profile.MinEdgeCents,
		MaxEdgeCents:         cfg.Edge.MaxEdgeCents,
		MinConfidence:        profile.MinConfidence,
	}
}

// wsURL derives the ticker feed endpoint from the REST base URL, e.g.
// https://api.elections.kalshi.com/trade-api/v2 ->
// wss://api.elections.kalshi.com/trade-api/ws/v2.
func wsURL(baseURL string) string {
	ws := strings.Replace(baseURL, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	ws = strings.TrimSuffix(ws, "/")
	if strings.HasSuffix(ws, "/trade-api/v2") {
		return strings.TrimSuffix(ws, "/v2") + "/ws/v2"
	}
	return ws + "/trade-api/ws/v2"
}
