// Package config defines the top-level configuration for the weather bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WEATHERBOT_* environment variables.
type Config struct {
	Kalshi   KalshiConfig          `toml:"kalshi"`
	Database DatabaseConfig        `toml:"database"`
	Redis    RedisConfig           `toml:"redis"`
	S3       S3Config              `toml:"s3"`
	Forecast ForecastConfig        `toml:"forecast"`
	Edge     EdgeConfig            `toml:"edge"`
	Sizing   SizingConfig          `toml:"sizing"`
	Risk     RiskConfig            `toml:"risk"`
	Scanner  ScannerConfig         `toml:"scanner"`
	Notify   NotifyConfig          `toml:"notify"`
	Cities   map[string]CityConfig `toml:"cities"`
	Mode     string                `toml:"mode"` // "paper" or "live"
	LogLevel string                `toml:"log_level"`
}

// KalshiConfig holds Kalshi exchange API credentials.
type KalshiConfig struct {
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	BaseURL           string `toml:"base_url"`
}

// DatabaseConfig holds PostgreSQL connection parameters. Backend "memory"
// selects the in-process stores instead, which keep no state across restarts
// and are only suitable for paper mode.
type DatabaseConfig struct {
	Backend       string `toml:"backend"` // "postgres" or "memory"
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the bot falls
// back to in-process quote caching and locking.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters for audit archival.
type S3Config struct {
	Enabled              bool   `toml:"enabled"`
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
}

// ForecastConfig holds ensemble aggregation parameters.
type ForecastConfig struct {
	// Weights assigns each provider its base ensemble weight. Providers
	// not listed default to 1.0.
	Weights map[string]float64 `toml:"weights"`
	// DefaultStdDev is the baseline forecast RMSE in °F when no
	// city/season entry exists.
	DefaultStdDev float64 `toml:"default_std_dev"`
	// StdDevs maps city code -> season name -> forecast σ in °F.
	StdDevs map[string]map[string]float64 `toml:"std_devs"`
	// RefreshHours is the expected refresh cadence per provider, in hours,
	// used to discount stale samples.
	RefreshHours   map[string]float64 `toml:"refresh_hours"`
	StalenessFloor float64            `toml:"staleness_floor"`
	MinProviders   int                `toml:"min_providers"`
	MinBiasSamples int                `toml:"min_bias_samples"`
}

// FilterProfile holds the evaluation filter thresholds that differ between
// paper and live mode. Paper mode loosens filters for more opportunity
// volume.
type FilterProfile struct {
	MinEdgeCents         float64 `toml:"min_edge_cents"`
	MinYesPriceCents     int64   `toml:"min_yes_price_cents"`
	MinNoPriceCents      int64   `toml:"min_no_price_cents"`
	MinConfidence        float64 `toml:"min_confidence"`
	MaxDisagreementCents int64   `toml:"max_disagreement_cents"`
	MaxFairMarketRatio   float64 `toml:"max_fair_market_ratio"`
}

// EdgeConfig holds edge calculation parameters. The shared fields apply in
// both modes; Paper and Live carry the mode-specific filter thresholds.
type EdgeConfig struct {
	ModelWeight        float64       `toml:"model_weight"`
	MinVolume          int64         `toml:"min_volume"`
	MaxSpreadCents     int64         `toml:"max_spread_cents"`
	StrikeProximityF   float64       `toml:"strike_proximity_f"`
	MaxProviderSpreadF float64       `toml:"max_provider_spread_f"`
	MaxEdgeCents       float64       `toml:"max_edge_cents"`
	Paper              FilterProfile `toml:"paper"`
	Live               FilterProfile `toml:"live"`
}

// Profile returns the filter profile for the given trading mode.
func (e EdgeConfig) Profile(mode string) FilterProfile {
	if strings.ToLower(mode) == "live" {
		return e.Live
	}
	return e.Paper
}

// SizingConfig holds position sizing parameters.
type SizingConfig struct {
	KellyFraction float64 `toml:"kelly_fraction"`
	MaxContracts  int64   `toml:"max_contracts"`
	MaxCostCents  int64   `toml:"max_cost_cents"`
	// PaperBankrollCents is the simulated starting balance in paper mode.
	PaperBankrollCents int64 `toml:"paper_bankroll_cents"`
}

// RiskConfig holds risk management limits.
type RiskConfig struct {
	MaxPerCityDate       int                 `toml:"max_per_city_date"`
	MaxPerGroup          int                 `toml:"max_per_group"`
	MaxDailyTrades       int                 `toml:"max_daily_trades"`
	MaxWeeklyTrades      int                 `toml:"max_weekly_trades"`
	MaxDailyLossCents    int64               `toml:"max_daily_loss_cents"`
	MaxWeeklyLossCents   int64               `toml:"max_weekly_loss_cents"`
	CapitalBufferCents   int64               `toml:"capital_buffer_cents"`
	CorrelationGroups    map[string][]string `toml:"correlation_groups"`
	BreakerAlertInterval duration            `toml:"breaker_alert_interval"`
}

// ScannerConfig holds scan loop parameters.
type ScannerConfig struct {
	EventsPerSeries     int      `toml:"events_per_series"`
	FetchTimeout        duration `toml:"fetch_timeout"`
	LocationConcurrency int      `toml:"location_concurrency"`
	LockTTL             duration `toml:"lock_ttl"`
	// SettlementInterval is how often the settlement pass runs.
	SettlementInterval duration `toml:"settlement_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// CityConfig describes one traded city: its Kalshi series and the
// coordinates and NOAA grid identifiers the weather providers need.
type CityConfig struct {
	Name     string  `toml:"name"`
	Series   string  `toml:"series"`
	Lat      float64 `toml:"lat"`
	Lon      float64 `toml:"lon"`
	NOAAOfc  string  `toml:"noaa_office"`
	GridX    int     `toml:"noaa_grid_x"`
	GridY    int     `toml:"noaa_grid_y"`
	Timezone string  `toml:"timezone"`
	Station  string  `toml:"station"`
}

// duration wraps time.Duration so TOML values like "15m" parse naturally.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var validModes = map[string]bool{
	"paper": true,
	"live":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// Defaults returns a Config populated with the standard eleven-city setup
// and paper-mode trading parameters.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
		},
		Database: DatabaseConfig{
			Backend:       "postgres",
			Host:          "localhost",
			Port:          5432,
			Database:      "weatherbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			QuoteTTL:   duration{15 * time.Minute},
		},
		S3: S3Config{
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "weatherbot-data",
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
		},
		Forecast: ForecastConfig{
			Weights: map[string]float64{
				"NOAA":            1.2,
				"OpenMeteo_GFS":   1.0,
				"OpenMeteo_ICON":  0.9,
				"OpenMeteo_ECMWF": 1.0,
				"OpenMeteo_GEM":   0.8,
			},
			DefaultStdDev:  1.1,
			StdDevs:        defaultStdDevs(),
			RefreshHours:   map[string]float64{"NOAA": 6},
			StalenessFloor: 0.5,
			MinProviders:   1,
			MinBiasSamples: 5,
		},
		Edge: EdgeConfig{
			ModelWeight:        0.3,
			MinVolume:          10,
			MaxSpreadCents:     30,
			StrikeProximityF:   0.2,
			MaxProviderSpreadF: 6,
			MaxEdgeCents:       60,
			Paper: FilterProfile{
				MinEdgeCents:         10,
				MinYesPriceCents:     5,
				MinNoPriceCents:      5,
				MinConfidence:        0.5,
				MaxDisagreementCents: 40,
				MaxFairMarketRatio:   3.5,
			},
			Live: FilterProfile{
				MinEdgeCents:         15,
				MinYesPriceCents:     15,
				MinNoPriceCents:      15,
				MinConfidence:        0.6,
				MaxDisagreementCents: 25,
				MaxFairMarketRatio:   3.0,
			},
		},
		Sizing: SizingConfig{
			KellyFraction:      0.25,
			MaxContracts:       8,
			MaxCostCents:       500,
			PaperBankrollCents: 10_000,
		},
		Risk: RiskConfig{
			MaxPerCityDate:     1,
			MaxPerGroup:        2,
			MaxDailyTrades:     40,
			MaxWeeklyTrades:    200,
			MaxDailyLossCents:  500,
			MaxWeeklyLossCents: 1000,
			CapitalBufferCents: 100,
			CorrelationGroups: map[string][]string{
				"gulf_south":    {"HOU", "NOLA", "DAL", "OKC"},
				"northeast":     {"BOS", "DC"},
				"pacific":       {"SEA", "SFO"},
				"southeast":     {"ATL"},
				"desert":        {"PHX"},
				"north_central": {"MIN"},
			},
			BreakerAlertInterval: duration{time.Hour},
		},
		Scanner: ScannerConfig{
			EventsPerSeries:     5,
			FetchTimeout:        duration{20 * time.Second},
			LocationConcurrency: 4,
			LockTTL:             duration{2 * time.Minute},
			SettlementInterval:  duration{30 * time.Minute},
		},
		Cities:   defaultCities(),
		Mode:     "paper",
		LogLevel: "info",
	}
}

func defaultCities() map[string]CityConfig {
	return map[string]CityConfig{
		"PHX":  {Name: "Phoenix", Series: "KXHIGHTPHX", Lat: 33.4484, Lon: -112.0740, NOAAOfc: "PSR", GridX: 162, GridY: 57, Timezone: "America/Phoenix", Station: "KPHX"},
		"SFO":  {Name: "San Francisco", Series: "KXHIGHTSFO", Lat: 37.7749, Lon: -122.4194, NOAAOfc: "MTR", GridX: 85, GridY: 105, Timezone: "America/Los_Angeles", Station: "KSFO"},
		"SEA":  {Name: "Seattle", Series: "KXHIGHTSEA", Lat: 47.6062, Lon: -122.3321, NOAAOfc: "SEW", GridX: 124, GridY: 67, Timezone: "America/Los_Angeles", Station: "KSEA"},
		"DC":   {Name: "Washington DC", Series: "KXHIGHTDC", Lat: 38.9072, Lon: -77.0369, NOAAOfc: "LWX", GridX: 96, GridY: 70, Timezone: "America/New_York", Station: "KDCA"},
		"HOU":  {Name: "Houston", Series: "KXHIGHTHOU", Lat: 29.7604, Lon: -95.3698, NOAAOfc: "HGX", GridX: 65, GridY: 97, Timezone: "America/Chicago", Station: "KIAH"},
		"NOLA": {Name: "New Orleans", Series: "KXHIGHTNOLA", Lat: 29.9511, Lon: -90.0715, NOAAOfc: "LIX", GridX: 76, GridY: 72, Timezone: "America/Chicago", Station: "KMSY"},
		"DAL":  {Name: "Dallas", Series: "KXHIGHTDAL", Lat: 32.7767, Lon: -96.7970, NOAAOfc: "FWD", GridX: 80, GridY: 108, Timezone: "America/Chicago", Station: "KDFW"},
		"BOS":  {Name: "Boston", Series: "KXHIGHTBOS", Lat: 42.3601, Lon: -71.0589, NOAAOfc: "BOX", GridX: 70, GridY: 76, Timezone: "America/New_York", Station: "KBOS"},
		"OKC":  {Name: "Oklahoma City", Series: "KXHIGHTOKC", Lat: 35.4676, Lon: -97.5164, NOAAOfc: "OUN", GridX: 41, GridY: 48, Timezone: "America/Chicago", Station: "KOKC"},
		"ATL":  {Name: "Atlanta", Series: "KXHIGHTATL", Lat: 33.7490, Lon: -84.3880, NOAAOfc: "FFC", GridX: 52, GridY: 88, Timezone: "America/New_York", Station: "KATL"},
		"MIN":  {Name: "Minneapolis", Series: "KXHIGHTMIN", Lat: 44.9778, Lon: -93.2650, NOAAOfc: "MPX", GridX: 107, GridY: 71, Timezone: "America/Chicago", Station: "KMSP"},
	}
}

func defaultStdDevs() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"PHX":  {"winter": 0.9, "spring": 1.1, "summer": 0.8, "fall": 0.9},
		"SFO":  {"winter": 1.3, "spring": 1.5, "summer": 1.1, "fall": 1.3},
		"SEA":  {"winter": 1.6, "spring": 1.5, "summer": 0.9, "fall": 1.5},
		"DC":   {"winter": 1.5, "spring": 1.3, "summer": 1.1, "fall": 1.3},
		"HOU":  {"winter": 1.3, "spring": 1.1, "summer": 0.9, "fall": 1.1},
		"NOLA": {"winter": 1.3, "spring": 1.1, "summer": 0.9, "fall": 1.1},
		"DAL":  {"winter": 1.5, "spring": 1.3, "summer": 0.9, "fall": 1.3},
		"BOS":  {"winter": 1.5, "spring": 1.3, "summer": 1.1, "fall": 1.3},
		"OKC":  {"winter": 1.6, "spring": 1.5, "summer": 1.1, "fall": 1.5},
		"ATL":  {"winter": 1.3, "spring": 1.1, "summer": 0.9, "fall": 1.1},
		"MIN":  {"winter": 2.0, "spring": 1.6, "summer": 1.1, "fall": 1.5},
	}
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Kalshi credentials are mandatory in live mode; paper mode still needs
	// the base URL for market data.
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if strings.ToLower(c.Mode) == "live" {
		if c.Kalshi.ApiKey == "" {
			errs = append(errs, "kalshi: api_key is required for live mode")
		}
		if c.Kalshi.RsaPrivateKeyPath == "" {
			errs = append(errs, "kalshi: rsa_private_key_path is required for live mode")
		}
	}

	if !validBackends[strings.ToLower(c.Database.Backend)] {
		errs = append(errs, fmt.Sprintf("database: unknown backend %q (valid: postgres, memory)", c.Database.Backend))
	}
	if strings.ToLower(c.Database.Backend) == "memory" && strings.ToLower(c.Mode) == "live" {
		errs = append(errs, "database: memory backend cannot be used in live mode")
	}
	if strings.ToLower(c.Database.Backend) == "postgres" {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
		if c.S3.ArchiveRetentionDays < 1 {
			errs = append(errs, "s3: archive_retention_days must be >= 1 when enabled")
		}
	}

	if c.Forecast.DefaultStdDev <= 0 {
		errs = append(errs, "forecast: default_std_dev must be > 0")
	}
	if c.Forecast.MinProviders < 1 {
		errs = append(errs, "forecast: min_providers must be >= 1")
	}

	if c.Edge.ModelWeight <= 0 || c.Edge.ModelWeight >= 1 {
		errs = append(errs, fmt.Sprintf("edge: model_weight must be in (0,1), got %g", c.Edge.ModelWeight))
	}
	for name, p := range map[string]FilterProfile{"paper": c.Edge.Paper, "live": c.Edge.Live} {
		if p.MinEdgeCents <= 0 {
			errs = append(errs, fmt.Sprintf("edge.%s: min_edge_cents must be > 0", name))
		}
		if p.MaxFairMarketRatio <= 1 {
			errs = append(errs, fmt.Sprintf("edge.%s: max_fair_market_ratio must be > 1", name))
		}
	}
	if c.Edge.MaxEdgeCents <= 0 {
		errs = append(errs, "edge: max_edge_cents must be > 0")
	}

	if c.Sizing.KellyFraction <= 0 || c.Sizing.KellyFraction > 1 {
		errs = append(errs, fmt.Sprintf("sizing: kelly_fraction must be in (0,1], got %g", c.Sizing.KellyFraction))
	}
	if c.Sizing.MaxContracts < 1 {
		errs = append(errs, "sizing: max_contracts must be >= 1")
	}
	if c.Sizing.MaxCostCents < 1 {
		errs = append(errs, "sizing: max_cost_cents must be >= 1")
	}
	if strings.ToLower(c.Mode) == "paper" && c.Sizing.PaperBankrollCents < 1 {
		errs = append(errs, "sizing: paper_bankroll_cents must be >= 1 in paper mode")
	}

	if c.Risk.MaxPerCityDate < 1 {
		errs = append(errs, "risk: max_per_city_date must be >= 1")
	}
	if c.Risk.MaxPerGroup < 1 {
		errs = append(errs, "risk: max_per_group must be >= 1")
	}
	if c.Risk.MaxDailyLossCents < 1 {
		errs = append(errs, "risk: max_daily_loss_cents must be >= 1")
	}
	if c.Risk.MaxWeeklyLossCents < c.Risk.MaxDailyLossCents {
		errs = append(errs, "risk: max_weekly_loss_cents must be >= max_daily_loss_cents")
	}
	grouped := map[string]bool{}
	for group, members := range c.Risk.CorrelationGroups {
		for _, city := range members {
			if grouped[city] {
				errs = append(errs, fmt.Sprintf("risk: city %s appears in more than one correlation group (%s)", city, group))
			}
			grouped[city] = true
		}
	}

	if c.Scanner.EventsPerSeries < 1 {
		errs = append(errs, "scanner: events_per_series must be >= 1")
	}
	if c.Scanner.FetchTimeout.Duration <= 0 {
		errs = append(errs, "scanner: fetch_timeout must be > 0")
	}
	if c.Scanner.LockTTL.Duration <= 0 {
		errs = append(errs, "scanner: lock_ttl must be > 0")
	}

	if len(c.Cities) == 0 {
		errs = append(errs, "cities: at least one city must be configured")
	}
	for code, city := range c.Cities {
		if city.Series == "" {
			errs = append(errs, fmt.Sprintf("cities.%s: series must not be empty", code))
		}
		if city.NOAAOfc == "" || city.GridX == 0 || city.GridY == 0 {
			errs = append(errs, fmt.Sprintf("cities.%s: noaa_office, noaa_grid_x and noaa_grid_y are required", code))
		}
		if city.Station == "" {
			errs = append(errs, fmt.Sprintf("cities.%s: station is required for settlement observations", code))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Paper reports whether the bot runs in paper (simulated execution) mode.
func (c *Config) Paper() bool {
	return strings.ToLower(c.Mode) != "live"
}
