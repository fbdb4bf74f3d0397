package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WEATHERBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment overrides only. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WEATHERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Kalshi ──
	setStr(&cfg.Kalshi.ApiKey, "WEATHERBOT_KALSHI_API_KEY")
	setStr(&cfg.Kalshi.ApiKey, "KALSHI_API_KEY_ID") // compatibility alias
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "WEATHERBOT_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "KALSHI_PRIVATE_KEY_PATH") // compatibility alias
	setStr(&cfg.Kalshi.BaseURL, "WEATHERBOT_KALSHI_BASE_URL")

	// ── Database ──
	setStr(&cfg.Database.Backend, "WEATHERBOT_DATABASE_BACKEND")
	setStr(&cfg.Database.DSN, "WEATHERBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "WEATHERBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "WEATHERBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "WEATHERBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "WEATHERBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "WEATHERBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "WEATHERBOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "WEATHERBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "WEATHERBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "WEATHERBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WEATHERBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WEATHERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WEATHERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WEATHERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WEATHERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WEATHERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WEATHERBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.QuoteTTL, "WEATHERBOT_REDIS_QUOTE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WEATHERBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WEATHERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WEATHERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "WEATHERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WEATHERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WEATHERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WEATHERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WEATHERBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "WEATHERBOT_S3_ARCHIVE_RETENTION_DAYS")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.KellyFraction, "WEATHERBOT_SIZING_KELLY_FRACTION")
	setInt64(&cfg.Sizing.MaxContracts, "WEATHERBOT_SIZING_MAX_CONTRACTS")
	setInt64(&cfg.Sizing.MaxCostCents, "WEATHERBOT_SIZING_MAX_COST_CENTS")
	setInt64(&cfg.Sizing.PaperBankrollCents, "WEATHERBOT_SIZING_PAPER_BANKROLL_CENTS")

	// ── Risk ──
	setInt(&cfg.Risk.MaxDailyTrades, "WEATHERBOT_RISK_MAX_DAILY_TRADES")
	setInt(&cfg.Risk.MaxWeeklyTrades, "WEATHERBOT_RISK_MAX_WEEKLY_TRADES")
	setInt64(&cfg.Risk.MaxDailyLossCents, "WEATHERBOT_RISK_MAX_DAILY_LOSS_CENTS")
	setInt64(&cfg.Risk.MaxWeeklyLossCents, "WEATHERBOT_RISK_MAX_WEEKLY_LOSS_CENTS")
	setInt64(&cfg.Risk.CapitalBufferCents, "WEATHERBOT_RISK_CAPITAL_BUFFER_CENTS")

	// ── Scanner ──
	setInt(&cfg.Scanner.EventsPerSeries, "WEATHERBOT_SCANNER_EVENTS_PER_SERIES")
	setDuration(&cfg.Scanner.FetchTimeout, "WEATHERBOT_SCANNER_FETCH_TIMEOUT")
	setInt(&cfg.Scanner.LocationConcurrency, "WEATHERBOT_SCANNER_LOCATION_CONCURRENCY")
	setDuration(&cfg.Scanner.LockTTL, "WEATHERBOT_SCANNER_LOCK_TTL")
	setDuration(&cfg.Scanner.SettlementInterval, "WEATHERBOT_SCANNER_SETTLEMENT_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WEATHERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN") // compatibility alias
	setStr(&cfg.Notify.TelegramChatID, "WEATHERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID") // compatibility alias
	setStr(&cfg.Notify.DiscordWebhookURL, "WEATHERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WEATHERBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WEATHERBOT_MODE")
	setStr(&cfg.LogLevel, "WEATHERBOT_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
