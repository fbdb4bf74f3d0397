package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if !cfg.Paper() {
		t.Error("defaults should run in paper mode")
	}
	if len(cfg.Cities) != 11 {
		t.Errorf("default city count = %d, want 11", len(cfg.Cities))
	}
	for code, city := range cfg.Cities {
		if city.Series == "" || city.Station == "" {
			t.Errorf("city %s missing series or station", code)
		}
	}
}

func TestProfileSelection(t *testing.T) {
	cfg := Defaults()
	if got := cfg.Edge.Profile("paper"); got != cfg.Edge.Paper {
		t.Errorf("paper profile = %+v", got)
	}
	if got := cfg.Edge.Profile("live"); got != cfg.Edge.Live {
		t.Errorf("live profile = %+v", got)
	}
	if got := cfg.Edge.Profile("LIVE"); got != cfg.Edge.Live {
		t.Error("mode matching should be case-insensitive")
	}
	// Live thresholds are strictly tighter than paper.
	if cfg.Edge.Live.MinEdgeCents <= cfg.Edge.Paper.MinEdgeCents {
		t.Error("live min edge should exceed paper min edge")
	}
	if cfg.Edge.Live.MinConfidence <= cfg.Edge.Paper.MinConfidence {
		t.Error("live min confidence should exceed paper min confidence")
	}
}

func TestValidateLiveRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("live mode without credentials should fail validation")
	}
	for _, want := range []string{"api_key", "rsa_private_key_path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidateLiveForbidsMemoryBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Kalshi.ApiKey = "key-id"
	cfg.Kalshi.RsaPrivateKeyPath = "/etc/kalshi/key.pem"
	cfg.Database.Backend = "memory"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "memory backend") {
		t.Fatalf("expected a memory-backend error, got: %v", err)
	}
}

func TestValidateRejectsDuplicateGroupCity(t *testing.T) {
	cfg := Defaults()
	cfg.Risk.CorrelationGroups["extra"] = []string{"PHX"}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "more than one correlation group") {
		t.Fatalf("expected a duplicate-group error, got: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Edge.ModelWeight = 1.5
	cfg.Sizing.KellyFraction = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"unknown mode", "model_weight", "kelly_fraction"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "live"
log_level = "debug"

[sizing]
max_contracts = 3

[scanner]
fetch_timeout = "45s"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "live" {
		t.Errorf("mode = %q, want live", cfg.Mode)
	}
	if cfg.Sizing.MaxContracts != 3 {
		t.Errorf("max contracts = %d, want 3", cfg.Sizing.MaxContracts)
	}
	if cfg.Scanner.FetchTimeout.Duration != 45*time.Second {
		t.Errorf("fetch timeout = %v, want 45s", cfg.Scanner.FetchTimeout.Duration)
	}
	// Untouched sections keep their defaults.
	if len(cfg.Cities) != 11 {
		t.Errorf("city count = %d, want the default 11", len(cfg.Cities))
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("WEATHERBOT_MODE", "live")
	t.Setenv("WEATHERBOT_KALSHI_API_KEY", "env-key")
	t.Setenv("WEATHERBOT_RISK_MAX_DAILY_TRADES", "7")
	t.Setenv("WEATHERBOT_REDIS_QUOTE_TTL", "90s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "live" {
		t.Errorf("mode = %q, want live from env", cfg.Mode)
	}
	if cfg.Kalshi.ApiKey != "env-key" {
		t.Errorf("api key = %q, want env-key", cfg.Kalshi.ApiKey)
	}
	if cfg.Risk.MaxDailyTrades != 7 {
		t.Errorf("max daily trades = %d, want 7", cfg.Risk.MaxDailyTrades)
	}
	if cfg.Redis.QuoteTTL.Duration != 90*time.Second {
		t.Errorf("quote ttl = %v, want 90s", cfg.Redis.QuoteTTL.Duration)
	}
}

func TestCompatibilityAliases(t *testing.T) {
	t.Setenv("KALSHI_API_KEY_ID", "alias-key")
	t.Setenv("KALSHI_PRIVATE_KEY_PATH", "/run/secrets/kalshi.pem")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Kalshi.ApiKey != "alias-key" {
		t.Errorf("api key = %q, want alias-key", cfg.Kalshi.ApiKey)
	}
	if cfg.Kalshi.RsaPrivateKeyPath != "/run/secrets/kalshi.pem" {
		t.Errorf("key path = %q, want the alias value", cfg.Kalshi.RsaPrivateKeyPath)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("15m")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration != 15*time.Minute {
		t.Errorf("duration = %v, want 15m", d.Duration)
	}
	out, err := d.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "15m0s" {
		t.Errorf("text = %q, want 15m0s", out)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("expected an error for a malformed duration")
	}
}
