package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTempConfig creates a configuration file with the given content and
// returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "RATE_POLICY", "BUCKET_CAPACITY",
		"REFILL_RATE", "DRAIN_INTERVAL", "PORT", "LOG_FORMAT", "CLOUDWATCH_ENABLED", "APP_ENV",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `relay:
  name: "TestRelay"
  min_notional_usd: 10000
delivery:
  rate_policy: fixed_interval
  drain_interval: 2s
  telegram:
    token: " abc "
    chat_id: "42"
stats:
  groups:
    - interval: 1m
      horizons: [5m]
source:
  bybit:
    enabled: true
    symbols: [BTCUSDT]
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Relay.Name != "TestRelay" {
		t.Errorf("unexpected name: %s", cfg.Relay.Name)
	}
	if cfg.Relay.MinNotionalUSD != 10000 {
		t.Errorf("unexpected min notional: %v", cfg.Relay.MinNotionalUSD)
	}
	if cfg.Delivery.RatePolicy != RatePolicyFixedInterval {
		t.Errorf("unexpected rate policy: %s", cfg.Delivery.RatePolicy)
	}
	if cfg.Delivery.DrainInterval != 2*time.Second {
		t.Errorf("unexpected drain interval: %v", cfg.Delivery.DrainInterval)
	}
	if !cfg.Delivery.Enabled || cfg.Delivery.Telegram.Token != "abc" {
		t.Errorf("expected delivery enabled with trimmed token, got %+v", cfg.Delivery.Telegram)
	}
	if len(cfg.Stats.Groups) != 1 || cfg.Stats.Groups[0].Horizons[0] != 5*time.Minute {
		t.Errorf("unexpected stats groups: %+v", cfg.Stats.Groups)
	}
	if !cfg.Source.Bybit.Enabled || cfg.Source.Bybit.URL == "" {
		t.Errorf("expected bybit enabled with default url, got %+v", cfg.Source.Bybit)
	}
	if cfg.Source.Huobi.ContractsURL == "" {
		t.Errorf("expected huobi defaults to survive partial file")
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Delivery.Enabled {
		t.Fatalf("expected delivery disabled without credentials")
	}
	if cfg.Delivery.RatePolicy != RatePolicyTokenBucket {
		t.Fatalf("unexpected default rate policy: %s", cfg.Delivery.RatePolicy)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100")
	t.Setenv("RATE_POLICY", "TOKEN_BUCKET")
	t.Setenv("BUCKET_CAPACITY", "5")
	t.Setenv("REFILL_RATE", "0.5")
	t.Setenv("PORT", "9090")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !cfg.Delivery.Enabled {
		t.Errorf("expected delivery enabled")
	}
	if cfg.Delivery.Bucket.Capacity != 5 || cfg.Delivery.Bucket.RefillRate != 0.5 {
		t.Errorf("unexpected bucket: %+v", cfg.Delivery.Bucket)
	}
	if cfg.Server.Address != "0.0.0.0:9090" {
		t.Errorf("unexpected address: %s", cfg.Server.Address)
	}
}

func TestLoadConfigInvalidEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("BUCKET_CAPACITY", "many")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for non-numeric capacity")
	}
}

func TestValidateConfig(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown policy", func(c *Config) { c.Delivery.RatePolicy = "leaky" }},
		{"zero capacity", func(c *Config) { c.Delivery.Bucket.Capacity = 0 }},
		{"tiny ceiling", func(c *Config) { c.Delivery.Batch.MaxChars = 10 }},
		{"no groups", func(c *Config) { c.Stats.Groups = nil }},
		{"exponent too large", func(c *Config) { c.Source.Reconnect.MaxExponent = 30 }},
		{"all sources disabled", func(c *Config) {
			c.Source.Okx.Enabled = false
			c.Source.Binance.Enabled = false
			c.Source.Huobi.Enabled = false
			c.Source.Bybit.Enabled = false
		}},
		{"bybit without symbols", func(c *Config) {
			c.Source.Bybit.Enabled = true
			c.Source.Bybit.Symbols = nil
		}},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := validateConfig(cfg); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	if err := validateConfig(Default()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestRequiredDeliveryInProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "prod")
	path := writeTempConfig(t, "delivery:\n  required: true\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("missing credentials must not fail the whole config: %v", err)
	}
	if cfg.Delivery.Enabled || cfg.Delivery.Err == nil {
		t.Fatalf("expected delivery disabled with an error, got enabled=%v err=%v", cfg.Delivery.Enabled, cfg.Delivery.Err)
	}

	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	cfg, err = LoadConfig(path)
	if err != nil || cfg.Delivery.Err != nil || !cfg.Delivery.Enabled {
		t.Fatalf("credentials should satisfy required delivery: %v %v", err, cfg.Delivery.Err)
	}

	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("APP_ENV", "development")
	cfg, err = LoadConfig(path)
	if err != nil || cfg.Delivery.Err != nil {
		t.Fatalf("development should tolerate missing credentials: %v %v", err, cfg.Delivery.Err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("APP_ENV", "stagging")
	if got := ResolveConfigPath(""); got != "config/config.staging.yml" {
		t.Fatalf("unexpected path: %s", got)
	}
	if got := ResolveConfigPath("custom.yml"); got != "custom.yml" {
		t.Fatalf("explicit path should win, got %s", got)
	}
}
