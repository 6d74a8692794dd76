package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	RatePolicyTokenBucket   = "token_bucket"
	RatePolicyFixedInterval = "fixed_interval"
)

type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	Server   ServerConfig   `yaml:"server"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Stats    StatsConfig    `yaml:"stats"`
	Source   SourceConfig   `yaml:"source"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type RelayConfig struct {
	Name           string  `yaml:"name"`
	Version        string  `yaml:"version"`
	EventBuffer    int     `yaml:"event_buffer"`
	MinNotionalUSD float64 `yaml:"min_notional_usd"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

type DeliveryConfig struct {
	// Enabled is derived from the presence of credentials.
	Enabled bool `yaml:"-"`
	// Err is set when delivery is required here but credentials are
	// missing. Only delivery-dependent components refuse to start.
	Err           error          `yaml:"-"`
	Required      bool           `yaml:"required"`
	Telegram      TelegramConfig `yaml:"telegram"`
	RatePolicy    string         `yaml:"rate_policy"`
	DrainInterval time.Duration  `yaml:"drain_interval"`
	Bucket        BucketConfig   `yaml:"bucket"`
	Batch         BatchConfig    `yaml:"batch"`
	Retry         RetryConfig    `yaml:"retry"`
}

type TelegramConfig struct {
	Token   string        `yaml:"token"`
	ChatID  string        `yaml:"chat_id"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type BucketConfig struct {
	Capacity   int     `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"`
}

type BatchConfig struct {
	MaxMessages int `yaml:"max_messages"`
	MaxChars    int `yaml:"max_chars"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type StatsConfig struct {
	Groups []StatsGroupConfig `yaml:"groups"`
}

// StatsGroupConfig reports every horizon in the group on one shared timer.
type StatsGroupConfig struct {
	Interval time.Duration   `yaml:"interval"`
	Horizons []time.Duration `yaml:"horizons"`
}

type SourceConfig struct {
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Okx       VenueConfig     `yaml:"okx"`
	Binance   VenueConfig     `yaml:"binance"`
	Bybit     VenueConfig     `yaml:"bybit"`
	Huobi     HuobiConfig     `yaml:"huobi"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxExponent int           `yaml:"max_exponent"`
}

type VenueConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	PingInterval time.Duration `yaml:"ping_interval"`
	Symbols      []string      `yaml:"symbols"`
}

type HuobiConfig struct {
	VenueConfig     `yaml:",inline"`
	ContractsURL    string        `yaml:"contracts_url"`
	QuoteSuffix     string        `yaml:"quote_suffix"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Name:        "liqrelay",
			Version:     "1.0.0",
			EventBuffer: 1024,
		},
		Server: ServerConfig{Address: "0.0.0.0:8080"},
		Delivery: DeliveryConfig{
			Telegram: TelegramConfig{
				BaseURL: "https://api.telegram.org",
				Timeout: 10 * time.Second,
			},
			RatePolicy:    RatePolicyTokenBucket,
			DrainInterval: time.Second,
			Bucket:        BucketConfig{Capacity: 20, RefillRate: 0.33},
			Batch:         BatchConfig{MaxMessages: 20, MaxChars: 4000},
			Retry: RetryConfig{
				MaxAttempts: 5,
				BaseDelay:   time.Second,
				MaxDelay:    time.Minute,
			},
		},
		Stats: StatsConfig{
			Groups: []StatsGroupConfig{
				{Interval: 5 * time.Minute, Horizons: []time.Duration{5 * time.Minute}},
				{Interval: 15 * time.Minute, Horizons: []time.Duration{15 * time.Minute, 30 * time.Minute, 60 * time.Minute}},
			},
		},
		Source: SourceConfig{
			Reconnect: ReconnectConfig{BaseDelay: time.Second, MaxExponent: 5},
			Okx: VenueConfig{
				Enabled:      true,
				URL:          "wss://ws.okx.com:8443/ws/v5/public",
				PingInterval: 25 * time.Second,
			},
			Binance: VenueConfig{
				Enabled:      true,
				URL:          "wss://fstream.binance.com/ws",
				PingInterval: 30 * time.Second,
			},
			Bybit: VenueConfig{
				Enabled:      false,
				URL:          "wss://stream.bybit.com/v5/public/linear",
				PingInterval: 20 * time.Second,
				Symbols:      []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			},
			Huobi: HuobiConfig{
				VenueConfig: VenueConfig{
					Enabled: true,
					URL:     "wss://api.hbdm.com/linear-swap-notification",
				},
				ContractsURL:    "https://api.hbdm.com/linear-swap-api/v1/swap_contract_info",
				QuoteSuffix:     "-USDT",
				RefreshInterval: time.Hour,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{
			CloudWatch: CloudWatchConfig{Namespace: "LiqRelay"},
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file and
// the environment, in that order.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// environment-only deployment
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	config.Delivery.Telegram.Token = strings.TrimSpace(config.Delivery.Telegram.Token)
	config.Delivery.Telegram.ChatID = strings.TrimSpace(config.Delivery.Telegram.ChatID)
	config.Delivery.Enabled = config.Delivery.Telegram.Token != "" && config.Delivery.Telegram.ChatID != ""
	config.Delivery.Err = requiredDeliveryError(config.Delivery)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Delivery.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Delivery.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("RATE_POLICY")); v != "" {
		cfg.Delivery.RatePolicy = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("BUCKET_CAPACITY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BUCKET_CAPACITY: %w", err)
		}
		cfg.Delivery.Bucket.Capacity = n
	}
	if v := strings.TrimSpace(os.Getenv("REFILL_RATE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("REFILL_RATE: %w", err)
		}
		cfg.Delivery.Bucket.RefillRate = f
	}
	if v := strings.TrimSpace(os.Getenv("DRAIN_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DRAIN_INTERVAL: %w", err)
		}
		cfg.Delivery.DrainInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Address = "0.0.0.0:" + v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		cfg.Logging.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("CLOUDWATCH_ENABLED")); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CLOUDWATCH_ENABLED: %w", err)
		}
		cfg.Metrics.CloudWatch.Enabled = enabled
	}
	if cfg.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}
	return nil
}

func requiredDeliveryError(d DeliveryConfig) error {
	if d.Required && !d.Enabled && IsProductionLike(AppEnvironment()) {
		return fmt.Errorf("delivery.telegram.token and delivery.telegram.chat_id are required in %s", AppEnvironment())
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Relay.Name == "" {
		return fmt.Errorf("relay.name is required")
	}
	if cfg.Relay.EventBuffer <= 0 {
		return fmt.Errorf("relay.event_buffer must be greater than 0")
	}
	if cfg.Relay.MinNotionalUSD < 0 {
		return fmt.Errorf("relay.min_notional_usd must not be negative")
	}

	d := cfg.Delivery
	switch d.RatePolicy {
	case RatePolicyTokenBucket:
		if d.Bucket.Capacity <= 0 {
			return fmt.Errorf("delivery.bucket.capacity must be greater than 0")
		}
		if d.Bucket.RefillRate <= 0 {
			return fmt.Errorf("delivery.bucket.refill_rate must be greater than 0")
		}
	case RatePolicyFixedInterval:
	default:
		return fmt.Errorf("delivery.rate_policy '%s' is invalid", d.RatePolicy)
	}
	if d.DrainInterval <= 0 {
		return fmt.Errorf("delivery.drain_interval must be greater than 0")
	}
	if d.Batch.MaxMessages <= 0 {
		return fmt.Errorf("delivery.batch.max_messages must be greater than 0")
	}
	if d.Batch.MaxChars < 64 {
		return fmt.Errorf("delivery.batch.max_chars must be at least 64")
	}
	if d.Retry.MaxAttempts < 0 {
		return fmt.Errorf("delivery.retry.max_attempts must not be negative")
	}
	if d.Retry.BaseDelay <= 0 || d.Retry.MaxDelay < d.Retry.BaseDelay {
		return fmt.Errorf("delivery.retry delays must satisfy 0 < base_delay <= max_delay")
	}

	if len(cfg.Stats.Groups) == 0 {
		return fmt.Errorf("stats.groups must not be empty")
	}
	for i, g := range cfg.Stats.Groups {
		if g.Interval <= 0 {
			return fmt.Errorf("stats.groups[%d].interval must be greater than 0", i)
		}
		if len(g.Horizons) == 0 {
			return fmt.Errorf("stats.groups[%d].horizons must not be empty", i)
		}
		for _, h := range g.Horizons {
			if h <= 0 {
				return fmt.Errorf("stats.groups[%d] has a non-positive horizon", i)
			}
		}
	}

	if cfg.Source.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("source.reconnect.base_delay must be greater than 0")
	}
	if cfg.Source.Reconnect.MaxExponent < 0 || cfg.Source.Reconnect.MaxExponent > 10 {
		return fmt.Errorf("source.reconnect.max_exponent must be between 0 and 10")
	}
	venues := map[string]VenueConfig{
		"okx":     cfg.Source.Okx,
		"binance": cfg.Source.Binance,
		"bybit":   cfg.Source.Bybit,
		"huobi":   cfg.Source.Huobi.VenueConfig,
	}
	enabled := 0
	for name, v := range venues {
		if !v.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(v.URL) == "" {
			return fmt.Errorf("source.%s.url is required when enabled", name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one source must be enabled")
	}
	if cfg.Source.Bybit.Enabled && len(cfg.Source.Bybit.Symbols) == 0 {
		return fmt.Errorf("source.bybit.symbols is required when bybit is enabled")
	}
	if cfg.Source.Huobi.Enabled {
		if cfg.Source.Huobi.ContractsURL == "" && len(cfg.Source.Huobi.Symbols) == 0 {
			return fmt.Errorf("source.huobi needs contracts_url or symbols")
		}
		if cfg.Source.Huobi.RefreshInterval <= 0 {
			return fmt.Errorf("source.huobi.refresh_interval must be greater than 0")
		}
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
	}

	return nil
}
