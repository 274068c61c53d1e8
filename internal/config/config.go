// Package config defines the top-level configuration for the gap trader
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GAPTRADER_* environment variables.
type Config struct {
	Broker    BrokerConfig    `toml:"broker"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Tracker   TrackerConfig   `toml:"tracker"`
	Oracle    OracleConfig    `toml:"oracle"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// BrokerConfig holds brokerage credentials and order-flow limits.
type BrokerConfig struct {
	PaperTrading bool   `toml:"paper_trading"`
	APIKey       string `toml:"api_key"`
	APISecret    string `toml:"api_secret"`
	BaseURL      string `toml:"base_url"`
	// SecretFile holds an encrypted api_secret produced by `gaptrader seal`.
	SecretFile     string   `toml:"secret_file"`
	SecretPassword string   `toml:"secret_password"`
	RatePerMinute  int      `toml:"rate_per_minute"`
	MinGap         duration `toml:"min_gap"`
	DailyCap       int      `toml:"daily_cap"`
	RequestTimeout duration `toml:"request_timeout"`
	BracketExpiry  duration `toml:"bracket_expiry"`
}

// RiskConfig holds position sizing and circuit breaker limits.
type RiskConfig struct {
	RiskPerTrade       float64  `toml:"risk_per_trade"`
	MaxPositionSize    float64  `toml:"max_position_size"`
	MinPositionSize    float64  `toml:"min_position_size"`
	MaxDailyLoss       float64  `toml:"max_daily_loss"`
	MaxOpenPositions   int      `toml:"max_open_positions"`
	MaxDrawdownPct     float64  `toml:"max_drawdown_pct"`
	PortfolioHeatLimit float64  `toml:"portfolio_heat_limit"`
	PaperCapital       float64  `toml:"paper_capital"`
	ReevaluateInterval duration `toml:"reevaluate_interval"`
}

// ExecutionConfig holds execution coordinator timings.
type ExecutionConfig struct {
	EntryFillTimeout duration `toml:"entry_fill_timeout"`
	FillPollInterval duration `toml:"fill_poll_interval"`
	MonitorInterval  duration `toml:"monitor_interval"`
	MaxHolding       duration `toml:"max_holding"`
	DedupWindow      duration `toml:"dedup_window"`
	SignalBuffer     int      `toml:"signal_buffer"`
}

// TrackerConfig holds position tracker timings.
type TrackerConfig struct {
	PollInterval duration `toml:"poll_interval"`
}

// OracleConfig holds market data source settings.
type OracleConfig struct {
	// Sources is the ordered failover list. Known: "alpaca", "yahoo".
	Sources        []string `toml:"sources"`
	DataURL        string   `toml:"data_url"`
	ChartURL       string   `toml:"chart_url"`
	CacheTTL       duration `toml:"cache_ttl"`
	BarsCacheTTL   duration `toml:"bars_cache_ttl"`
	RequestTimeout duration `toml:"request_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration wraps time.Duration for TOML string decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			PaperTrading:   true,
			BaseURL:        "https://paper-api.alpaca.markets",
			RatePerMinute:  200,
			MinGap:         duration{330 * time.Millisecond},
			DailyCap:       3000,
			RequestTimeout: duration{10 * time.Second},
			BracketExpiry:  duration{365 * 24 * time.Hour},
		},
		Risk: RiskConfig{
			RiskPerTrade:       0.02,
			MaxPositionSize:    10000,
			MinPositionSize:    1000,
			MaxDailyLoss:       5000,
			MaxOpenPositions:   5,
			MaxDrawdownPct:     0.10,
			PortfolioHeatLimit: 0.15,
			PaperCapital:       100000,
			ReevaluateInterval: duration{30 * time.Second},
		},
		Execution: ExecutionConfig{
			EntryFillTimeout: duration{30 * time.Second},
			FillPollInterval: duration{time.Second},
			MonitorInterval:  duration{10 * time.Second},
			MaxHolding:       duration{2 * time.Hour},
			DedupWindow:      duration{5 * time.Minute},
			SignalBuffer:     64,
		},
		Tracker: TrackerConfig{
			PollInterval: duration{5 * time.Second},
		},
		Oracle: OracleConfig{
			Sources:        []string{"alpaca", "yahoo"},
			DataURL:        "https://data.alpaca.markets",
			ChartURL:       "https://query1.finance.yahoo.com",
			CacheTTL:       duration{5 * time.Second},
			BarsCacheTTL:   duration{5 * time.Minute},
			RequestTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "gaptrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gaptrader",
			Prefix:         "trades",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{
				"risk_alert", "execution_aborted", "trade_entry", "protection_failure",
				"trade_exit", "exit_failure", "circuit_breaker", "emergency_stop",
			},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSources enumerates the known market data backends.
var validSources = map[string]bool{
	"alpaca": true,
	"yahoo":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Broker
	if !c.Broker.PaperTrading {
		if c.Broker.APIKey == "" {
			errs = append(errs, "broker: api_key is required when paper_trading is false")
		}
		if c.Broker.APISecret == "" && c.Broker.SecretFile == "" {
			errs = append(errs, "broker: either api_secret or secret_file must be set when paper_trading is false")
		}
		if c.Broker.BaseURL == "" {
			errs = append(errs, "broker: base_url must not be empty")
		}
	}
	if c.Broker.SecretFile != "" && c.Broker.SecretPassword == "" {
		errs = append(errs, "broker: secret_password is required when secret_file is set")
	}
	if c.Broker.RatePerMinute < 1 {
		errs = append(errs, "broker: rate_per_minute must be >= 1")
	}
	if c.Broker.DailyCap < 1 {
		errs = append(errs, "broker: daily_cap must be >= 1")
	}
	if c.Broker.MinGap.Duration < 0 {
		errs = append(errs, "broker: min_gap must not be negative")
	}

	// Risk
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 0.1 {
		errs = append(errs, fmt.Sprintf("risk: risk_per_trade must be in (0, 0.1], got %v", c.Risk.RiskPerTrade))
	}
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk: max_position_size must be > 0")
	}
	if c.Risk.MinPositionSize < 0 {
		errs = append(errs, "risk: min_position_size must not be negative")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.MaxOpenPositions < 1 || c.Risk.MaxOpenPositions > 20 {
		errs = append(errs, fmt.Sprintf("risk: max_open_positions must be 1-20, got %d", c.Risk.MaxOpenPositions))
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 0.5 {
		errs = append(errs, fmt.Sprintf("risk: max_drawdown_pct must be in (0, 0.5], got %v", c.Risk.MaxDrawdownPct))
	}
	if c.Risk.PortfolioHeatLimit <= 0 || c.Risk.PortfolioHeatLimit > 0.2 {
		errs = append(errs, fmt.Sprintf("risk: portfolio_heat_limit must be in (0, 0.2], got %v", c.Risk.PortfolioHeatLimit))
	}
	if c.Broker.PaperTrading && c.Risk.PaperCapital <= 0 {
		errs = append(errs, "risk: paper_capital must be > 0 in paper trading")
	}

	// Execution
	if c.Execution.EntryFillTimeout.Duration <= 0 {
		errs = append(errs, "execution: entry_fill_timeout must be > 0")
	}
	if c.Execution.FillPollInterval.Duration <= 0 {
		errs = append(errs, "execution: fill_poll_interval must be > 0")
	}
	if c.Execution.MonitorInterval.Duration <= 0 {
		errs = append(errs, "execution: monitor_interval must be > 0")
	}
	if c.Execution.MaxHolding.Duration <= 0 {
		errs = append(errs, "execution: max_holding must be > 0")
	}
	if c.Tracker.PollInterval.Duration <= 0 {
		errs = append(errs, "tracker: poll_interval must be > 0")
	}

	// Oracle
	if len(c.Oracle.Sources) == 0 {
		errs = append(errs, "oracle: at least one source is required")
	}
	for _, s := range c.Oracle.Sources {
		if !validSources[strings.ToLower(s)] {
			errs = append(errs, fmt.Sprintf("oracle: unknown source %q (valid: alpaca, yahoo)", s))
		}
	}

	// Postgres
	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.Enabled && c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
