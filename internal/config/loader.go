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
// built-in defaults, applies GAPTRADER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known GAPTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setBool(&cfg.Broker.PaperTrading, "GAPTRADER_BROKER_PAPER_TRADING")
	setBool(&cfg.Broker.PaperTrading, "PAPER_TRADING") // compatibility alias
	setStr(&cfg.Broker.APIKey, "GAPTRADER_BROKER_API_KEY")
	setStr(&cfg.Broker.APISecret, "GAPTRADER_BROKER_API_SECRET")
	setStr(&cfg.Broker.BaseURL, "GAPTRADER_BROKER_BASE_URL")
	setStr(&cfg.Broker.SecretFile, "GAPTRADER_BROKER_SECRET_FILE")
	setStr(&cfg.Broker.SecretPassword, "GAPTRADER_BROKER_SECRET_PASSWORD")
	setInt(&cfg.Broker.RatePerMinute, "GAPTRADER_BROKER_RATE_PER_MINUTE")
	setDuration(&cfg.Broker.MinGap, "GAPTRADER_BROKER_MIN_GAP")
	setInt(&cfg.Broker.DailyCap, "GAPTRADER_BROKER_DAILY_CAP")
	setDuration(&cfg.Broker.RequestTimeout, "GAPTRADER_BROKER_REQUEST_TIMEOUT")

	// ── Risk ──
	setFloat64(&cfg.Risk.RiskPerTrade, "GAPTRADER_RISK_PER_TRADE")
	setFloat64(&cfg.Risk.MaxPositionSize, "GAPTRADER_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MinPositionSize, "GAPTRADER_RISK_MIN_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxDailyLoss, "GAPTRADER_RISK_MAX_DAILY_LOSS")
	setInt(&cfg.Risk.MaxOpenPositions, "GAPTRADER_RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.MaxDrawdownPct, "GAPTRADER_RISK_MAX_DRAWDOWN_PCT")
	setFloat64(&cfg.Risk.PortfolioHeatLimit, "GAPTRADER_RISK_PORTFOLIO_HEAT_LIMIT")
	setFloat64(&cfg.Risk.PaperCapital, "GAPTRADER_RISK_PAPER_CAPITAL")
	setDuration(&cfg.Risk.ReevaluateInterval, "GAPTRADER_RISK_REEVALUATE_INTERVAL")

	// ── Execution ──
	setSeconds(&cfg.Execution.EntryFillTimeout, "GAPTRADER_EXECUTION_ENTRY_FILL_TIMEOUT_SECONDS")
	setDuration(&cfg.Execution.FillPollInterval, "GAPTRADER_EXECUTION_FILL_POLL_INTERVAL")
	setSeconds(&cfg.Execution.MonitorInterval, "GAPTRADER_EXECUTION_MONITOR_INTERVAL_SECONDS")
	setSeconds(&cfg.Execution.MaxHolding, "GAPTRADER_EXECUTION_MAX_HOLDING_SECONDS")
	setDuration(&cfg.Execution.DedupWindow, "GAPTRADER_EXECUTION_DEDUP_WINDOW")
	setDuration(&cfg.Tracker.PollInterval, "GAPTRADER_TRACKER_POLL_INTERVAL")

	// ── Oracle ──
	setStringSlice(&cfg.Oracle.Sources, "GAPTRADER_ORACLE_SOURCES")
	setStr(&cfg.Oracle.DataURL, "GAPTRADER_ORACLE_DATA_URL")
	setStr(&cfg.Oracle.ChartURL, "GAPTRADER_ORACLE_CHART_URL")
	setDuration(&cfg.Oracle.CacheTTL, "GAPTRADER_ORACLE_CACHE_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "GAPTRADER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "GAPTRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "GAPTRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GAPTRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GAPTRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GAPTRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GAPTRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GAPTRADER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "GAPTRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GAPTRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GAPTRADER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "GAPTRADER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "GAPTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GAPTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GAPTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GAPTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GAPTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GAPTRADER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GAPTRADER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GAPTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GAPTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "GAPTRADER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "GAPTRADER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "GAPTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GAPTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "GAPTRADER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GAPTRADER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GAPTRADER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "GAPTRADER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "GAPTRADER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "GAPTRADER_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GAPTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GAPTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GAPTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "GAPTRADER_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "GAPTRADER_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "GAPTRADER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GAPTRADER_MODE")
	setStr(&cfg.LogLevel, "GAPTRADER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

// setSeconds accepts either a bare integer number of seconds or a Go
// duration string.
func setSeconds(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			dst.Duration = time.Duration(n) * time.Second
			return
		}
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
