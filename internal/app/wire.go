package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/gaptrader/internal/blob/s3"
	"github.com/alanyoungcy/gaptrader/internal/broker"
	"github.com/alanyoungcy/gaptrader/internal/cache/redis"
	"github.com/alanyoungcy/gaptrader/internal/config"
	"github.com/alanyoungcy/gaptrader/internal/crypto"
	"github.com/alanyoungcy/gaptrader/internal/domain"
	"github.com/alanyoungcy/gaptrader/internal/executor"
	"github.com/alanyoungcy/gaptrader/internal/notify"
	"github.com/alanyoungcy/gaptrader/internal/oracle"
	"github.com/alanyoungcy/gaptrader/internal/risk"
	"github.com/alanyoungcy/gaptrader/internal/server/handler"
	"github.com/alanyoungcy/gaptrader/internal/service"
	"github.com/alanyoungcy/gaptrader/internal/store/postgres"
	"github.com/alanyoungcy/gaptrader/internal/tracker"
)

// Dependencies bundles everything the application modes need. Infrastructure
// fields are nil when the matching config section is disabled.
type Dependencies struct {
	// Stores
	TradeStore domain.TradeStore
	OrderStore domain.OrderStore
	AuditStore domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	Locks       *redis.LockManager
	Bus         *redis.SignalBus

	// Blob storage
	Archiver *s3blob.Archiver

	// Trading core
	Broker      *broker.Adapter
	Oracle      *oracle.Oracle
	Gate        *risk.Gate
	Tracker     *tracker.Tracker
	Coordinator *executor.Coordinator

	// Services
	Trades   *service.TradeService
	Events   *service.EventService
	Notifier *notify.Notifier

	// Checks are the dependency probes behind GET /api/health.
	Checks map[string]handler.Check
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
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
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Oracle.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient, logger)
		deps.Bus = redis.NewSignalBus(redisClient, logger)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.AuditStore)
		deps.Checks["s3"] = s3Client.Health
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
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// Keep optional interfaces nil, not typed-nil pointers.
	var bus service.EventPublisher
	if deps.Bus != nil {
		bus = deps.Bus
	}
	deps.Events = service.NewEventService(deps.Notifier, bus, logger)

	var archiver service.Archiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	deps.Trades = service.NewTradeService(deps.TradeStore, deps.OrderStore, deps.AuditStore, archiver, logger)

	// --- Broker ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:      cfg.Broker.APISecret,
		Path:     cfg.Broker.SecretFile,
		Password: cfg.Broker.SecretPassword,
	})
	if err != nil && !cfg.Broker.PaperTrading {
		return fail(fmt.Errorf("wire: broker secret: %w", err))
	}

	var client broker.Client
	if !cfg.Broker.PaperTrading {
		client = broker.NewAlpacaClient(broker.AlpacaOpts{
			APIKey:    cfg.Broker.APIKey,
			APISecret: secret,
			BaseURL:   cfg.Broker.BaseURL,
			Timeout:   cfg.Broker.RequestTimeout.Duration,
		})
	}
	limiter := broker.NewLimiter(broker.LimitConfig{
		PerMinute: cfg.Broker.RatePerMinute,
		MinGap:    cfg.Broker.MinGap.Duration,
		DailyCap:  cfg.Broker.DailyCap,
	}, deps.RateLimiter, logger)
	deps.Broker = broker.New(broker.Config{
		Paper:          cfg.Broker.PaperTrading,
		PaperCapital:   cfg.Risk.PaperCapital,
		RequestTimeout: cfg.Broker.RequestTimeout.Duration,
		BracketExpiry:  cfg.Broker.BracketExpiry.Duration,
	}, client, limiter, logger)

	// --- Market data ---
	sources, err := buildSources(cfg, secret)
	if err != nil {
		return fail(err)
	}
	deps.Oracle = oracle.New(sources, deps.PriceCache, oracle.Config{
		CacheTTL:     cfg.Oracle.CacheTTL.Duration,
		BarsCacheTTL: cfg.Oracle.BarsCacheTTL.Duration,
	}, logger)

	// --- Risk, positions, execution ---
	ledger := executor.NewLedger(0)
	returns, err := deps.Trades.ClosedReturns(ctx, 20)
	if err != nil {
		logger.WarnContext(ctx, "wire: performance history unavailable", slog.String("error", err.Error()))
	}
	ledger.Seed(returns)

	deps.Gate = risk.New(risk.Config{
		RiskPerTrade:       cfg.Risk.RiskPerTrade,
		MaxPositionSize:    cfg.Risk.MaxPositionSize,
		MinPositionSize:    cfg.Risk.MinPositionSize,
		MaxDailyLoss:       cfg.Risk.MaxDailyLoss,
		MaxOpenPositions:   cfg.Risk.MaxOpenPositions,
		MaxDrawdownPct:     cfg.Risk.MaxDrawdownPct,
		PortfolioHeatLimit: cfg.Risk.PortfolioHeatLimit,
		ReevaluateInterval: cfg.Risk.ReevaluateInterval.Duration,
	}, risk.NewAnalyzer(deps.Oracle), ledger, deps.Events, logger)

	deps.Tracker = tracker.New(deps.Broker, deps.Oracle, cfg.Tracker.PollInterval.Duration, logger)

	deps.Coordinator = executor.New(executor.Config{
		FillTimeout:      cfg.Execution.EntryFillTimeout.Duration,
		FillPollInterval: cfg.Execution.FillPollInterval.Duration,
		MonitorInterval:  cfg.Execution.MonitorInterval.Duration,
		MaxHolding:       cfg.Execution.MaxHolding.Duration,
		DedupWindow:      cfg.Execution.DedupWindow.Duration,
	}, executor.Deps{
		Broker:    deps.Broker,
		Gate:      deps.Gate,
		Positions: deps.Tracker,
		Sink:      deps.Trades,
		Notifier:  deps.Events,
		Ledger:    ledger,
	}, logger)

	coord := deps.Coordinator
	deps.Gate.SetEmergencyHandler(func(ctx context.Context, reason string) {
		if err := coord.EmergencyStopAll(ctx, reason); err != nil {
			logger.ErrorContext(ctx, "wire: emergency exits incomplete",
				slog.String("severity", string(domain.SeverityCritical)),
				slog.String("error", err.Error()),
			)
		}
	})
	deps.Trades.Attach(coord.Trade)

	return deps, cleanup, nil
}

// buildSources creates the oracle's failover chain in configured order.
func buildSources(cfg *config.Config, secret string) ([]oracle.Source, error) {
	var sources []oracle.Source
	for _, name := range cfg.Oracle.Sources {
		switch strings.ToLower(name) {
		case "alpaca":
			if cfg.Broker.APIKey == "" || secret == "" {
				// Paper setups often run without market data credentials.
				continue
			}
			sources = append(sources, oracle.NewAlpacaSource(oracle.AlpacaOpts{
				APIKey:    cfg.Broker.APIKey,
				APISecret: secret,
				BaseURL:   cfg.Oracle.DataURL,
			}))
		case "yahoo":
			sources = append(sources, oracle.NewChartSource(cfg.Oracle.ChartURL, cfg.Oracle.RequestTimeout.Duration))
		default:
			return nil, fmt.Errorf("wire: unknown oracle source %q", name)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("wire: no usable oracle source in %v", cfg.Oracle.Sources)
	}
	return sources, nil
}
