package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/gaptrader/internal/domain"
	"github.com/alanyoungcy/gaptrader/internal/server"
	"github.com/alanyoungcy/gaptrader/internal/server/handler"
	"github.com/alanyoungcy/gaptrader/internal/service"
)

const (
	traderLockKey   = "trader"
	traderLockTTL   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	cachePruneEvery = 10 * time.Minute
)

var errLockLost = errors.New("trader lock lost")

// TradeMode runs the execution core: signal intake, the coordinator, the
// position tracker and the risk re-evaluation loop. The HTTP API runs when
// server.enabled is set.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runTrading(ctx, deps, a.cfg.Server.Enabled, false)
}

// FullMode is trade mode plus the daily S3 archive, with the HTTP API
// always on.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runTrading(ctx, deps, true, true)
}

// MonitorMode tracks positions and risk and serves the HTTP API without
// accepting signals. The emergency stop stays available.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Tracker.Run(ctx)
	})
	g.Go(func() error {
		return deps.Gate.Run(ctx, deps.Coordinator)
	})
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

func (a *App) runTrading(ctx context.Context, deps *Dependencies, withServer, withArchive bool) error {
	g, ctx := errgroup.WithContext(ctx)

	// Only one process may own the broker account's trades.
	if deps.Locks != nil {
		lost, err := deps.Locks.Hold(ctx, traderLockKey, traderLockTTL)
		if err != nil {
			return fmt.Errorf("app: trader lock: %w", err)
		}
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-lost:
				a.logger.ErrorContext(ctx, "app: trader lock lost, stopping",
					slog.String("severity", string(domain.SeverityCritical)),
				)
				return errLockLost
			}
		})
	} else {
		a.logger.WarnContext(ctx, "app: redis disabled, running without single-instance lock")
	}

	queue := newSignalQueue(a.cfg.Execution.SignalBuffer, a.logger)

	g.Go(func() error {
		return deps.Tracker.Run(ctx)
	})
	g.Go(func() error {
		return deps.Gate.Run(ctx, deps.Coordinator)
	})
	g.Go(func() error {
		return deps.Coordinator.Run(ctx, queue.signals())
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := deps.Coordinator.Shutdown(shutCtx); err != nil {
			a.logger.WarnContext(shutCtx, "app: coordinator shutdown incomplete", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(cachePruneEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				deps.Oracle.PruneCache()
			}
		}
	})

	if deps.Bus != nil {
		sigs, err := deps.Bus.Signals(ctx)
		if err != nil {
			return fmt.Errorf("app: subscribe signals: %w", err)
		}
		g.Go(func() error {
			return queue.forward(ctx, sigs)
		})
	}

	if withArchive {
		if deps.TradeStore != nil && deps.Archiver != nil {
			archive := service.NewDailyArchive(deps.TradeStore, deps.Archiver, time.Hour, a.logger)
			g.Go(func() error {
				return archive.Run(ctx)
			})
		} else {
			a.logger.WarnContext(ctx, "app: daily archive disabled (needs postgres and s3)")
		}
	}

	if withServer {
		a.startHTTPServer(ctx, g, deps, queue)
	}

	return g.Wait()
}

// startHTTPServer registers the ops API on g. queue is nil in modes that
// do not take signals.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, queue *signalQueue) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, deps.Broker.Paper(), deps.Coordinator, deps.Tracker),
		Trades:    handler.NewTradeHandler(deps.Coordinator, a.history(deps), a.logger),
		Positions: handler.NewPositionHandler(deps.Tracker),
		Risk:      handler.NewRiskHandler(deps.Gate),
		Emergency: handler.NewEmergencyHandler(deps.Coordinator, a.logger),
	}
	if queue != nil {
		handlers.Signals = handler.NewSignalHandler(deps.Coordinator, queue, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// history returns the persisted trade reader, or nil without Postgres.
func (a *App) history(deps *Dependencies) handler.TradeHistory {
	if deps.TradeStore == nil {
		return nil
	}
	return deps.Trades
}
