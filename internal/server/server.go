// Package server exposes the operations HTTP API of the trading core.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
	"github.com/alanyoungcy/gaptrader/internal/server/handler"
	"github.com/alanyoungcy/gaptrader/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per minute per client; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Signals is nil in modes that do not accept new trades.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Trades    *handler.TradeHandler
	Positions *handler.PositionHandler
	Risk      *handler.RiskHandler
	Signals   *handler.SignalHandler
	Emergency *handler.EmergencyHandler
}

// Server is the headless HTTP API server for operators.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil, which disables rate limiting.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// NewHandler builds the routed, middleware-wrapped API handler.
func NewHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	api.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	api.HandleFunc("GET /api/trades/{id}", handlers.Trades.GetTrade)
	api.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	api.HandleFunc("GET /api/risk", handlers.Risk.GetRisk)
	if handlers.Signals != nil {
		api.HandleFunc("POST /api/signals", handlers.Signals.SubmitSignal)
	}
	api.HandleFunc("POST /api/emergency-stop", handlers.Emergency.EmergencyStop)
	api.HandleFunc("POST /api/resume", handlers.Emergency.Resume)

	var protected http.Handler = api
	protected = middleware.Auth(cfg.APIKey, logger)(protected)
	if limiter != nil && cfg.RateLimit > 0 {
		protected = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(protected)
	}
	mux.Handle("/api/", protected)

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
