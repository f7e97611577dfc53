package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/chainbet/internal/domain"
	"github.com/alanyoungcy/chainbet/internal/metrics"
	"github.com/alanyoungcy/chainbet/internal/server/handler"
	"github.com/alanyoungcy/chainbet/internal/server/middleware"
	"github.com/alanyoungcy/chainbet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter and RateLimitPerMin throttle requests per client IP.
	// A nil limiter disables throttling.
	RateLimiter     domain.RateLimiter
	RateLimitPerMin int

	Metrics *metrics.Metrics
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	State    *handler.StateHandler
	Markets  *handler.MarketHandler
	Tx       *handler.TxHandler
	Archives *handler.ArchiveHandler
	Audit    *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API over the reconciler.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in
// CORS -> logging -> rate limit -> auth.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	Routes(mux, handlers, wsHub, cfg.Metrics)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimitPerMin, time.Minute, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Routes registers the API on mux.
func Routes(mux *http.ServeMux, handlers Handlers, wsHub *ws.Hub, m *metrics.Metrics) {
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Snapshot and session.
	mux.HandleFunc("GET /api/state", handlers.State.GetState)
	mux.HandleFunc("GET /api/session", handlers.State.GetSession)
	mux.HandleFunc("PUT /api/session", handlers.State.PutSession)
	mux.HandleFunc("GET /api/session/message", handlers.State.GetSessionMessage)
	mux.HandleFunc("GET /api/networks", handlers.State.ListNetworks)
	mux.HandleFunc("GET /api/bets", handlers.State.ListBets)
	mux.HandleFunc("GET /api/balance/{symbol}", handlers.State.GetBalance)
	mux.HandleFunc("GET /api/toasts", handlers.State.ListToasts)

	// Markets and write actions.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/history", handlers.Markets.MarketHistory)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/odds", handlers.Markets.GetOdds)
	mux.HandleFunc("GET /api/markets/{id}/events", handlers.Markets.ListEvents)
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Markets.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Markets.ClaimReward)

	mux.HandleFunc("GET /api/tx", handlers.Tx.ListTx)
	mux.HandleFunc("GET /api/tx/{id}", handlers.Tx.GetTx)

	mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
	mux.HandleFunc("GET /api/archives/{path...}", handlers.Archives.GetArchive)
	mux.HandleFunc("HEAD /api/archives/{path...}", handlers.Archives.HeadArchive)

	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)

	mux.Handle("GET /metrics", m.Handler())

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
