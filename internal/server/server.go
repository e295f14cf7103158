package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/server/handler"
	"github.com/johndpope/erc20bet/internal/server/middleware"
	"github.com/johndpope/erc20bet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // guards operator routes; empty disables auth
	RateLimit   int    // requests per client per RateWindow; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Status *handler.StatusHandler
	Bets   *handler.BetHandler
	Games  *handler.GameHandler
	// Feed is optional; nil leaves /ws unregistered.
	Feed *ws.Hub
}

// Server is the bet book and settlement HTTP API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered. limiter may be
// nil, which disables per-client rate limiting.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the handler tree with its middleware chain.
func Routes(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	operator := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Bet book.
	mux.HandleFunc("GET /api/bets", handlers.Bets.ListBets)
	mux.HandleFunc("GET /api/bets/{id}", handlers.Bets.GetBet)
	mux.HandleFunc("PUT /api/bets/{id}", handlers.Bets.PutBet)
	mux.HandleFunc("DELETE /api/bets/{id}", handlers.Bets.DeleteBet)

	// Matching and settlement.
	mux.Handle("POST /api/games", operator(http.HandlerFunc(handlers.Games.MatchBets)))
	mux.Handle("POST /api/games/ingest", operator(http.HandlerFunc(handlers.Games.IngestSettlement)))
	mux.Handle("POST /api/games/{id}/result", operator(http.HandlerFunc(handlers.Games.IngestResult)))
	mux.HandleFunc("GET /api/games", handlers.Games.ListGames)
	mux.HandleFunc("GET /api/games/{id}", handlers.Games.GetGame)
	mux.HandleFunc("GET /api/games/{id}/claims", handlers.Games.ListClaims)
	mux.HandleFunc("GET /api/tickets", handlers.Games.ListTickets)

	if handlers.Feed != nil {
		mux.HandleFunc("GET /ws", handlers.Feed.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
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
