package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/server/handler"
	"github.com/alanyoungcy/wagerengine/internal/server/middleware"
	"github.com/alanyoungcy/wagerengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, API key authentication is disabled
	RateLimit   int    // requests per RateWindow; 0 disables limiting
	RateWindow  time.Duration
	ClockSkew   time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Protocol *handler.ProtocolHandler
	Markets  *handler.MarketHandler
	Bets     *handler.BetHandler
}

// Server is the HTTP + WebSocket API of the wager engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain: CORS, logging, request identity, rate limiting, API key. The
// limiter also remembers signed-request nonces.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handlers.Health.HealthCheck)

	// Protocol administration.
	p := handlers.Protocol
	mux.HandleFunc("POST /api/protocol/initialize", p.Initialize)
	mux.HandleFunc("GET /api/protocol/config", p.GetConfig)
	mux.HandleFunc("PATCH /api/protocol/config", p.UpdateConfig)
	mux.HandleFunc("POST /api/protocol/pause", p.SetPause)
	mux.HandleFunc("GET /api/assets", p.ListAssets)
	mux.HandleFunc("PUT /api/assets/{symbol}", p.ConfigAsset)
	mux.HandleFunc("POST /api/protocol/admin/challenge", p.TransferChallenge)
	mux.HandleFunc("POST /api/protocol/admin/transfer", p.TransferAdmin)
	mux.HandleFunc("POST /api/protocol/admin/propose", p.ProposeAdmin)
	mux.HandleFunc("POST /api/protocol/admin/accept", p.AcceptAdmin)
	mux.HandleFunc("POST /api/protocol/admin/cancel", p.CancelProposal)

	// Markets.
	m := handlers.Markets
	mux.HandleFunc("POST /api/markets/fixed", m.CreateFixedMarket)
	mux.HandleFunc("POST /api/pools", m.CreatePool)
	mux.HandleFunc("GET /api/markets", m.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", m.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/bets", m.ListBets)
	mux.HandleFunc("GET /api/markets/{id}/history", m.History)
	mux.HandleFunc("GET /api/markets/{id}/archive", m.Archive)
	mux.HandleFunc("POST /api/markets/{id}/resolve", m.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/finalize", m.Finalize)
	mux.HandleFunc("POST /api/markets/{id}/batch-calculate", m.BatchCalculate)

	// Bets.
	b := handlers.Bets
	mux.HandleFunc("POST /api/markets/{id}/bets", b.PlaceBet)
	mux.HandleFunc("GET /api/bets/{id}", b.GetBet)
	mux.HandleFunc("POST /api/bets/{id}/delegate", b.Delegate)
	mux.HandleFunc("POST /api/bets/{id}/reveal", b.Reveal)
	mux.HandleFunc("POST /api/bets/{id}/update", b.Update)
	mux.HandleFunc("POST /api/bets/{id}/undelegate", b.Undelegate)
	mux.HandleFunc("GET /api/bets/{id}/undelegation", b.UndelegationStatus)
	mux.HandleFunc("POST /api/bets/{id}/calculate", b.Calculate)
	mux.HandleFunc("POST /api/bets/{id}/claim", b.Claim)
	mux.HandleFunc("POST /api/bets/{id}/refund", b.Refund)
	mux.HandleFunc("POST /api/bets/{id}/emergency-refund", b.EmergencyRefund)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/healthz")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Identity(cfg.ClockSkew, time.Now, limiter)(h)
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
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

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
