// Package server exposes the detector over HTTP, server-sent events and
// WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/server/handler"
	"github.com/alanyoungcy/triarb/internal/server/middleware"
	"github.com/alanyoungcy/triarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers. Optional handlers left nil have
// their routes omitted.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Prices        *handler.PriceHandler
	Opportunities *handler.OpportunityHandler
	Symbols       *handler.SymbolHandler
	Archives      *handler.ArchiveHandler // optional
	Audit         *handler.AuditHandler   // optional
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil,
// which disables rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http"))

	// Long-lived SSE requests end when shutdown starts.
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(cfg, handlers, wsHub, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancel)

	return &Server{httpServer: srv, logger: logger}
}

// NewRouter registers every route and wraps the mux in the middleware chain.
func NewRouter(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/prices", handlers.Prices.ListPrices)
	mux.HandleFunc("GET /api/prices/{symbol}", handlers.Prices.GetPrice)
	mux.HandleFunc("GET /api/stream/prices", handlers.Prices.StreamPrices)

	mux.HandleFunc("GET /api/opportunities", handlers.Opportunities.ListRecent)
	mux.HandleFunc("GET /api/opportunities/stats", handlers.Opportunities.Stats)
	mux.HandleFunc("GET /api/opportunities/history", handlers.Opportunities.History)
	mux.HandleFunc("GET /api/opportunities/stream", handlers.Opportunities.Stream)

	mux.HandleFunc("GET /api/symbols", handlers.Symbols.List)
	mux.HandleFunc("PUT /api/symbols", handlers.Symbols.Replace)

	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.List)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archives.Get)
	}
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.List)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
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
