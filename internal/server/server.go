// Package server exposes the monitoring engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/server/handler"
	"github.com/alanyoungcy/smartmonitor/internal/server/middleware"
	"github.com/alanyoungcy/smartmonitor/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Monitors *handler.MonitorHandler
	Account  *handler.AccountHandler
	History  *handler.HistoryHandler
	Events   *handler.EventsHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub when one is given. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Manual analysis runs wait on the oracle.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed and middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Monitor task endpoints.
	mux.HandleFunc("GET /api/monitors", handlers.Monitors.ListMonitors)
	mux.HandleFunc("POST /api/monitors", handlers.Monitors.CreateMonitor)
	mux.HandleFunc("GET /api/monitors/{symbol}", handlers.Monitors.GetMonitor)
	mux.HandleFunc("PUT /api/monitors/{symbol}", handlers.Monitors.UpdateMonitor)
	mux.HandleFunc("DELETE /api/monitors/{symbol}", handlers.Monitors.DeleteMonitor)
	mux.HandleFunc("POST /api/monitors/{symbol}/start", handlers.Monitors.StartMonitor)
	mux.HandleFunc("POST /api/monitors/{symbol}/stop", handlers.Monitors.StopMonitor)
	mux.HandleFunc("POST /api/monitors/{symbol}/run", handlers.Monitors.RunMonitor)
	mux.HandleFunc("GET /api/status", handlers.Monitors.ListStatuses)

	// Account endpoints.
	mux.HandleFunc("GET /api/account", handlers.Account.GetAccount)
	mux.HandleFunc("GET /api/positions", handlers.Account.ListPositions)

	// Journal endpoints.
	mux.HandleFunc("GET /api/decisions", handlers.History.ListDecisions)
	mux.HandleFunc("GET /api/trades", handlers.History.ListTrades)
	mux.HandleFunc("GET /api/notifications", handlers.History.ListNotifications)
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
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
	s.logger.Info("starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
