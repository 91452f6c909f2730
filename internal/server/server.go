package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/enactai/enactmcp/internal/handler"
	"github.com/enactai/enactmcp/internal/server/middleware"
	"github.com/enactai/enactmcp/internal/service"
	"github.com/enactai/enactmcp/internal/store"
	"github.com/enactai/enactmcp/internal/token"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// IPRateLimit caps requests per client IP per minute at the edge.
	// Zero disables the edge limit.
	IPRateLimit int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		IPRateLimit:     120,
	}
}

// Server is the top-level HTTP server. It hosts the dashboard/admin JSON
// API and, when an MCP handler is provided, the streamable MCP endpoint
// under /mcp.
type Server struct {
	cfg        Config
	router     chi.Router
	st         *store.Store
	gate       *token.Gate
	sessions   *service.SessionService
	tokens     *handler.TokenHandler
	mcpHandler http.Handler
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server, wires up all routes and middleware, and returns it
// ready to listen. mcpHandler may be nil when MCP-over-HTTP is disabled.
func New(cfg Config, st *store.Store, mgr *token.Manager, sessions *service.SessionService, mcpHandler http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		st:         st,
		gate:       token.NewGate(mgr),
		sessions:   sessions,
		tokens:     handler.NewTokenHandler(mgr, sessions, logger),
		mcpHandler: mcpHandler,
		logger:     logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.IPRateLimit > 0 {
		r.Use(middleware.RateLimit(s.cfg.IPRateLimit))
	}

	// Health checks, no auth required.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api/v1/system", func(r chi.Router) {
		// Login is unauthenticated: it is how a session is obtained.
		r.Post("/session", s.tokens.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.gate, s.sessions))
			r.Use(middleware.RequireAdmin())

			r.Get("/overview", s.tokens.Overview)
			r.Get("/alerts", s.tokens.Alerts)
			r.Post("/cleanup", s.tokens.Cleanup)

			r.Get("/token", s.tokens.ListTokens)
			r.Post("/token", s.tokens.CreateToken)
			r.Get("/token/{tokenID}", s.tokens.GetToken)
			r.Get("/token/{tokenID}/usage", s.tokens.TokenTimeline)
			r.Delete("/token/{tokenID}", s.tokens.RevokeToken)
			r.Post("/token/{tokenID}/rotate", s.tokens.RotateToken)
		})
	})

	// Streamable MCP endpoint. The MCP layer does its own token checks
	// per tool call, so it mounts outside the dashboard auth chain.
	if s.mcpHandler != nil {
		r.Mount("/mcp", s.mcpHandler)
	}

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the token store is
// reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.st.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","checks":{"token_store":"error"}}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","checks":{"token_store":"ok"}}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or
// SIGTERM is received, then drains in-flight requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
