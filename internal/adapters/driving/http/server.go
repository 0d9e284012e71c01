package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the admin API: health, sync triggering, run history and
// queue statistics. Sync work itself always goes through the task queue so
// the HTTP process never blocks on a run.
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	logger     *slog.Logger
	version    string

	taskQueue driven.TaskQueue
	runStore  driven.RunStore

	db    Pinger // PostgreSQL health check
	redis Pinger // Redis health check (optional)
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string

	// AuthSecret signs and validates admin API bearer tokens.
	AuthSecret string

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	taskQueue driven.TaskQueue,
	runStore driven.RunStore,
	db Pinger,
	redis Pinger, // can be nil
) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:    http.NewServeMux(),
		logger:    logger,
		version:   cfg.Version,
		taskQueue: taskQueue,
		runStore:  runStore,
		db:        db,
		redis:     redis,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes(cfg.AuthSecret)
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(authSecret string) {
	auth := NewAuthMiddleware(authSecret)

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Sync endpoints
	s.router.Handle("POST /api/v1/sync/runs",
		auth.Authenticate(http.HandlerFunc(s.handleEnqueueSync)))
	s.router.Handle("GET /api/v1/sync/runs",
		auth.Authenticate(http.HandlerFunc(s.handleListRuns)))
	s.router.Handle("GET /api/v1/sync/runs/{id}",
		auth.Authenticate(http.HandlerFunc(s.handleGetRun)))
	s.router.Handle("GET /api/v1/sync/tasks/{id}",
		auth.Authenticate(http.HandlerFunc(s.handleGetTask)))

	// Queue statistics
	s.router.Handle("GET /api/v1/queue/stats",
		auth.Authenticate(http.HandlerFunc(s.handleQueueStats)))
}

// Start starts the HTTP server. Blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
