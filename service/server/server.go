package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/tokenburn/service/burn"
	"github.com/brojonat/tokenburn/service/config"
	"github.com/brojonat/tokenburn/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Burner runs one burn to a terminal state. *burn.Engine implements it.
type Burner interface {
	Burn(ctx context.Context, in burn.Input) (*burn.Result, error)
}

// HealthChecker reports whether the Solana node is usable. *solana.Client implements it.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server represents the HTTP server for the burn service.
type Server struct {
	addr    string
	cfg     *config.Config
	engine  Burner
	health  HealthChecker
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server

	// burning admits one in-flight burn per process.
	burning sync.Mutex
}

// New creates a new HTTP server with the given dependencies.
// The health checker is optional - if nil, /health/rpc is not registered.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, engine Burner, health HealthChecker, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		cfg:     cfg,
		engine:  engine,
		health:  health,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the routed handler, wrapped with the origin check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Burn routes
	mux.Handle("POST /api/v1/burns", s.instrument("/api/v1/burns", handleBurn(s.engine, &s.burning, s.logger)))
	mux.Handle("GET /api/v1/config", s.instrument("/api/v1/config", handleGetConfig(s.cfg)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if s.health != nil {
		mux.Handle("GET /health/rpc", handleRPCHealth(s.health, s.logger))
	}

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// Browser access is limited to the configured origins
	return corsMiddleware(s.cfg.AllowedOrigins, mux)
}

func (s *Server) instrument(name string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// A burn request stays open until confirmation settles.
		WriteTimeout: s.cfg.ConfirmTimeout + 2*s.cfg.RPCRequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"network", s.cfg.SolanaNetwork,
		"treasury", s.cfg.TreasuryAddress.String(),
		"allowed_origins", s.cfg.AllowedOrigins,
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server. In-flight burns keep running
// until they settle or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware lets requests without an Origin header through untouched; the
// CLI and the Go client never send one. A browser request is served only when
// its origin is in allowed, and gets CORS headers naming that origin. Any other
// origin is refused before routing, preflight included.
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	allow := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		allow[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Origin")
		if !allow[origin] {
			writeError(w, KindOriginNotAllowed, "origin not allowed", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
