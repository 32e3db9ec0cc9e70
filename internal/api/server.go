package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loss-prevention/kestrel/internal/analysis"
	"github.com/loss-prevention/kestrel/internal/baseline"
	"github.com/loss-prevention/kestrel/internal/domain"
	"github.com/loss-prevention/kestrel/internal/indicator"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, analyzer *analysis.Analyzer, baselines *baseline.Store, indicators *indicator.Engine, version string, sweepWorkers int) *Server {
	handler := NewHandler(repo, cache, bus, analyzer, baselines, indicators, version, sweepWorkers)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Subject analysis
		r.Post("/analyze", handler.Analyze)
		r.Post("/sweep", handler.Sweep)

		// Score and package retrieval
		r.Get("/scores/{subjectID}", handler.GetScore)
		r.Get("/packages/{id}", handler.GetPackage)
		r.Get("/alerts/{subjectID}", handler.ListSubjectAlerts)

		// Baseline management
		r.Get("/baselines/{subjectID}", handler.GetBaseline)
		r.Post("/baselines/{subjectID}/rebuild", handler.RebuildBaseline)

		// Indicator management
		r.Get("/indicators", handler.ListIndicators)
		r.Get("/indicators/{id}", handler.GetIndicator)
		r.Post("/indicators", handler.CreateIndicator)
		r.Post("/indicators/reload", handler.ReloadIndicators)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
