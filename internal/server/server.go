// Package server exposes the scan pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quantmind-br/reposcan/internal/domain"
	"github.com/quantmind-br/reposcan/internal/metrics"
	"github.com/quantmind-br/reposcan/internal/utils"
)

// MaxBodyBytes bounds the size of a request body
const MaxBodyBytes = 1 << 20

// Scanner runs one pipeline
type Scanner interface {
	Run(ctx context.Context, src domain.SourceDescriptor, query domain.ScanQuery, opts domain.PipelineOptions) (*domain.ScanResponse, error)
}

// Config holds HTTP server configuration
type Config struct {
	Listen string
	// RequestTimeout bounds the pipeline run of one request
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	Version         string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	scanner   Scanner
	metrics   *metrics.Metrics
	logger    *utils.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, scanner Scanner, m *metrics.Metrics, logger *utils.Logger) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Minute
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 15 * time.Second
	}
	return &Server{
		config:    config,
		scanner:   scanner,
		metrics:   m,
		logger:    utils.OrNop(logger).WithComponent("server"),
		startedAt: time.Now(),
	}
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.RequestTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info().Str("listen", s.config.Listen).Msg("API server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Post("/search", s.handleSearch)
		r.Post("/analyze", s.handleAnalyze)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
