// Package server provides the HTTP API for person search.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/app"
	"github.com/hyperjump/personsearch/internal/metrics"
	"github.com/hyperjump/personsearch/internal/search"
	"github.com/hyperjump/personsearch/pkg/utils"
)

// Server is the HTTP server for the search API.
type Server struct {
	search *search.Service
	app    *app.App
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server that answers queries with svc and reports on a.
func NewServer(svc *search.Service, a *app.App, logger *zap.Logger) *Server {
	return &Server{
		search: svc,
		app:    a,
		logger: utils.OrNop(logger),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	cfg := s.app.Config().Server

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(instrument)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(middleware.Compress(5, "application/json"))

	r.Get("/health", s.handleHealth)
	r.Post("/search_text", s.handleSearchText)
	r.Post("/search_image", s.handleSearchImage)
	r.Get("/images/{filename}", s.handleImage)
	r.Get("/datasets", s.handleDatasets)
	r.Get("/status", s.handleStatus)
	r.Get("/runs", s.handleRuns)
	r.Get("/runs/{id}/failures", s.handleRunFailures)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	cfg := s.app.Config().Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// instrument records request counts and latencies by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
