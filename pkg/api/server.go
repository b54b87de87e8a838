// Package api serves the read-only HTTP surface of the bridge: records,
// archives, operational logs, liveness files and a live feed of the
// console watch log.
//
// Every handler reads file artifacts, never pipeline memory, so the
// server may run in its own process.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AdrianIt2306/OpenMVS/pkg/logging"
)

// Defaults for the server configuration
const (
	DefaultPort       = 8000
	DefaultStreamPoll = 500 * time.Millisecond
	shutdownTimeout   = 5 * time.Second
)

// Server holds the API server state
type Server struct {
	config   ServerConfig
	catalog  RecordIndex
	registry *prometheus.Registry
	metrics  *Metrics
	logger   *slog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, opts Options, logger *slog.Logger) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.WatchLog == "" {
		config.WatchLog = logging.WatchLog
	}
	if config.StreamPoll <= 0 {
		config.StreamPoll = DefaultStreamPoll
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:   config,
		catalog:  opts.Catalog,
		registry: opts.Registry,
		metrics:  NewMetrics(opts.Registry),
		logger:   logger,
	}
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Bind, strconv.Itoa(s.config.Port))
}

// Router builds the route tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health checks and scraping stay open
	r.Get("/health", s.metrics.InstrumentHandler("GET", "/health", s.handleHealth))
	r.Get("/ready", s.metrics.InstrumentHandler("GET", "/ready", s.handleReady))
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiKeyMiddleware(s.config.APIKey, s.metrics))

		// Streams are not compressed so every line is flushed as written
		r.Get("/stream/watch", s.metrics.InstrumentHandler("GET", "/api/v1/stream/watch", s.handleStreamSSE))
		r.Get("/stream/watch/ws", s.metrics.InstrumentHandler("GET", "/api/v1/stream/watch/ws", s.handleStreamWS))

		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

			r.Get("/records", s.metrics.InstrumentHandler("GET", "/api/v1/records", s.handleListRecords))
			r.Get("/records/{name}", s.metrics.InstrumentHandler("GET", "/api/v1/records/{name}", s.handleGetRecord))
			r.Get("/records/{name}/meta", s.metrics.InstrumentHandler("GET", "/api/v1/records/{name}/meta", s.handleRecordMeta))

			r.Get("/catalog", s.metrics.InstrumentHandler("GET", "/api/v1/catalog", s.handleCatalog))

			r.Get("/archives", s.metrics.InstrumentHandler("GET", "/api/v1/archives", s.handleListArchives))
			r.Get("/archives/search", s.metrics.InstrumentHandler("GET", "/api/v1/archives/search", s.handleSearchArchive))
			r.Get("/archives/{name}", s.metrics.InstrumentHandler("GET", "/api/v1/archives/{name}", s.handleGetArchive))

			r.Get("/logs/{name}", s.metrics.InstrumentHandler("GET", "/api/v1/logs/{name}", s.handleLogTail))
			r.Get("/pids", s.metrics.InstrumentHandler("GET", "/api/v1/pids", s.handlePIDs))
		})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	s.logger.Info("api stopped")
	return nil
}
