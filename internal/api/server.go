// Package api exposes the project lifecycle over HTTP: submit a BOM, poll
// its progress, cancel it, and inspect the queue. Handlers are thin adapters
// over the store and ingestor; all matching work happens in the worker
// process.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"partfinder/internal/ingest"
	"partfinder/internal/metrics"
	"partfinder/internal/store"
	"partfinder/internal/types"
)

// MpnLookup is the distributor surface the read path uses to enrich
// potential matches. Satisfied by *mouser.Client; nil disables backfill.
type MpnLookup interface {
	SearchByMpn(ctx context.Context, mpn string) (*types.Part, error)
}

// Server is the HTTP API server.
type Server struct {
	httpServer  *http.Server
	store       *store.Store
	ingestor    *ingest.Ingestor
	distributor MpnLookup
	registry    *prometheus.Registry
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewServer builds the API server. distributor may be nil, which disables
// potential-match backfill on finished reads; registry may be nil, which
// serves /metrics from the default registry.
func NewServer(addr string, s *store.Store, ing *ingest.Ingestor, distributor MpnLookup, registry *prometheus.Registry, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &Server{
		store:       s,
		ingestor:    ing,
		distributor: distributor,
		registry:    registry,
		logger:      logger,
		metrics:     m,
	}
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Handler returns the route table, wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /project", s.handleCreateProject)
	mux.HandleFunc("GET /project/queue/length", s.handleQueueLength)
	mux.HandleFunc("GET /project/{id}", s.handleGetProject)
	mux.HandleFunc("DELETE /project/{id}", s.handleDeleteProject)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return s.logRequests(mux)
}

// ListenAndServe blocks serving the API until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
