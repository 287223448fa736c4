package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tubesync/internal/core"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config   *core.ServerConfig
	logger   *zap.Logger
	server   *http.Server
	metrics  *Metrics
	registry *prometheus.Registry
}

type Metrics struct {
	DownloadsTotal     *prometheus.CounterVec
	DuplicatesTotal    *prometheus.CounterVec
	QuarantinedTotal   *prometheus.CounterVec
	RenamedTotal       prometheus.Counter
	FetchFailuresTotal prometheus.Counter
	ArchivePrunedTotal prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	SyncDuration       *prometheus.HistogramVec
	PlaylistSize       *prometheus.GaugeVec
}

// Server implements core.Recorder.
var _ core.Recorder = (*Server)(nil)

func newMetrics() *Metrics {
	return &Metrics{
		DownloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubesync_downloads_total",
				Help: "Total number of items downloaded",
			},
			[]string{"playlist"},
		),
		DuplicatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubesync_duplicates_total",
				Help: "Total number of duplicates detected",
			},
			[]string{"source"},
		),
		QuarantinedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubesync_quarantined_total",
				Help: "Total number of files moved to quarantine",
			},
			[]string{"reason"},
		),
		RenamedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tubesync_renamed_total",
				Help: "Total number of files renamed to their canonical name",
			},
		),
		FetchFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tubesync_fetch_failures_total",
				Help: "Total number of items the downloader failed to fetch",
			},
		),
		ArchivePrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tubesync_archive_pruned_total",
				Help: "Total number of stale download archive records removed",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubesync_errors_total",
				Help: "Total number of errors",
			},
			[]string{"component", "type"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tubesync_sync_duration_seconds",
				Help:    "Time spent syncing one playlist",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"mode"},
		),
		PlaylistSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tubesync_playlist_size",
				Help: "Number of entries in the remote playlist at the last scan",
			},
			[]string{"playlist"},
		),
	}
}

func NewServer(config *core.ServerConfig, logger *zap.Logger) *Server {
	logger = logger.Named("http")
	metrics := newMetrics()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.DownloadsTotal,
		metrics.DuplicatesTotal,
		metrics.QuarantinedTotal,
		metrics.RenamedTotal,
		metrics.FetchFailuresTotal,
		metrics.ArchivePrunedTotal,
		metrics.ErrorsTotal,
		metrics.SyncDuration,
		metrics.PlaylistSize,
	)

	return &Server{
		config:   config,
		logger:   logger,
		server:   createHTTPServer(config, setupRoutes(logger, registry)),
		metrics:  metrics,
		registry: registry,
	}
}

func createHTTPServer(config *core.ServerConfig, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func setupRoutes(logger *zap.Logger, registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok","service":"tubesync"}`)); err != nil {
			logger.Debug("Failed to write health response", zap.Error(err))
		}
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ready","service":"tubesync"}`)); err != nil {
			logger.Debug("Failed to write readiness response", zap.Error(err))
		}
	})

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	mux.HandleFunc("/", homeHandler(logger))

	return mux
}

func homeHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>tubesync</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
    </style>
</head>
<body>
    <h1>tubesync</h1>
    <p>Playlist to library sync in progress.</p>

    <h2>Endpoints</h2>
    <div class="endpoint"><a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint"><a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint"><a href="/readyz">Ready</a> - Readiness check</div>
</body>
</html>`)); err != nil {
			logger.Debug("Failed to write home page", zap.Error(err))
		}
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting metrics server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Debug("Shutting down metrics server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown metrics server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

// Registry exposes the server's private registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) RecordDownloads(playlist string, n int) {
	s.metrics.DownloadsTotal.WithLabelValues(playlist).Add(float64(n))
}

func (s *Server) RecordDuplicates(source string, n int) {
	s.metrics.DuplicatesTotal.WithLabelValues(source).Add(float64(n))
}

func (s *Server) RecordQuarantined(reason string, n int) {
	s.metrics.QuarantinedTotal.WithLabelValues(reason).Add(float64(n))
}

func (s *Server) RecordRenamed(n int) {
	s.metrics.RenamedTotal.Add(float64(n))
}

func (s *Server) RecordFetchFailures(n int) {
	s.metrics.FetchFailuresTotal.Add(float64(n))
}

func (s *Server) RecordArchivePruned(n int) {
	s.metrics.ArchivePrunedTotal.Add(float64(n))
}

func (s *Server) RecordError(component, errorType string) {
	s.metrics.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func (s *Server) RecordSyncDuration(mode core.Mode, d time.Duration) {
	s.metrics.SyncDuration.WithLabelValues(string(mode)).Observe(d.Seconds())
}

func (s *Server) SetPlaylistSize(playlist string, n int) {
	s.metrics.PlaylistSize.WithLabelValues(playlist).Set(float64(n))
}
