package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"NetSpectra/internal/config"
	"NetSpectra/internal/engine/capture"
	"NetSpectra/internal/export"
	"NetSpectra/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CaptureService is the health service name that reports whether capture is running.
const CaptureService = "netspectra.capture"

const shutdownTimeout = 5 * time.Second

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Packets         uint64    `json:"packets"`
	Batches         uint64    `json:"batches"`
	IntervalFlushes uint64    `json:"interval_flushes"`
	PressureFlushes uint64    `json:"pressure_flushes"`
	FinalFlushes    uint64    `json:"final_flushes"`
	HandOffs        uint64    `json:"handoffs"`
	SourceErrors    uint64    `json:"source_errors"`
	SourcesOpen     int       `json:"sources_open"`
	LastTimestamp   time.Time `json:"last_timestamp"`
	ArenaUsage      int64     `json:"arena_usage_bytes"`
	ArenaPeak       int64     `json:"arena_peak_bytes"`
	ArenaBudget     int64     `json:"arena_budget_bytes"`
	ExportedFlows   uint64    `json:"exported_flows"`
	WriteErrors     uint64    `json:"write_errors"`
}

// Server exposes capture statistics over HTTP and health over gRPC.
type Server struct {
	cfg      config.APIConfig
	stats    *capture.Stats
	arena    *capture.Arena
	exporter *export.Stats
	registry *prometheus.Registry
	health   *health.Server
	logger   *zap.Logger
}

// NewServer creates the status server. exporter may be nil.
func NewServer(cfg config.APIConfig, stats *capture.Stats, arena *capture.Arena, exporter *export.Stats, logger *zap.Logger) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.NewCollector(stats, arena, exporter),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(CaptureService, healthpb.HealthCheckResponse_SERVING)

	return &Server{
		cfg:      cfg,
		stats:    stats,
		arena:    arena,
		exporter: exporter,
		registry: registry,
		health:   hs,
		logger:   logger,
	}
}

// Health returns the gRPC health service.
func (s *Server) Health() *health.Server {
	return s.health
}

// CaptureDone marks the capture service as no longer serving.
func (s *Server) CaptureDone() {
	s.health.SetServingStatus(CaptureService, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/classifiers", s.classifiersHandler).Methods(http.MethodGet)
	r.HandleFunc("/classifiers/{name}", s.classifierHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Run serves HTTP and gRPC until ctx is cancelled. An empty listen address
// disables the corresponding server.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 2)

	var grpcServer *grpc.Server
	if s.cfg.GrpcListenAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GrpcListenAddr)
		if err != nil {
			return err
		}
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, s.health)
		go func() {
			s.logger.Info("gRPC health server starting", zap.String("addr", lis.Addr().String()))
			errc <- grpcServer.Serve(lis)
		}()
	}

	var httpServer *http.Server
	if s.cfg.HttpListenAddr != "" {
		httpServer = &http.Server{
			Addr:              s.cfg.HttpListenAddr,
			Handler:           s.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.logger.Info("HTTP stats server starting", zap.String("addr", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
				return
			}
			errc <- nil
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	s.logger.Info("Servers shutting down...")
	s.health.Shutdown()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}
	return err
}

func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{
		Packets:         s.stats.Packets.Load(),
		Batches:         s.stats.Batches.Load(),
		IntervalFlushes: s.stats.IntervalFlushes.Load(),
		PressureFlushes: s.stats.PressureFlushes.Load(),
		FinalFlushes:    s.stats.FinalFlushes.Load(),
		HandOffs:        s.stats.HandOffs.Load(),
		SourceErrors:    s.stats.SourceErrors.Load(),
		SourcesOpen:     s.stats.SourcesLeft(),
		LastTimestamp:   s.stats.LastTimestamp(),
		ArenaUsage:      s.arena.Usage(),
		ArenaPeak:       s.arena.Peak(),
		ArenaBudget:     s.arena.Budget(),
	}
	if s.exporter != nil {
		resp.ExportedFlows = s.exporter.Flows.Load()
		resp.WriteErrors = s.exporter.WriteErrors.Load()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) classifiersHandler(w http.ResponseWriter, _ *http.Request) {
	view := s.stats.Classifiers()
	if view == nil {
		view = []capture.ClassifierStat{}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) classifierHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, c := range s.stats.Classifiers() {
		if c.Name == name {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}
	http.Error(w, "classifier not found: "+name, http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
