// Package api serves the operational HTTP surface: backfill control, system
// status, monitoring views, Prometheus metrics and a websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"gridscan/internal/backfill"
	"gridscan/internal/collector"
	"gridscan/internal/config"
	"gridscan/internal/eventbus"
	"gridscan/internal/models"
	"gridscan/internal/monitoring"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BackfillService is the backfill engine surface the API exposes.
type BackfillService interface {
	StartBackfill(ctx context.Context, area string, ep collector.Endpoint, start, end time.Time, chunkSizeDays int) (*models.BackfillResult, error)
	ResumeBackfill(ctx context.Context, id int64) (*models.BackfillResult, error)
	GetBackfillStatus(ctx context.Context, id int64) (*models.BackfillProgress, error)
	ListActiveBackfills(ctx context.Context) ([]models.BackfillProgress, error)
	AnalyzeCoverage(ctx context.Context, areas []string, endpoints []collector.Endpoint, yearsBack int) ([]models.CoverageAnalysis, error)
}

// MonitoringService is the monitoring engine surface the API exposes.
type MonitoringService interface {
	GetSystemHealthSummary(ctx context.Context) (*monitoring.SystemHealth, error)
	DetectAnomalies(ctx context.Context, window time.Duration) ([]monitoring.Anomaly, error)
	GetPerformanceMetrics(ctx context.Context, window time.Duration) (*monitoring.PerformanceReport, error)
}

// SchedulerStatus reports scheduler state for /api/status.
type SchedulerStatus interface {
	Running() bool
	State() []models.SchedulerJobState
}

type Server struct {
	cfg        config.APIConfig
	backfills  BackfillService
	monitoring MonitoringService
	scheduler  SchedulerStatus
	bus        *eventbus.Bus
	httpServer *http.Server
}

func NewServer(cfg config.APIConfig, backfills BackfillService, mon MonitoringService, sched SchedulerStatus, bus *eventbus.Bus) *Server {
	return &Server{
		cfg:        cfg,
		backfills:  backfills,
		monitoring: mon,
		scheduler:  sched,
		bus:        bus,
	}
}

// Router builds the route table. Split out so tests can drive handlers
// without a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	limiter := newIPRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst)
	r.Use(limiter.middleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")

	r.HandleFunc("/api/backfills", s.handleListBackfills).Methods("GET")
	r.HandleFunc("/api/backfills", s.handleStartBackfill).Methods("POST")
	r.HandleFunc("/api/backfills/{id:[0-9]+}", s.handleGetBackfill).Methods("GET")
	r.HandleFunc("/api/backfills/{id:[0-9]+}/resume", s.handleResumeBackfill).Methods("POST")
	r.HandleFunc("/api/coverage", s.handleCoverage).Methods("GET")

	r.HandleFunc("/api/monitoring/health", s.handleMonitoringHealth).Methods("GET")
	r.HandleFunc("/api/monitoring/anomalies", s.handleAnomalies).Methods("GET")
	r.HandleFunc("/api/monitoring/performance", s.handlePerformance).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/ws", s.handleWebsocket)
	return r
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[api] listening on %s", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"scheduler_running": s.scheduler.Running(),
		"scheduler_jobs":    s.scheduler.State(),
	}
	active, err := s.backfills.ListActiveBackfills(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	status["active_backfills"] = len(active)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListBackfills(w http.ResponseWriter, r *http.Request) {
	active, err := s.backfills.ListActiveBackfills(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

type startBackfillRequest struct {
	AreaCode      string `json:"area_code"`
	Endpoint      string `json:"endpoint"`
	Start         string `json:"period_start"`
	End           string `json:"period_end"`
	ChunkSizeDays int    `json:"chunk_size_days"` // optional, 0 keeps the configured default
}

func (s *Server) handleStartBackfill(w http.ResponseWriter, r *http.Request) {
	var req startBackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "period_start must be RFC3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "period_end must be RFC3339"})
		return
	}

	result, err := s.backfills.StartBackfill(r.Context(), req.AreaCode, collector.Endpoint(req.Endpoint), start, end, req.ChunkSizeDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetBackfill(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	prog, err := s.backfills.GetBackfillStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handleResumeBackfill(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	result, err := s.backfills.ResumeBackfill(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	yearsBack := 0
	if v := r.URL.Query().Get("years"); v != "" {
		yearsBack, _ = strconv.Atoi(v)
	}
	var areas []string
	if v := r.URL.Query().Get("area"); v != "" {
		areas = []string{v}
	}
	var endpoints []collector.Endpoint
	if v := r.URL.Query().Get("endpoint"); v != "" {
		endpoints = []collector.Endpoint{collector.Endpoint(v)}
	}

	analyses, err := s.backfills.AnalyzeCoverage(r.Context(), areas, endpoints, yearsBack)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analyses)
}

func (s *Server) handleMonitoringHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.monitoring.GetSystemHealthSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if v := r.URL.Query().Get("hours"); v != "" {
		if h, err := strconv.Atoi(v); err == nil && h > 0 {
			window = time.Duration(h) * time.Hour
		}
	}
	anomalies, err := s.monitoring.DetectAnomalies(r.Context(), window)
	if err != nil {
		writeError(w, err)
		return
	}
	if anomalies == nil {
		anomalies = []monitoring.Anomaly{}
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	report, err := s.monitoring.GetPerformanceMetrics(r.Context(), 24*time.Hour)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

// writeError maps the typed engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		progErr *backfill.ProgressError
		resErr  *backfill.ResourceError
	)
	switch {
	case errors.As(err, &progErr):
		status := http.StatusConflict
		if progErr.Reason == "not found" {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": progErr.Error()})
	case errors.As(err, &resErr):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": resErr.Error()})
	default:
		log.Printf("[api] internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
