package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sachet/internal/agent"
	"sachet/internal/config"
	"sachet/internal/connectivity"
	"sachet/internal/export"
	"sachet/internal/metrics"
	"sachet/internal/models"
	"sachet/internal/queue"
	"sachet/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the queue surface consumed by dashboard frontends:
// save, list, manual sync, status, and the diagnostics export.
type HTTPServer struct {
	cfg    config.APIConfig
	queue  *queue.Manager
	agent  *agent.Agent
	conn   connectivity.Observer
	server *http.Server
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, prometheusEnabled bool, q *queue.Manager, a *agent.Agent, conn connectivity.Observer, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, queue: q, agent: a, conn: conn, logger: logger}

	mux.HandleFunc("/api/v1/reports", srv.handleReports)
	mux.HandleFunc("/api/v1/reports/pending", srv.handlePending)
	mux.HandleFunc("/api/v1/reports/export", srv.handleExport)
	mux.HandleFunc("/api/v1/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/status", srv.handleStatus)
	mux.HandleFunc("/healthz", srv.handleHealth)
	if prometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	handler := requestIDMiddleware(srv.loggingMiddleware(newAuth(cfg).wrap(newRateLimiter(&cfg).wrap(mux))))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleReports(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reports")
	switch r.Method {
	case http.MethodPost:
		s.handleSaveReport(w, r)
	case http.MethodGet:
		reports, err := s.queue.GetAllReports(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list reports")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reports": emptyIfNil(reports)})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleSaveReport(w http.ResponseWriter, r *http.Request) {
	var payload models.ReportPayload
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if payload.HazardType == "" || payload.Description == "" {
		writeError(w, http.StatusBadRequest, "hazard_type and description are required")
		return
	}
	if payload.Latitude < -90 || payload.Latitude > 90 || payload.Longitude < -180 || payload.Longitude > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	id, err := s.queue.SaveReport(r.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrStorageUnavailable):
			writeError(w, http.StatusServiceUnavailable, "local storage unavailable")
		case errors.Is(err, store.ErrWriteFailed):
			writeError(w, http.StatusServiceUnavailable, "report was not saved, please retry")
		default:
			writeError(w, http.StatusInternalServerError, "failed to save report")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "sync_status": models.StatusPending})
}

func (s *HTTPServer) handlePending(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reports_pending")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	reports, err := s.queue.GetPendingReports(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pending reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": emptyIfNil(reports)})
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.agent.SyncNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sync pass failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("status")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	count, err := s.queue.PendingCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue depth")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"online":        s.conn.Online(),
		"pending_count": count,
	})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reports_export")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	reports, err := s.queue.GetAllReports(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}

	filename := fmt.Sprintf("hazard-reports-%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := export.WriteExcel(w, reports); err != nil {
		s.logger.Error().Err(err).Msg("export failed")
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func emptyIfNil(reports []models.HazardReport) []models.HazardReport {
	if reports == nil {
		return []models.HazardReport{}
	}
	return reports
}
