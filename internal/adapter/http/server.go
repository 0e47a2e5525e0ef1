package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/incident-risk/internal/adapter/sqlstore"
	"github.com/couchcryptid/incident-risk/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReportProvider exposes the most recent completed report.
type ReportProvider interface {
	LatestReport() (*domain.Report, bool)
}

// RunStore reads persisted runs. Optional: /runs/latest is only routed when set, and
// /forecast falls back to the latest stored run while no report is held in memory.
type RunStore interface {
	LatestRun(ctx context.Context) (sqlstore.RunSummary, error)
	Forecast(ctx context.Context, runID string) ([]domain.ForecastRow, error)
	ConfusionMatrix(ctx context.Context, runID string) (domain.ConfusionMatrix, error)
}

// Server exposes health, readiness, metrics and forecast HTTP endpoints.
type Server struct {
	httpServer *http.Server
	reports    ReportProvider
	runs       RunStore
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and /forecast routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, reports ReportProvider, runs RunStore, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		reports: reports,
		runs:    runs,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /forecast", s.handleForecast)
	if runs != nil {
		mux.HandleFunc("GET /runs/latest", s.handleLatestRun)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type forecastResponse struct {
	RunID       string               `json:"run_id"`
	GeneratedAt time.Time            `json:"generated_at"`
	Threshold   float64              `json:"threshold"`
	Rows        []domain.ForecastRow `json:"rows"`
}

// handleForecast serves the latest forecast. Optional filters:
// date=YYYY-MM-DD and min_probability=<float>.
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var date time.Time
	if v := q.Get("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date, want YYYY-MM-DD"})
			return
		}
		date = d
	}
	minProb := 0.0
	if v := q.Get("min_probability"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid min_probability"})
			return
		}
		minProb = p
	}

	latest, ok, err := s.latestForecast(r.Context())
	if err != nil {
		s.logger.Error("stored forecast query failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !ok {
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no forecast available yet"})
		return
	}

	rows := make([]domain.ForecastRow, 0, len(latest.Rows))
	for _, row := range latest.Rows {
		if !date.IsZero() && !row.Date.Equal(date) {
			continue
		}
		if row.Probability < minProb {
			continue
		}
		rows = append(rows, row)
	}
	latest.Rows = rows
	sharedobs.WriteJSON(w, http.StatusOK, latest)
}

// latestForecast prefers the in-memory report and falls back to the newest stored run.
func (s *Server) latestForecast(ctx context.Context) (forecastResponse, bool, error) {
	if report, ok := s.reports.LatestReport(); ok {
		return forecastResponse{
			RunID:       report.RunID,
			GeneratedAt: report.GeneratedAt,
			Threshold:   report.Threshold,
			Rows:        report.Forecast,
		}, true, nil
	}
	if s.runs == nil {
		return forecastResponse{}, false, nil
	}
	run, err := s.runs.LatestRun(ctx)
	if errors.Is(err, sqlstore.ErrNoRuns) {
		return forecastResponse{}, false, nil
	}
	if err != nil {
		return forecastResponse{}, false, err
	}
	rows, err := s.runs.Forecast(ctx, run.RunID)
	if err != nil {
		return forecastResponse{}, false, err
	}
	return forecastResponse{
		RunID:       run.RunID,
		GeneratedAt: run.GeneratedAt,
		Threshold:   run.Threshold,
		Rows:        rows,
	}, true, nil
}

type latestRunResponse struct {
	sqlstore.RunSummary
	ConfusionMatrix domain.ConfusionMatrix `json:"confusion_matrix"`
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.LatestRun(r.Context())
	if errors.Is(err, sqlstore.ErrNoRuns) {
		sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("latest run query failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	cm, err := s.runs.ConfusionMatrix(r.Context(), run.RunID)
	if err != nil {
		s.logger.Error("confusion matrix query failed", "run_id", run.RunID, "error", err)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, latestRunResponse{RunSummary: run, ConfusionMatrix: cm})
}
