package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/couchcryptid/incident-risk/internal/adapter/http"
	"github.com/couchcryptid/incident-risk/internal/adapter/sqlstore"
	"github.com/couchcryptid/incident-risk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockReports struct {
	report *domain.Report
}

func (m *mockReports) LatestReport() (*domain.Report, bool) { return m.report, m.report != nil }

type mockRuns struct {
	run         sqlstore.RunSummary
	err         error
	forecast    []domain.ForecastRow
	forecastErr error
	confusion   domain.ConfusionMatrix
	queriedRun  string
}

func (m *mockRuns) LatestRun(_ context.Context) (sqlstore.RunSummary, error) { return m.run, m.err }

func (m *mockRuns) Forecast(_ context.Context, runID string) ([]domain.ForecastRow, error) {
	m.queriedRun = runID
	return m.forecast, m.forecastErr
}

func (m *mockRuns) ConfusionMatrix(_ context.Context, _ string) (domain.ConfusionMatrix, error) {
	return m.confusion, nil
}

func sampleReport() *domain.Report {
	d1 := time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	return &domain.Report{
		RunID:       "run-1",
		GeneratedAt: time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC),
		Threshold:   0.12,
		Forecast: []domain.ForecastRow{
			{Cell: domain.Cell{LatBin: 1, LonBin: 1}, Date: d1, Hour: 12, Probability: 0.05},
			{Cell: domain.Cell{LatBin: 1, LonBin: 2}, Date: d1, Hour: 12, Probability: 0.4},
			{Cell: domain.Cell{LatBin: 1, LonBin: 1}, Date: d2, Hour: 12, Probability: 0.3},
		},
	}
}

func newTestServer(readyErr error, report *domain.Report, runs httpadapter.RunStore) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, &mockReports{report: report}, runs, slog.Default())
}

func get(srv *httpadapter.Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(newTestServer(nil, nil, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(newTestServer(nil, nil, nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(newTestServer(fmt.Errorf("no report yet"), nil, nil), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(newTestServer(nil, nil, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestForecastReturns503BeforeFirstRun(t *testing.T) {
	rec := get(newTestServer(nil, nil, nil), "/forecast")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type forecastBody struct {
	RunID string `json:"run_id"`
	Rows  []struct {
		Date        time.Time `json:"date"`
		Probability float64   `json:"probability"`
	} `json:"rows"`
}

func decodeForecast(t *testing.T, rec *httptest.ResponseRecorder) forecastBody {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body forecastBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestForecastReturnsLatestRows(t *testing.T) {
	body := decodeForecast(t, get(newTestServer(nil, sampleReport(), nil), "/forecast"))
	assert.Equal(t, "run-1", body.RunID)
	assert.Len(t, body.Rows, 3)
}

func TestForecastFilters(t *testing.T) {
	srv := newTestServer(nil, sampleReport(), nil)

	byDate := decodeForecast(t, get(srv, "/forecast?date=2024-07-02"))
	assert.Len(t, byDate.Rows, 2)

	byProb := decodeForecast(t, get(srv, "/forecast?min_probability=0.25"))
	assert.Len(t, byProb.Rows, 2)

	both := decodeForecast(t, get(srv, "/forecast?date=2024-07-02&min_probability=0.25"))
	require.Len(t, both.Rows, 1)
	assert.InDelta(t, 0.4, both.Rows[0].Probability, 1e-12)
}

func TestForecastRejectsBadFilters(t *testing.T) {
	srv := newTestServer(nil, sampleReport(), nil)
	assert.Equal(t, http.StatusBadRequest, get(srv, "/forecast?date=July").Code)
	assert.Equal(t, http.StatusBadRequest, get(srv, "/forecast?min_probability=high").Code)
}

func TestLatestRun(t *testing.T) {
	runs := &mockRuns{
		run:       sqlstore.RunSummary{RunID: "run-9", Info: domain.ModelInfo{ROCAUC: 0.8}},
		confusion: domain.ConfusionMatrix{{50, 3}, {2, 7}},
	}
	rec := get(newTestServer(nil, nil, runs), "/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		sqlstore.RunSummary
		ConfusionMatrix domain.ConfusionMatrix `json:"confusion_matrix"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-9", body.RunID)
	assert.InDelta(t, 0.8, body.Info.ROCAUC, 1e-12)
	assert.Equal(t, domain.ConfusionMatrix{{50, 3}, {2, 7}}, body.ConfusionMatrix)
}

func TestForecastFallsBackToStoredRun(t *testing.T) {
	stored := sampleReport().Forecast
	runs := &mockRuns{run: sqlstore.RunSummary{RunID: "run-7", Threshold: 0.12}, forecast: stored}
	srv := newTestServer(nil, nil, runs)

	body := decodeForecast(t, get(srv, "/forecast?min_probability=0.25"))
	assert.Equal(t, "run-7", body.RunID)
	assert.Equal(t, "run-7", runs.queriedRun)
	assert.Len(t, body.Rows, 2)
}

func TestForecastPrefersInMemoryReport(t *testing.T) {
	runs := &mockRuns{run: sqlstore.RunSummary{RunID: "run-old"}}
	body := decodeForecast(t, get(newTestServer(nil, sampleReport(), runs), "/forecast"))
	assert.Equal(t, "run-1", body.RunID)
	assert.Empty(t, runs.queriedRun)
}

func TestForecastStoredRunStatuses(t *testing.T) {
	empty := &mockRuns{err: sqlstore.ErrNoRuns}
	assert.Equal(t, http.StatusServiceUnavailable, get(newTestServer(nil, nil, empty), "/forecast").Code)

	broken := &mockRuns{run: sqlstore.RunSummary{RunID: "run-7"}, forecastErr: errors.New("db gone")}
	assert.Equal(t, http.StatusInternalServerError, get(newTestServer(nil, nil, broken), "/forecast").Code)
}

func TestLatestRunStatuses(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, get(newTestServer(nil, nil, &mockRuns{err: sqlstore.ErrNoRuns}), "/runs/latest").Code)
	assert.Equal(t, http.StatusInternalServerError, get(newTestServer(nil, nil, &mockRuns{err: errors.New("db gone")}), "/runs/latest").Code)
	assert.Equal(t, http.StatusNotFound, get(newTestServer(nil, nil, nil), "/runs/latest").Code, "route absent without a store")
}
