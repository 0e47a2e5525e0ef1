package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/incident-risk/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	dateLayout = "2006-01-02"
	// insertChunk bounds rows per multi-row INSERT, well under SQLite's bind-variable limit.
	insertChunk = 500
)

// ErrNoRuns is returned by LatestRun on an empty store.
var ErrNoRuns = errors.New("no runs recorded")

// Store persists run reports with sqlx over SQLite or PostgreSQL.
// It implements pipeline.ReportSink.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects with the given driver ("sqlite" or "postgres") and verifies the connection.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// A single connection keeps ":memory:" databases shared and serialises writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return New(db, logger), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name identifies the sink in logs and metrics.
func (s *Store) Name() string { return "database" }

type runRow struct {
	RunID       string  `db:"run_id"`
	GeneratedAt string  `db:"generated_at"`
	Threshold   float64 `db:"threshold"`
}

type modelInfoRow struct {
	RunID     string  `db:"run_id"`
	Accuracy  float64 `db:"accuracy"`
	Precision float64 `db:"precision_score"`
	Recall    float64 `db:"recall"`
	F1        float64 `db:"f1"`
	ROCAUC    float64 `db:"roc_auc"`
	PRAUC     float64 `db:"pr_auc"`
}

type confusionRow struct {
	RunID          string `db:"run_id"`
	TrueLabel      int    `db:"true_label"`
	PredictedLabel int    `db:"predicted_label"`
	Count          int    `db:"count"`
}

type importanceRow struct {
	RunID      string  `db:"run_id"`
	Rank       int     `db:"rank"`
	Feature    string  `db:"feature"`
	Importance float64 `db:"importance"`
}

type testPredictionRow struct {
	RunID           string  `db:"run_id"`
	RowIndex        int     `db:"row_index"`
	Date            string  `db:"date"`
	LatGrid         float64 `db:"lat_grid"`
	LonGrid         float64 `db:"lon_grid"`
	Hour            int     `db:"hour"`
	Month           int     `db:"month"`
	Weekday         int     `db:"weekday"`
	Cluster         int     `db:"cluster"`
	RollingSelf     int     `db:"rolling_self_count"`
	RollingNeighbor int     `db:"rolling_neighbor_count"`
	TrueLabel       int     `db:"true_label"`
	Probability     float64 `db:"probability"`
	PredictedLabel  int     `db:"predicted_label"`
}

type forecastRow struct {
	RunID       string  `db:"run_id"`
	LatBin      int     `db:"lat_bin"`
	LonBin      int     `db:"lon_bin"`
	Date        string  `db:"date"`
	LatGrid     float64 `db:"lat_grid"`
	LonGrid     float64 `db:"lon_grid"`
	Hour        int     `db:"hour"`
	Month       int     `db:"month"`
	Weekday     int     `db:"weekday"`
	Probability float64 `db:"probability"`
}

const (
	insertRun = `INSERT INTO runs (run_id, generated_at, threshold)
		VALUES (:run_id, :generated_at, :threshold)`
	insertModelInfo = `INSERT INTO model_info (run_id, accuracy, precision_score, recall, f1, roc_auc, pr_auc)
		VALUES (:run_id, :accuracy, :precision_score, :recall, :f1, :roc_auc, :pr_auc)`
	insertConfusion = `INSERT INTO confusion_matrix (run_id, true_label, predicted_label, count)
		VALUES (:run_id, :true_label, :predicted_label, :count)`
	insertImportance = `INSERT INTO feature_importances (run_id, rank, feature, importance)
		VALUES (:run_id, :rank, :feature, :importance)`
	insertTestPrediction = `INSERT INTO test_predictions (run_id, row_index, date, lat_grid, lon_grid, hour, month,
		weekday, cluster, rolling_self_count, rolling_neighbor_count, true_label, probability, predicted_label)
		VALUES (:run_id, :row_index, :date, :lat_grid, :lon_grid, :hour, :month,
		:weekday, :cluster, :rolling_self_count, :rolling_neighbor_count, :true_label, :probability, :predicted_label)`
	insertForecast = `INSERT INTO forecasts (run_id, lat_bin, lon_bin, date, lat_grid, lon_grid, hour, month, weekday, probability)
		VALUES (:run_id, :lat_bin, :lon_bin, :date, :lat_grid, :lon_grid, :hour, :month, :weekday, :probability)`
)

// WriteReport stores every table of a report in one transaction.
func (s *Store) WriteReport(ctx context.Context, r *domain.Report) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin report tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run := runRow{RunID: r.RunID, GeneratedAt: r.GeneratedAt.UTC().Format(time.RFC3339), Threshold: r.Threshold}
	if _, err := tx.NamedExecContext(ctx, insertRun, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	info := modelInfoRow{
		RunID:     r.RunID,
		Accuracy:  r.Info.Accuracy,
		Precision: r.Info.Precision,
		Recall:    r.Info.Recall,
		F1:        r.Info.F1,
		ROCAUC:    r.Info.ROCAUC,
		PRAUC:     r.Info.PRAUC,
	}
	if _, err := tx.NamedExecContext(ctx, insertModelInfo, info); err != nil {
		return fmt.Errorf("insert model info: %w", err)
	}

	cm := make([]confusionRow, 0, 4)
	for t := range 2 {
		for p := range 2 {
			cm = append(cm, confusionRow{RunID: r.RunID, TrueLabel: t, PredictedLabel: p, Count: r.Confusion[t][p]})
		}
	}
	if err := insertAll(ctx, tx, insertConfusion, cm); err != nil {
		return fmt.Errorf("insert confusion matrix: %w", err)
	}

	imps := make([]importanceRow, len(r.Importances))
	for i, fi := range r.Importances {
		imps[i] = importanceRow{RunID: r.RunID, Rank: i + 1, Feature: fi.Feature, Importance: fi.Importance}
	}
	if err := insertAll(ctx, tx, insertImportance, imps); err != nil {
		return fmt.Errorf("insert feature importances: %w", err)
	}

	preds := make([]testPredictionRow, len(r.Predictions))
	for i, p := range r.Predictions {
		preds[i] = testPredictionRow{
			RunID: r.RunID, RowIndex: i, Date: p.Date.Format(dateLayout),
			LatGrid: p.LatGrid, LonGrid: p.LonGrid, Hour: p.Hour, Month: p.Month, Weekday: p.Weekday,
			Cluster: p.Cluster, RollingSelf: p.RollingSelf, RollingNeighbor: p.RollingNeighbor,
			TrueLabel: p.TrueLabel, Probability: p.Probability, PredictedLabel: p.PredictedLabel,
		}
	}
	if err := insertAll(ctx, tx, insertTestPrediction, preds); err != nil {
		return fmt.Errorf("insert test predictions: %w", err)
	}

	fc := make([]forecastRow, len(r.Forecast))
	for i, f := range r.Forecast {
		fc[i] = forecastRow{
			RunID: r.RunID, LatBin: f.Cell.LatBin, LonBin: f.Cell.LonBin, Date: f.Date.Format(dateLayout),
			LatGrid: f.LatGrid, LonGrid: f.LonGrid, Hour: f.Hour, Month: f.Month, Weekday: f.Weekday,
			Probability: f.Probability,
		}
	}
	if err := insertAll(ctx, tx, insertForecast, fc); err != nil {
		return fmt.Errorf("insert forecasts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report: %w", err)
	}
	s.logger.Info("report stored",
		"run_id", r.RunID,
		"test_predictions", len(preds),
		"forecasts", len(fc),
	)
	return nil
}

// insertAll runs a named multi-row INSERT over rows in fixed-size chunks.
func insertAll[T any](ctx context.Context, tx *sqlx.Tx, query string, rows []T) error {
	for start := 0; start < len(rows); start += insertChunk {
		end := min(start+insertChunk, len(rows))
		if _, err := tx.NamedExecContext(ctx, query, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// RunSummary is a stored run with its evaluation metrics.
type RunSummary struct {
	RunID       string           `json:"run_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Threshold   float64          `json:"threshold"`
	Info        domain.ModelInfo `json:"model_info"`
}

type runSummaryRow struct {
	runRow
	Accuracy  float64 `db:"accuracy"`
	Precision float64 `db:"precision_score"`
	Recall    float64 `db:"recall"`
	F1        float64 `db:"f1"`
	ROCAUC    float64 `db:"roc_auc"`
	PRAUC     float64 `db:"pr_auc"`
}

// LatestRun returns the most recently generated run.
func (s *Store) LatestRun(ctx context.Context) (RunSummary, error) {
	var row runSummaryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT r.run_id, r.generated_at, r.threshold,
			m.accuracy, m.precision_score, m.recall, m.f1, m.roc_auc, m.pr_auc
		FROM runs r JOIN model_info m ON m.run_id = r.run_id
		ORDER BY r.generated_at DESC, r.run_id DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, ErrNoRuns
	}
	if err != nil {
		return RunSummary{}, fmt.Errorf("query latest run: %w", err)
	}

	generatedAt, err := time.Parse(time.RFC3339, row.GeneratedAt)
	if err != nil {
		return RunSummary{}, fmt.Errorf("parse generated_at %q: %w", row.GeneratedAt, err)
	}
	return RunSummary{
		RunID:       row.RunID,
		GeneratedAt: generatedAt,
		Threshold:   row.Threshold,
		Info: domain.ModelInfo{
			Accuracy:  row.Accuracy,
			Precision: row.Precision,
			Recall:    row.Recall,
			F1:        row.F1,
			ROCAUC:    row.ROCAUC,
			PRAUC:     row.PRAUC,
		},
	}, nil
}

// Forecast returns a run's forecast rows ordered by date, then cell.
func (s *Store) Forecast(ctx context.Context, runID string) ([]domain.ForecastRow, error) {
	var rows []forecastRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT run_id, lat_bin, lon_bin, date, lat_grid, lon_grid, hour, month, weekday, probability
		FROM forecasts WHERE run_id = ?
		ORDER BY date, lat_bin, lon_bin`), runID)
	if err != nil {
		return nil, fmt.Errorf("query forecast: %w", err)
	}

	out := make([]domain.ForecastRow, len(rows))
	for i, r := range rows {
		date, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("parse forecast date %q: %w", r.Date, err)
		}
		out[i] = domain.ForecastRow{
			Cell:        domain.Cell{LatBin: r.LatBin, LonBin: r.LonBin},
			LatGrid:     r.LatGrid,
			LonGrid:     r.LonGrid,
			Date:        date,
			Hour:        r.Hour,
			Month:       r.Month,
			Weekday:     r.Weekday,
			Probability: r.Probability,
		}
	}
	return out, nil
}

// ConfusionMatrix returns a run's stored confusion matrix.
func (s *Store) ConfusionMatrix(ctx context.Context, runID string) (domain.ConfusionMatrix, error) {
	var rows []confusionRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT run_id, true_label, predicted_label, count FROM confusion_matrix WHERE run_id = ?`), runID)
	if err != nil {
		return domain.ConfusionMatrix{}, fmt.Errorf("query confusion matrix: %w", err)
	}
	var cm domain.ConfusionMatrix
	for _, r := range rows {
		cm[r.TrueLabel][r.PredictedLabel] = r.Count
	}
	return cm, nil
}
