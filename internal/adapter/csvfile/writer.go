package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/incident-risk/internal/domain"
)

// Report artifact file names.
const (
	ModelInfoFile       = "model_info.csv"
	ConfusionMatrixFile = "confusion_matrix.csv"
	ImportanceFile      = "feature_importance.csv"
	TestPredictionsFile = "test_predictions.csv"
	ForecastFile        = "forecast.csv"
)

const dateLayout = "2006-01-02"

// Writer writes a run report as CSV files into a directory. Files carry a UTF-8
// byte-order mark so spreadsheet tools detect the encoding of Chinese labels.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a Writer targeting dir, which is created on first write.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "csv" }

// WriteReport writes all report tables, replacing any previous run's files.
func (w *Writer) WriteReport(ctx context.Context, r *domain.Report) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tables := []struct {
		file string
		rows [][]string
	}{
		{ModelInfoFile, modelInfoRows(r)},
		{ConfusionMatrixFile, confusionRows(r.Confusion)},
		{ImportanceFile, importanceRows(r.Importances)},
		{TestPredictionsFile, testPredictionRows(r.Predictions)},
		{ForecastFile, forecastRows(r.Forecast)},
	}
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.writeFile(t.file, t.rows); err != nil {
			return err
		}
	}
	w.logger.Info("report written", "dir", w.dir, "run_id", r.RunID, "forecast_rows", len(r.Forecast))
	return nil
}

func (w *Writer) writeFile(name string, rows [][]string) error {
	path := filepath.Join(w.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := f.WriteString(utf8BOM); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	cw := csv.NewWriter(f)
	if err := cw.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return f.Close()
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func modelInfoRows(r *domain.Report) [][]string {
	i := r.Info
	return [][]string{
		{"run_id", "accuracy", "precision", "recall", "f1", "roc_auc", "pr_auc", "threshold"},
		{r.RunID, ftoa(i.Accuracy), ftoa(i.Precision), ftoa(i.Recall), ftoa(i.F1), ftoa(i.ROCAUC), ftoa(i.PRAUC), ftoa(r.Threshold)},
	}
}

func confusionRows(cm domain.ConfusionMatrix) [][]string {
	return [][]string{
		{"", "pred_0", "pred_1"},
		{"true_0", strconv.Itoa(cm[0][0]), strconv.Itoa(cm[0][1])},
		{"true_1", strconv.Itoa(cm[1][0]), strconv.Itoa(cm[1][1])},
	}
}

func importanceRows(imps []domain.FeatureImportance) [][]string {
	rows := [][]string{{"feature", "importance"}}
	for _, fi := range imps {
		rows = append(rows, []string{fi.Feature, ftoa(fi.Importance)})
	}
	return rows
}

func testPredictionRows(preds []domain.TestPrediction) [][]string {
	rows := [][]string{{
		"date", "lat_grid", "lon_grid", "hour", "month", "weekday", "cluster",
		"rolling_self_count", "rolling_neighbor_count", "true_label", "probability", "predicted_label",
	}}
	for _, p := range preds {
		rows = append(rows, []string{
			p.Date.Format(dateLayout), ftoa(p.LatGrid), ftoa(p.LonGrid),
			strconv.Itoa(p.Hour), strconv.Itoa(p.Month), strconv.Itoa(p.Weekday), strconv.Itoa(p.Cluster),
			strconv.Itoa(p.RollingSelf), strconv.Itoa(p.RollingNeighbor),
			strconv.Itoa(p.TrueLabel), ftoa(p.Probability), strconv.Itoa(p.PredictedLabel),
		})
	}
	return rows
}

func forecastRows(fc []domain.ForecastRow) [][]string {
	rows := [][]string{{"date", "lat_grid", "lon_grid", "hour", "month", "weekday", "probability"}}
	for _, f := range fc {
		rows = append(rows, []string{
			f.Date.Format(dateLayout), ftoa(f.LatGrid), ftoa(f.LonGrid),
			strconv.Itoa(f.Hour), strconv.Itoa(f.Month), strconv.Itoa(f.Weekday), ftoa(f.Probability),
		})
	}
	return rows
}
