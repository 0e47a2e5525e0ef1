package influx

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/couchcryptid/incident-risk/internal/config"
	"github.com/couchcryptid/incident-risk/internal/domain"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const measurement = "incident_risk_forecast"

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Writer stores forecast probabilities in InfluxDB v2, one point per cell-day
// timestamped at the forecast date. It implements pipeline.ReportSink.
type Writer struct {
	client   influxdb2.Client
	writeAPI pointWriter
	logger   *slog.Logger
}

// NewWriter creates an InfluxDB client for the configured org and bucket.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &Writer{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		logger:   logger,
	}
}

// Ping verifies the server is reachable.
func (w *Writer) Ping(ctx context.Context) error {
	ok, err := w.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping influxdb: %w", err)
	}
	if !ok {
		return fmt.Errorf("ping influxdb: server not ready")
	}
	return nil
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "influx" }

// WriteReport writes the report's forecast rows as points.
func (w *Writer) WriteReport(ctx context.Context, r *domain.Report) error {
	if len(r.Forecast) == 0 {
		return nil
	}
	points := make([]*write.Point, len(r.Forecast))
	for i, row := range r.Forecast {
		points[i] = forecastPoint(r.RunID, row)
	}
	if err := w.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write forecast points: %w", err)
	}
	w.logger.Info("forecast points written", "run_id", r.RunID, "points", len(points))
	return nil
}

// Close releases the client's resources.
func (w *Writer) Close() error {
	w.client.Close()
	return nil
}

func forecastPoint(runID string, row domain.ForecastRow) *write.Point {
	return write.NewPoint(
		measurement,
		map[string]string{
			"lat_bin": strconv.Itoa(row.Cell.LatBin),
			"lon_bin": strconv.Itoa(row.Cell.LonBin),
			"run_id":  runID,
		},
		map[string]interface{}{
			"probability": row.Probability,
			"lat_grid":    row.LatGrid,
			"lon_grid":    row.LonGrid,
			"hour":        row.Hour,
			"weekday":     row.Weekday,
		},
		row.Date,
	)
}
