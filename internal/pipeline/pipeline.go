package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/incident-risk/internal/config"
	"github.com/couchcryptid/incident-risk/internal/domain"
	"github.com/couchcryptid/incident-risk/internal/model"
	"github.com/couchcryptid/incident-risk/internal/observability"
	"github.com/google/uuid"
)

// IncidentSource loads the raw incident table.
type IncidentSource interface {
	Load(ctx context.Context) ([]domain.Incident, error)
}

// ReportSink persists or publishes a finished report.
type ReportSink interface {
	Name() string
	WriteReport(ctx context.Context, r *domain.Report) error
}

// Options configures one pipeline.
type Options struct {
	Model          config.ModelConfig
	City           string
	GeocodeWorkers int
}

// Pipeline runs the batch job: load, clean, geocode, aggregate, build features,
// assemble the dataset, train, forecast, then hand the report to every sink.
type Pipeline struct {
	source   IncidentSource
	geocoder domain.Geocoder
	sinks    []ReportSink
	opts     Options
	logger   *slog.Logger
	metrics  *observability.Metrics

	latest atomic.Pointer[domain.Report]
}

// New creates a Pipeline. Pass a nil geocoder to drop incidents without coordinates.
func New(source IncidentSource, geocoder domain.Geocoder, sinks []ReportSink, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		source:   source,
		geocoder: geocoder,
		sinks:    sinks,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once a run has produced a report.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if p.latest.Load() == nil {
		return errors.New("no report produced yet")
	}
	return nil
}

// LatestReport returns the report of the last successful run.
func (p *Pipeline) LatestReport() (*domain.Report, bool) {
	r := p.latest.Load()
	return r, r != nil
}

// Run executes one full batch. Fatal stage errors abort the run and wrap the domain
// sentinel. Sink failures do not abort: every sink is attempted, the report is still
// returned, and the failures are joined into the error.
func (p *Pipeline) Run(ctx context.Context) (*domain.Report, error) {
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	logger.Info("pipeline started")
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	report, err := p.run(ctx, runID, logger)
	if err != nil {
		p.metrics.RunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	p.latest.Store(report)

	if err := p.writeSinks(ctx, report, logger); err != nil {
		p.metrics.RunsTotal.WithLabelValues("error").Inc()
		return report, err
	}
	p.metrics.RunsTotal.WithLabelValues("success").Inc()
	logger.Info("pipeline finished",
		"roc_auc", report.Info.ROCAUC,
		"pr_auc", report.Info.PRAUC,
		"forecast_rows", len(report.Forecast),
	)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, runID string, logger *slog.Logger) (*domain.Report, error) {
	mc := p.opts.Model
	grid, err := domain.NewGrid(mc.Grid.CellSize, mc.Grid.NeighborRadius)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}
	logger.Debug("grid configured", "cell_size", grid.CellSize(), "neighbor_steps", grid.Radius())

	var incidents []domain.Incident
	err = p.stage(ctx, "load", func() error {
		incidents, err = p.source.Load(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.IncidentsLoaded.Add(float64(len(incidents)))

	err = p.stage(ctx, "clean", func() error {
		incidents, err = p.clean(ctx, incidents, logger)
		return err
	})
	if err != nil {
		return nil, err
	}

	var counts *domain.GridDayCounts
	err = p.stage(ctx, "aggregate", func() error {
		counts, err = domain.Aggregate(incidents, grid)
		return err
	})
	if err != nil {
		return nil, err
	}

	var table *domain.FeatureTable
	err = p.stage(ctx, "features", func() error {
		table, err = domain.FeatureBuilder{
			Window:  mc.Features.Window,
			Warmup:  mc.Features.Warmup,
			Workers: mc.Features.Workers,
		}.Build(ctx, counts, grid)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.FeatureRows.Set(float64(len(table.Rows)))
	logger.Info("feature rows built",
		"rows", len(table.Rows),
		"cells", len(table.Cells),
		"dates", len(table.Dates),
	)

	var ds *domain.Dataset
	err = p.stage(ctx, "assemble", func() error {
		ds, err = domain.Assembler{
			KeywordCount:   mc.Features.KeywordCount,
			KeywordPattern: mc.Features.KeywordPattern,
			Clusters:       mc.Features.Clusters,
			Seed:           mc.Training.Seed,
			Logger:         logger,
		}.Assemble(incidents, table, grid)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.TrainingExamples.Set(float64(len(ds.X)))
	p.metrics.SparseJoinGaps.Add(float64(ds.SparseJoinGaps))

	var result *model.TrainResult
	err = p.stage(ctx, "train", func() error {
		result, err = model.NewTrainer(trainParams(mc), logger).Train(ctx, ds)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.recordModelMetrics(result.Evaluation.Info)

	var forecast []domain.ForecastRow
	err = p.stage(ctx, "forecast", func() error {
		forecast, err = domain.Forecaster{
			Horizon: mc.Forecast.Horizon,
			Hour:    mc.Forecast.Hour,
		}.Forecast(ds, table.Cells, grid, result.Model)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.ForecastRows.Set(float64(len(forecast)))

	return buildReport(runID, ds, result, forecast), nil
}

// stage times fn and wraps its error with the stage name.
func (p *Pipeline) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	start := time.Now()
	err := fn()
	p.metrics.RunDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// clean drops false alarms, geocodes address-only rows and validates coordinates.
func (p *Pipeline) clean(ctx context.Context, incidents []domain.Incident, logger *slog.Logger) ([]domain.Incident, error) {
	kept := make([]domain.Incident, 0, len(incidents))
	falseAlarms := 0
	for _, inc := range incidents {
		if domain.IsFalseAlarm(inc.Address) {
			falseAlarms++
			continue
		}
		kept = append(kept, inc)
	}
	if falseAlarms > 0 {
		p.metrics.IncidentsDropped.WithLabelValues("false_alarm").Add(float64(falseAlarms))
		logger.Info("false alarms dropped", "count", falseAlarms)
	}

	kept, stats, err := domain.ResolveCoordinates(ctx, kept, p.geocoder, p.opts.City, p.opts.GeocodeWorkers, logger)
	if err != nil {
		return nil, err
	}
	p.metrics.IncidentsDropped.WithLabelValues("geocode_failed").Add(float64(stats.Failed))
	p.metrics.IncidentsDropped.WithLabelValues("missing_coordinates").Add(float64(stats.Missing))
	if stats.Resolved > 0 || stats.Failed > 0 {
		logger.Info("geocoding finished", "resolved", stats.Resolved, "failed", stats.Failed)
	}

	for _, inc := range kept {
		if err := inc.Validate(); err != nil {
			return nil, err
		}
	}
	if len(kept) == 0 {
		return nil, domain.ErrEmptyIncidentSet
	}
	return kept, nil
}

func (p *Pipeline) recordModelMetrics(info domain.ModelInfo) {
	for name, v := range map[string]float64{
		"accuracy":  info.Accuracy,
		"precision": info.Precision,
		"recall":    info.Recall,
		"f1":        info.F1,
		"roc_auc":   info.ROCAUC,
		"pr_auc":    info.PRAUC,
	} {
		p.metrics.ModelMetric.WithLabelValues(name).Set(v)
	}
}

func (p *Pipeline) writeSinks(ctx context.Context, report *domain.Report, logger *slog.Logger) error {
	var errs []error
	for _, sink := range p.sinks {
		start := time.Now()
		err := sink.WriteReport(ctx, report)
		p.metrics.RunDuration.WithLabelValues("sink_" + sink.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			p.metrics.SinkWrites.WithLabelValues(sink.Name(), "error").Inc()
			logger.Error("sink write failed", "sink", sink.Name(), "error", err)
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
			continue
		}
		p.metrics.SinkWrites.WithLabelValues(sink.Name(), "success").Inc()
	}
	return errors.Join(errs...)
}

func trainParams(mc config.ModelConfig) model.Params {
	return model.Params{
		TestFraction: mc.Training.TestFraction,
		Threshold:    mc.Training.Threshold,
		Forest: model.ForestParams{
			Trees:          mc.Training.Trees,
			MaxDepth:       mc.Training.MaxDepth,
			MinSamplesLeaf: mc.Training.MinSamplesLeaf,
			Seed:           mc.Training.Seed,
			Workers:        mc.Features.Workers,
		},
	}
}

// buildReport collects the run's artifacts.
func buildReport(runID string, ds *domain.Dataset, result *model.TrainResult, forecast []domain.ForecastRow) *domain.Report {
	preds := make([]domain.TestPrediction, len(result.TestIndex))
	for k, i := range result.TestIndex {
		m := ds.Meta[i]
		latGrid, lonGrid := ds.X[i][domain.ColLatGrid], ds.X[i][domain.ColLonGrid]
		preds[k] = domain.TestPrediction{
			Date:            m.Date,
			LatGrid:         latGrid,
			LonGrid:         lonGrid,
			Hour:            m.Hour,
			Month:           m.Month,
			Weekday:         m.Weekday,
			Cluster:         m.Cluster,
			RollingSelf:     m.RollingSelf,
			RollingNeighbor: m.RollingNeighbor,
			TrueLabel:       ds.Y[i],
			Probability:     result.TestProba[k],
			PredictedLabel:  result.TestPred[k],
		}
	}
	return &domain.Report{
		RunID:       runID,
		GeneratedAt: domain.Now(),
		Threshold:   result.Model.Threshold,
		Info:        result.Evaluation.Info,
		Confusion:   result.Evaluation.Confusion,
		Importances: result.Importances,
		Predictions: preds,
		Forecast:    forecast,
	}
}
