package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/incident-risk/internal/adapter/amap"
	"github.com/couchcryptid/incident-risk/internal/adapter/csvfile"
	httpadapter "github.com/couchcryptid/incident-risk/internal/adapter/http"
	"github.com/couchcryptid/incident-risk/internal/adapter/influx"
	kafkaadapter "github.com/couchcryptid/incident-risk/internal/adapter/kafka"
	"github.com/couchcryptid/incident-risk/internal/adapter/sqlstore"
	"github.com/couchcryptid/incident-risk/internal/config"
	"github.com/couchcryptid/incident-risk/internal/domain"
	"github.com/couchcryptid/incident-risk/internal/observability"
	"github.com/couchcryptid/incident-risk/internal/pipeline"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize geocoder (feature-flagged via AMAP_ENABLED / AMAP_KEY).
	var geocoder domain.Geocoder
	if cfg.AmapEnabled {
		client := amap.NewClient(cfg.AmapKey, cfg.AmapTimeout, metrics, logger)
		geocoder = amap.NewCachedGeocoder(client, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("amap geocoding enabled", "city", cfg.AmapCity, "timeout", cfg.AmapTimeout, "workers", cfg.GeocodeWorkers)
	} else {
		logger.Info("amap geocoding disabled")
	}

	sinks := []pipeline.ReportSink{csvfile.NewWriter(cfg.OutputDir, logger)}
	var closers []func() error

	var runs httpadapter.RunStore
	if cfg.DatabaseDriver != "" {
		store, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		closers = append(closers, store.Close)
		if err := store.Migrate(ctx); err != nil {
			closeAll(closers, logger)
			return err
		}
		sinks = append(sinks, store)
		runs = store
	}

	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		sinks = append(sinks, writer)
		closers = append(closers, writer.Close)
	}

	if cfg.InfluxURL != "" {
		writer := influx.NewWriter(cfg, logger)
		if err := writer.Ping(ctx); err != nil {
			logger.Warn("influxdb not reachable, writes may fail", "url", cfg.InfluxURL, "error", err)
		}
		sinks = append(sinks, writer)
		closers = append(closers, writer.Close)
	}
	defer closeAll(closers, logger)

	source := csvfile.NewReader(cfg.IncidentsPath, logger)
	p := pipeline.New(source, geocoder, sinks, pipeline.Options{
		Model:          cfg.Model,
		City:           cfg.AmapCity,
		GeocodeWorkers: cfg.GeocodeWorkers,
	}, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, runs, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// A failed run is logged once by main after shutdown.
	_, runErr := p.Run(ctx)

	if cfg.Serve && runErr == nil && ctx.Err() == nil {
		logger.Info("serving results until signalled", "addr", cfg.HTTPAddr)
		<-ctx.Done()
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

func closeAll(closers []func() error, logger *slog.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Error("close error", "error", err)
		}
	}
}
