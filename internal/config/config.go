package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all job settings, populated from environment variables and an
// optional model configuration file.
type Config struct {
	IncidentsPath   string
	OutputDir       string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	// Serve keeps the HTTP server up after the run until the process is signalled.
	Serve bool

	Model ModelConfig

	// Report database. An empty driver disables persistence.
	DatabaseDriver string
	DatabaseURL    string

	// Kafka forecast publishing.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaForecastTopic string
	BatchSize          int
	BatchFlushInterval time.Duration

	// InfluxDB forecast points. Enabled when InfluxURL is set.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// AMap geocoding for incidents without coordinates.
	AmapKey        string
	AmapEnabled    bool
	AmapCity       string
	AmapTimeout    time.Duration
	GeocodeWorkers int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	batchFlushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	amapTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("AMAP_TIMEOUT", "5s"))
	if err != nil || amapTimeout <= 0 {
		return nil, errors.New("invalid AMAP_TIMEOUT")
	}

	geocodeWorkers, err := strconv.Atoi(sharedcfg.EnvOrDefault("GEOCODE_WORKERS", "3"))
	if err != nil || geocodeWorkers < 1 {
		return nil, errors.New("invalid GEOCODE_WORKERS")
	}

	model, err := LoadModelConfig(os.Getenv("MODEL_CONFIG"))
	if err != nil {
		return nil, err
	}

	amapKey := os.Getenv("AMAP_KEY")
	amapEnabled := amapKey != ""
	if v := os.Getenv("AMAP_ENABLED"); v != "" {
		amapEnabled = v == "true"
	}

	cfg := &Config{
		IncidentsPath:   sharedcfg.EnvOrDefault("INCIDENTS_CSV", "data/incidents.csv"),
		OutputDir:       sharedcfg.EnvOrDefault("OUTPUT_DIR", "out"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		Serve:           os.Getenv("SERVE") == "true",
		Model:           *model,

		DatabaseDriver: os.Getenv("DATABASE_DRIVER"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaForecastTopic: sharedcfg.EnvOrDefault("KAFKA_FORECAST_TOPIC", "incident-risk-forecast"),
		BatchSize:          batchSize,
		BatchFlushInterval: batchFlushInterval,

		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    sharedcfg.EnvOrDefault("INFLUX_ORG", "incident-risk"),
		InfluxBucket: sharedcfg.EnvOrDefault("INFLUX_BUCKET", "forecast"),

		AmapKey:        amapKey,
		AmapEnabled:    amapEnabled,
		AmapCity:       sharedcfg.EnvOrDefault("AMAP_CITY", "上海"),
		AmapTimeout:    amapTimeout,
		GeocodeWorkers: geocodeWorkers,
	}

	if cfg.IncidentsPath == "" {
		return nil, errors.New("INCIDENTS_CSV is required")
	}
	switch cfg.DatabaseDriver {
	case "":
	case "sqlite", "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_DRIVER is %s but DATABASE_URL is not set", cfg.DatabaseDriver)
		}
	default:
		return nil, fmt.Errorf("invalid DATABASE_DRIVER %q: want sqlite or postgres", cfg.DatabaseDriver)
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaEnabled && cfg.KafkaForecastTopic == "" {
		return nil, errors.New("KAFKA_FORECAST_TOPIC is required")
	}
	if cfg.InfluxURL != "" && cfg.InfluxToken == "" {
		return nil, errors.New("INFLUX_URL is set but INFLUX_TOKEN is not set")
	}
	if cfg.AmapEnabled && cfg.AmapKey == "" {
		return nil, errors.New("AMAP_ENABLED is true but AMAP_KEY is not set")
	}

	return cfg, nil
}
