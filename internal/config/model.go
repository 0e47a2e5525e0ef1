package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ModelConfig fixes the feature and training hyperparameters for a run.
type ModelConfig struct {
	Grid     GridConfig     `yaml:"grid"`
	Features FeatureConfig  `yaml:"features"`
	Training TrainingConfig `yaml:"training"`
	Forecast ForecastConfig `yaml:"forecast"`
}

// GridConfig sets the cell size and neighborhood radius, both in degrees.
type GridConfig struct {
	CellSize       float64 `yaml:"cellSize"`
	NeighborRadius float64 `yaml:"neighborRadius"`
}

// FeatureConfig controls rolling windows and auxiliary features.
type FeatureConfig struct {
	Window         int    `yaml:"window"`
	Warmup         int    `yaml:"warmup"`
	Workers        int    `yaml:"workers"`
	KeywordCount   int    `yaml:"keywordCount"`
	KeywordPattern string `yaml:"keywordPattern"`
	Clusters       int    `yaml:"clusters"`
}

// TrainingConfig controls the split, the ensemble and the decision threshold.
type TrainingConfig struct {
	TestFraction   float64 `yaml:"testFraction"`
	Seed           uint64  `yaml:"seed"`
	Trees          int     `yaml:"trees"`
	MaxDepth       int     `yaml:"maxDepth"`
	MinSamplesLeaf int     `yaml:"minSamplesLeaf"`
	Threshold      float64 `yaml:"threshold"`
}

// ForecastConfig controls the forward forecast.
type ForecastConfig struct {
	Horizon int `yaml:"horizon"`
	Hour    int `yaml:"hour"`
}

// DefaultModelConfig returns the reference configuration.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Grid: GridConfig{CellSize: 0.01, NeighborRadius: 0.01},
		Features: FeatureConfig{
			Window:       7,
			Warmup:       7,
			KeywordCount: 10,
			Clusters:     8,
		},
		Training: TrainingConfig{
			TestFraction:   0.2,
			Seed:           42,
			Trees:          100,
			MaxDepth:       12,
			MinSamplesLeaf: 1,
			Threshold:      0.12,
		},
		Forecast: ForecastConfig{Horizon: 7, Hour: 12},
	}
}

// LoadModelConfig starts from the defaults, overlays the YAML file at path when given,
// then applies MODEL_* environment overrides and validates the result.
func LoadModelConfig(path string) (*ModelConfig, error) {
	cfg := DefaultModelConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("MODEL_CONFIG file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read model config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse model config: %w", err)
		}
	}

	if err := applyModelEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyModelEnvOverrides(cfg *ModelConfig) error {
	if v := os.Getenv("MODEL_TREES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("invalid MODEL_TREES")
		}
		cfg.Training.Trees = n
	}
	if v := os.Getenv("MODEL_MAX_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("invalid MODEL_MAX_DEPTH")
		}
		cfg.Training.MaxDepth = n
	}
	if v := os.Getenv("MODEL_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.New("invalid MODEL_THRESHOLD")
		}
		cfg.Training.Threshold = f
	}
	if v := os.Getenv("MODEL_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.New("invalid MODEL_SEED")
		}
		cfg.Training.Seed = n
	}
	return nil
}

// Validate checks ranges and the radius/cell-size relationship.
func (c ModelConfig) Validate() error {
	if c.Grid.CellSize <= 0 {
		return errors.New("grid.cellSize must be positive")
	}
	steps := c.Grid.NeighborRadius / c.Grid.CellSize
	if steps < 1-1e-9 || math.Abs(steps-math.Round(steps)) > 1e-6 {
		return fmt.Errorf("grid.neighborRadius %v must be a positive multiple of grid.cellSize %v",
			c.Grid.NeighborRadius, c.Grid.CellSize)
	}
	if c.Features.Window < 1 {
		return errors.New("features.window must be positive")
	}
	if c.Features.Warmup < 0 {
		return errors.New("features.warmup must not be negative")
	}
	if c.Features.KeywordCount < 0 {
		return errors.New("features.keywordCount must not be negative")
	}
	if c.Features.Clusters < 1 {
		return errors.New("features.clusters must be positive")
	}
	if c.Training.TestFraction <= 0 || c.Training.TestFraction >= 1 {
		return errors.New("training.testFraction must be in (0, 1)")
	}
	if c.Training.Trees < 1 {
		return errors.New("MODEL_TREES / training.trees must be positive")
	}
	if c.Training.MaxDepth < 1 {
		return errors.New("MODEL_MAX_DEPTH / training.maxDepth must be positive")
	}
	if c.Training.Threshold <= 0 || c.Training.Threshold >= 0.5 {
		return errors.New("MODEL_THRESHOLD / training.threshold must be in (0, 0.5)")
	}
	if c.Forecast.Horizon < 1 {
		return errors.New("forecast.horizon must be positive")
	}
	if c.Forecast.Hour < 0 || c.Forecast.Hour > 23 {
		return errors.New("forecast.hour must be in [0, 23]")
	}
	return nil
}
