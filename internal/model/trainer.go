package model

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/couchcryptid/incident-risk/internal/domain"
)

// Params is the fixed training configuration.
type Params struct {
	TestFraction float64
	Threshold    float64
	Forest       ForestParams
}

// Model bundles the fitted scaler, ensemble and decision threshold.
// It implements domain.Scorer on raw feature rows.
type Model struct {
	Scaler    *Scaler  `json:"scaler"`
	Forest    *Forest  `json:"forest"`
	Threshold float64  `json:"threshold"`
	Columns   []string `json:"columns"`
}

// PredictProba scales the rows and returns the ensemble's class-1 probability.
func (m *Model) PredictProba(rows [][]float64) []float64 {
	return m.Forest.PredictProba(m.Scaler.Transform(rows))
}

// TrainResult is the trained model plus its held-out evaluation.
type TrainResult struct {
	Model       *Model
	Evaluation  Evaluation
	TestIndex   []int
	TestProba   []float64
	TestPred    []int
	Importances []domain.FeatureImportance
}

// Trainer fits and evaluates the classifier.
type Trainer struct {
	params Params
	logger *slog.Logger
}

// NewTrainer creates a Trainer with the given configuration.
func NewTrainer(params Params, logger *slog.Logger) *Trainer {
	return &Trainer{params: params, logger: logger}
}

// Train splits the dataset, fits the scaler on the train partition only, grows the
// balanced forest and evaluates it on the test partition. A train partition with a
// single label fails with domain.ErrDegenerateTrainingSet before anything is fitted.
func (t *Trainer) Train(ctx context.Context, ds *domain.Dataset) (*TrainResult, error) {
	if len(ds.X) == 0 {
		return nil, fmt.Errorf("%w: no training examples", domain.ErrDegenerateTrainingSet)
	}

	trainIdx, testIdx := StratifiedSplit(ds.Y, t.params.TestFraction, t.params.Forest.Seed)
	xTrain, yTrain := gather(ds, trainIdx)
	xTest, yTest := gather(ds, testIdx)

	pos, neg := countClasses(yTrain)
	if pos == 0 || neg == 0 {
		return nil, fmt.Errorf("%w: train partition has %d positive and %d negative examples",
			domain.ErrDegenerateTrainingSet, pos, neg)
	}
	t.logger.Info("training split",
		"train_rows", len(trainIdx),
		"test_rows", len(testIdx),
		"train_positive", pos,
		"train_negative", neg,
	)

	scaler, err := FitScaler(xTrain)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	forest, err := FitForest(ctx, scaler.Transform(xTrain), yTrain, t.params.Forest)
	if err != nil {
		return nil, err
	}
	t.logger.Info("forest fitted",
		"trees", len(forest.Trees),
		"max_depth", forest.MaxDepth(),
		"duration", time.Since(start),
	)

	m := &Model{Scaler: scaler, Forest: forest, Threshold: t.params.Threshold, Columns: ds.Columns}
	res := &TrainResult{Model: m, TestIndex: testIdx}
	if len(testIdx) > 0 {
		res.TestProba = m.PredictProba(xTest)
		res.TestPred = Predict(res.TestProba, m.Threshold)
		res.Evaluation = Evaluate(yTest, res.TestProba, m.Threshold)
	}
	res.Importances = rankImportances(ds.Columns, forest.Importances)
	return res, nil
}

func gather(ds *domain.Dataset, idx []int) ([][]float64, []int) {
	x := make([][]float64, len(idx))
	y := make([]int, len(idx))
	for k, i := range idx {
		x[k], y[k] = ds.X[i], ds.Y[i]
	}
	return x, y
}

// rankImportances pairs importances with column names, sorted descending.
func rankImportances(columns []string, importances []float64) []domain.FeatureImportance {
	out := make([]domain.FeatureImportance, len(columns))
	for j, name := range columns {
		out[j] = domain.FeatureImportance{Feature: name, Importance: importances[j]}
	}
	slices.SortStableFunc(out, func(a, b domain.FeatureImportance) int {
		return cmp.Compare(b.Importance, a.Importance)
	})
	return out
}
