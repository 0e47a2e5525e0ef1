package domain

import "time"

// ModelInfo holds the scalar evaluation metrics of a trained model.
type ModelInfo struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	ROCAUC    float64 `json:"roc_auc"`
	PRAUC     float64 `json:"pr_auc"`
}

// ConfusionMatrix is indexed [true label][predicted label].
type ConfusionMatrix [2][2]int

// FeatureImportance is one feature's share of the ensemble's impurity decrease.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// TestPrediction is a scored held-out example.
type TestPrediction struct {
	Date            time.Time `json:"date"`
	LatGrid         float64   `json:"lat_grid"`
	LonGrid         float64   `json:"lon_grid"`
	Hour            int       `json:"hour"`
	Month           int       `json:"month"`
	Weekday         int       `json:"weekday"`
	Cluster         int       `json:"cluster"`
	RollingSelf     int       `json:"rolling_self_count"`
	RollingNeighbor int       `json:"rolling_neighbor_count"`
	TrueLabel       int       `json:"true_label"`
	Probability     float64   `json:"probability"`
	PredictedLabel  int       `json:"predicted_label"`
}

// Report bundles every artifact of one pipeline run.
type Report struct {
	RunID       string              `json:"run_id"`
	GeneratedAt time.Time           `json:"generated_at"`
	Threshold   float64             `json:"threshold"`
	Info        ModelInfo           `json:"model_info"`
	Confusion   ConfusionMatrix     `json:"confusion_matrix"`
	Importances []FeatureImportance `json:"feature_importances"`
	Predictions []TestPrediction    `json:"test_predictions"`
	Forecast    []ForecastRow       `json:"forecast"`
}
