package model

import (
	"cmp"
	"slices"

	"github.com/couchcryptid/incident-risk/internal/domain"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Predict applies the decision threshold. Only probabilities strictly above it are positive.
func Predict(proba []float64, threshold float64) []int {
	out := make([]int, len(proba))
	for i, p := range proba {
		if p > threshold {
			out[i] = 1
		}
	}
	return out
}

// Evaluation holds held-out metrics for the positive class.
type Evaluation struct {
	Info      domain.ModelInfo
	Confusion domain.ConfusionMatrix
}

// Evaluate scores hard predictions and probabilities against the true labels.
func Evaluate(y []int, proba []float64, threshold float64) Evaluation {
	pred := Predict(proba, threshold)
	var cm domain.ConfusionMatrix
	for i := range y {
		cm[y[i]][pred[i]]++
	}
	tn, fp, fn, tp := float64(cm[0][0]), float64(cm[0][1]), float64(cm[1][0]), float64(cm[1][1])

	info := domain.ModelInfo{
		Accuracy:  safeDiv(tp+tn, tp+tn+fp+fn),
		Precision: safeDiv(tp, tp+fp),
		Recall:    safeDiv(tp, tp+fn),
		ROCAUC:    ROCAUC(y, proba),
		PRAUC:     AveragePrecision(y, proba),
	}
	info.F1 = safeDiv(2*info.Precision*info.Recall, info.Precision+info.Recall)
	return Evaluation{Info: info, Confusion: cm}
}

// ROCAUC is the area under the ROC curve. It is 0 when only one class is present.
func ROCAUC(y []int, proba []float64) float64 {
	pos, neg := countClasses(y)
	if pos == 0 || neg == 0 {
		return 0
	}
	order := make([]int, len(y))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(proba[a], proba[b]) })

	scores := make([]float64, len(order))
	classes := make([]bool, len(order))
	for k, i := range order {
		scores[k] = proba[i]
		classes[k] = y[i] == 1
	}
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// AveragePrecision is the step-wise area under the precision-recall curve:
// the sum over distinct thresholds of (R_n - R_{n-1}) * P_n.
func AveragePrecision(y []int, proba []float64) float64 {
	pos, _ := countClasses(y)
	if pos == 0 {
		return 0
	}
	order := make([]int, len(y))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(proba[b], proba[a]) })

	var ap, tp, fp, prevRecall float64
	for k, i := range order {
		if y[i] == 1 {
			tp++
		} else {
			fp++
		}
		if k+1 < len(order) && proba[order[k+1]] == proba[i] {
			continue
		}
		recall := tp / float64(pos)
		ap += (recall - prevRecall) * tp / (tp + fp)
		prevRecall = recall
	}
	return ap
}

func countClasses(y []int) (pos, neg int) {
	for _, v := range y {
		if v == 1 {
			pos++
		} else {
			neg++
		}
	}
	return pos, neg
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
