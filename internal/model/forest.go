package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ForestParams configures balanced bagging.
type ForestParams struct {
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	// MaxFeatures is the number of candidate features per split; 0 means sqrt(width).
	MaxFeatures int
	Seed        uint64
	// Workers bounds concurrent tree fits; 0 means GOMAXPROCS.
	Workers int
}

// Forest is an ensemble of trees, each grown on a class-balanced bootstrap sample.
type Forest struct {
	Trees       []*Tree   `json:"trees"`
	Importances []float64 `json:"importances"`
}

// FitForest grows p.Trees trees in parallel. Tree i draws from its own generator seeded
// by (p.Seed, i), so the result does not depend on scheduling.
func FitForest(ctx context.Context, x [][]float64, y []int, p ForestParams) (*Forest, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("fit forest: no rows")
	}
	if p.Trees < 1 || p.MaxDepth < 1 {
		return nil, fmt.Errorf("fit forest: trees and max depth must be positive")
	}
	var pos, neg []int
	for i, label := range y {
		if label == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	if len(pos) == 0 || len(neg) == 0 {
		return nil, fmt.Errorf("fit forest: need both classes, got %d positive and %d negative", len(pos), len(neg))
	}

	width := len(x[0])
	params := treeParams{
		maxDepth:       p.MaxDepth,
		minSamplesLeaf: max(p.MinSamplesLeaf, 1),
		maxFeatures:    p.MaxFeatures,
	}
	if params.maxFeatures <= 0 {
		params.maxFeatures = max(int(math.Sqrt(float64(width))), 1)
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	f := &Forest{Trees: make([]*Tree, p.Trees)}
	perTree := make([][]float64, p.Trees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for t := range p.Trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(p.Seed, uint64(t)))
			sample := balancedBootstrap(pos, neg, rng)
			f.Trees[t], perTree[t] = fitTree(x, y, sample, params, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}

	f.Importances = make([]float64, width)
	for _, imp := range perTree {
		for j, v := range imp {
			f.Importances[j] += v / float64(p.Trees)
		}
	}
	return f, nil
}

// balancedBootstrap undersamples the majority class to the minority size without
// replacement, then draws a bootstrap sample of the balanced set.
func balancedBootstrap(pos, neg []int, rng *rand.Rand) []int {
	minority, majority := pos, neg
	if len(neg) < len(pos) {
		minority, majority = neg, pos
	}
	m := len(minority)

	balanced := make([]int, 0, 2*m)
	balanced = append(balanced, minority...)
	for _, k := range rng.Perm(len(majority))[:m] {
		balanced = append(balanced, majority[k])
	}

	sample := make([]int, len(balanced))
	for i := range sample {
		sample[i] = balanced[rng.IntN(len(balanced))]
	}
	return sample
}

// PredictProba averages the leaf class-1 fractions over all trees.
func (f *Forest) PredictProba(x [][]float64) []float64 {
	out := make([]float64, len(x))
	workers := runtime.GOMAXPROCS(0)
	chunk := (len(x) + workers - 1) / max(workers, 1)
	if chunk == 0 {
		return out
	}

	var wg sync.WaitGroup
	for start := 0; start < len(x); start += chunk {
		end := min(start+chunk, len(x))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := start; i < end; i++ {
				sum := 0.0
				for _, t := range f.Trees {
					sum += t.PredictProba(x[i])
				}
				out[i] = sum / float64(len(f.Trees))
			}
		}()
	}
	wg.Wait()
	return out
}

// MaxDepth returns the depth of the deepest tree.
func (f *Forest) MaxDepth() int {
	depth := 0
	for _, t := range f.Trees {
		depth = max(depth, t.Depth())
	}
	return depth
}
