package model

import (
	"math/rand/v2"
	"slices"
)

const leaf = -1

// treeNode is a split node, or a leaf when Left == leaf.
type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Positive  float64 `json:"positive"` // fraction of class-1 samples reaching the node
}

// Tree is a binary CART classifier grown with Gini impurity.
type Tree struct {
	Nodes []treeNode `json:"nodes"`
}

type treeParams struct {
	maxDepth       int
	minSamplesLeaf int
	maxFeatures    int
}

// treeBuilder grows one tree over a (possibly repeated) sample of row indices.
type treeBuilder struct {
	x           [][]float64
	y           []int
	params      treeParams
	rng         *rand.Rand
	importances []float64
	tree        *Tree
	features    []int
}

func fitTree(x [][]float64, y []int, sample []int, params treeParams, rng *rand.Rand) (*Tree, []float64) {
	width := len(x[0])
	b := &treeBuilder{
		x:           x,
		y:           y,
		params:      params,
		rng:         rng,
		importances: make([]float64, width),
		tree:        &Tree{},
		features:    make([]int, width),
	}
	for j := range b.features {
		b.features[j] = j
	}
	b.grow(slices.Clone(sample), 0)

	total := 0.0
	for _, v := range b.importances {
		total += v
	}
	if total > 0 {
		for j := range b.importances {
			b.importances[j] /= total
		}
	}
	return b.tree, b.importances
}

// grow appends the subtree for sample and returns its node index.
func (b *treeBuilder) grow(sample []int, depth int) int {
	pos := 0
	for _, i := range sample {
		pos += b.y[i]
	}
	n := len(sample)
	id := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, treeNode{Left: leaf, Right: leaf, Positive: float64(pos) / float64(n)})

	if depth >= b.params.maxDepth || pos == 0 || pos == n || n < 2*b.params.minSamplesLeaf {
		return id
	}

	feature, threshold, gain, ok := b.bestSplit(sample, pos)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range sample {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.importances[feature] += gain

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	node := &b.tree.Nodes[id]
	node.Feature, node.Threshold, node.Left, node.Right = feature, threshold, l, r
	return id
}

// bestSplit scans a random subset of features for the split with the largest weighted
// Gini decrease.
func (b *treeBuilder) bestSplit(sample []int, pos int) (feature int, threshold, gain float64, ok bool) {
	n := float64(len(sample))
	parent := n * gini(float64(pos), n)

	b.rng.Shuffle(len(b.features), func(i, j int) { b.features[i], b.features[j] = b.features[j], b.features[i] })
	candidates := b.features[:min(b.params.maxFeatures, len(b.features))]

	sorted := slices.Clone(sample)
	minLeaf := b.params.minSamplesLeaf
	for _, f := range candidates {
		slices.SortFunc(sorted, func(i, j int) int {
			switch {
			case b.x[i][f] < b.x[j][f]:
				return -1
			case b.x[i][f] > b.x[j][f]:
				return 1
			}
			return 0
		})

		leftPos := 0
		for k := 0; k < len(sorted)-1; k++ {
			leftPos += b.y[sorted[k]]
			v, next := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if v == next {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			if int(nl) < minLeaf || int(nr) < minLeaf {
				continue
			}
			child := nl*gini(float64(leftPos), nl) + nr*gini(float64(pos-leftPos), nr)
			if g := parent - child; g > gain {
				feature, threshold, gain, ok = f, v+(next-v)/2, g, true
			}
		}
	}
	return feature, threshold, gain, ok
}

func gini(pos, n float64) float64 {
	p := pos / n
	return 2 * p * (1 - p)
}

// PredictProba returns the class-1 fraction of the leaf reached by row.
func (t *Tree) PredictProba(row []float64) float64 {
	id := 0
	for {
		node := t.Nodes[id]
		if node.Left == leaf {
			return node.Positive
		}
		if row[node.Feature] <= node.Threshold {
			id = node.Left
		} else {
			id = node.Right
		}
	}
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(id int) int
	walk = func(id int) int {
		node := t.Nodes[id]
		if node.Left == leaf {
			return 0
		}
		return 1 + max(walk(node.Left), walk(node.Right))
	}
	return walk(0)
}
