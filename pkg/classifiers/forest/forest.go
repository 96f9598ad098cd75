// Package forest implements a random forest binary classifier.
package forest

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/hed1ad/logids/pkg/classifiers"
	"github.com/hed1ad/logids/pkg/detectors"
)

// RandomForest is an ensemble of CART trees grown on bootstrap samples with
// gini impurity and sqrt(n_features) candidate features per split.
type RandomForest struct {
	mu sync.RWMutex

	nTrees  int
	seed    int64
	workers int

	trees     []*Node
	nFeatures int
	trained   bool
}

// Node is a node of a decision tree. Leaves have nil children and carry the
// share of class 1 among the training rows that reached them.
type Node struct {
	Feature   int
	Threshold float64

	Left  *Node
	Right *Node

	Value float64
}

// Option configures a RandomForest.
type Option func(*RandomForest)

// WithTrees sets the number of trees.
func WithTrees(n int) Option {
	return func(f *RandomForest) {
		f.nTrees = n
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *RandomForest) {
		f.seed = seed
	}
}

// WithWorkers bounds the number of trees grown concurrently.
func WithWorkers(n int) Option {
	return func(f *RandomForest) {
		f.workers = n
	}
}

// New creates a RandomForest with 200 trees and seed 42 unless overridden.
func New(opts ...Option) *RandomForest {
	f := &RandomForest{
		nTrees: 200,
		seed:   42,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.workers <= 0 {
		f.workers = runtime.GOMAXPROCS(0)
	}
	return f
}

var (
	_ classifiers.Classifier    = (*RandomForest)(nil)
	_ classifiers.Probabilistic = (*RandomForest)(nil)
)

// Fit grows the forest. Every tree has its own seeded source so the result
// does not depend on the number of workers.
func (f *RandomForest) Fit(ctx context.Context, X [][]float64, y []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(X) == 0 {
		return errors.New("empty training data")
	}
	if len(X) != len(y) {
		return fmt.Errorf("got %d rows and %d labels", len(X), len(y))
	}
	if f.nTrees <= 0 {
		return fmt.Errorf("invalid number of trees: %d", f.nTrees)
	}
	seen := map[int]bool{}
	for _, v := range y {
		if v != 0 && v != 1 {
			return fmt.Errorf("label %d is not binary", v)
		}
		seen[v] = true
	}
	if len(seen) < 2 {
		return classifiers.ErrInsufficientClasses
	}

	n := len(X)
	nFeatures := len(X[0])
	mtry := int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))

	master := rand.New(rand.NewSource(f.seed))
	seeds := make([]int64, f.nTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*Node, f.nTrees)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < f.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				g := grower{
					rng:  rand.New(rand.NewSource(seeds[i])),
					X:    X,
					y:    y,
					mtry: mtry,
				}
				sample := make([]int, n)
				for j := range sample {
					sample[j] = g.rng.Intn(n)
				}
				trees[i] = g.grow(sample)
			}
		}()
	}

	var cancelled error
feed:
	for i := 0; i < f.nTrees; i++ {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if cancelled != nil {
		return cancelled
	}

	f.trees = trees
	f.nFeatures = nFeatures
	f.trained = true
	return nil
}

type grower struct {
	rng  *rand.Rand
	X    [][]float64
	y    []int
	mtry int
}

func (g *grower) grow(idx []int) *Node {
	var pos int
	for _, i := range idx {
		pos += g.y[i]
	}
	value := float64(pos) / float64(len(idx))
	if len(idx) < 2 || pos == 0 || pos == len(idx) {
		return &Node{Value: value}
	}

	feature, threshold, ok := g.split(idx, pos)
	if !ok {
		return &Node{Value: value}
	}

	var left, right []int
	for _, i := range idx {
		if g.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      g.grow(left),
		Right:     g.grow(right),
	}
}

// split draws candidate features in random order and keeps the lowest
// weighted gini among the first mtry features that admit a split. Constant
// features do not count towards mtry.
func (g *grower) split(idx []int, pos int) (int, float64, bool) {
	nFeatures := len(g.X[0])
	order := g.rng.Perm(nFeatures)

	bestFeature, bestThreshold := -1, 0.0
	bestImpurity := math.Inf(1)
	visited := 0

	sorted := make([]int, len(idx))
	for _, feature := range order {
		if visited >= g.mtry && bestFeature >= 0 {
			break
		}
		copy(sorted, idx)
		sort.Slice(sorted, func(a, b int) bool {
			return g.X[sorted[a]][feature] < g.X[sorted[b]][feature]
		})
		if g.X[sorted[0]][feature] == g.X[sorted[len(sorted)-1]][feature] {
			continue
		}
		visited++

		n := float64(len(sorted))
		var leftPos int
		for k := 0; k < len(sorted)-1; k++ {
			leftPos += g.y[sorted[k]]
			lo, hi := g.X[sorted[k]][feature], g.X[sorted[k+1]][feature]
			if lo == hi {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			impurity := nl/n*gini(float64(leftPos), nl) + nr/n*gini(float64(pos-leftPos), nr)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = feature
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold >= hi {
					bestThreshold = lo
				}
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(pos, n float64) float64 {
	p := pos / n
	return 2 * p * (1 - p)
}

// PredictProba returns the mean class-1 leaf share across trees.
func (f *RandomForest) PredictProba(X [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}

	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != f.nFeatures {
			return nil, fmt.Errorf("row %d: expected %d features, got %d", i, f.nFeatures, len(row))
		}
		var sum float64
		for _, tree := range f.trees {
			sum += leaf(tree, row).Value
		}
		out[i] = sum / float64(len(f.trees))
	}
	return out, nil
}

// Predict returns 1 where the class-1 probability exceeds one half.
func (f *RandomForest) Predict(X [][]float64) ([]int, error) {
	proba, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		if p > 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

func leaf(n *Node, row []float64) *Node {
	for n.Left != nil && n.Right != nil {
		if row[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n
}

// NumTrees returns the configured ensemble size.
func (f *RandomForest) NumTrees() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nTrees
}

type snapshot struct {
	NTrees    int
	Seed      int64
	NFeatures int
	Trees     []*Node
}

// Save serializes the trained model.
func (f *RandomForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		NTrees:    f.nTrees,
		Seed:      f.seed,
		NFeatures: f.nFeatures,
		Trees:     f.trees,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *RandomForest) Load(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	if len(s.Trees) == 0 {
		return errors.New("model has no trees")
	}

	f.nTrees = s.NTrees
	f.seed = s.Seed
	f.nFeatures = s.NFeatures
	f.trees = s.Trees
	f.trained = true
	return nil
}
