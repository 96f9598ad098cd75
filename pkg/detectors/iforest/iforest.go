// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

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

	"github.com/hed1ad/logids/pkg/detectors"
)

var (
	_ detectors.Detector    = (*IsolationForest)(nil)
	_ detectors.Thresholded = (*IsolationForest)(nil)
)

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	seed          int64
	workers       int

	// Trained model
	trees   []*Node
	trained bool

	// Statistics from training
	avgPathLength float64
	threshold     float64
}

// Node is a node of an isolation tree. Leaves have nil children.
type Node struct {
	// Split parameters (for internal nodes)
	Feature int
	Split   float64

	Left  *Node
	Right *Node

	// Number of training samples that reached this leaf
	Size int
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// WithWorkers bounds the number of trees built concurrently.
func WithWorkers(n int) Option {
	return func(f *IsolationForest) {
		f.workers = n
	}
}

// FromConfig translates a detectors.Config into options.
func FromConfig(cfg detectors.Config) []Option {
	opts := []Option{WithContamination(cfg.Contamination), WithSeed(cfg.RandomSeed)}
	if cfg.Estimators > 0 {
		opts = append(opts, WithTrees(cfg.Estimators))
	}
	if cfg.MaxSamples > 0 {
		opts = append(opts, WithSampleSize(cfg.MaxSamples))
	}
	if cfg.Workers > 0 {
		opts = append(opts, WithWorkers(cfg.Workers))
	}
	return opts
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	def := detectors.DefaultConfig()
	f := &IsolationForest{
		nTrees:        def.Estimators,
		sampleSize:    def.MaxSamples,
		contamination: def.Contamination,
		seed:          def.RandomSeed,
		threshold:     0.5,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.workers <= 0 {
		f.workers = runtime.GOMAXPROCS(0)
	}
	return f
}

// Fit trains the Isolation Forest on the provided data. Each tree draws from
// its own seeded source, so the fitted forest does not depend on scheduling.
func (f *IsolationForest) Fit(ctx context.Context, data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return errors.New("empty training data")
	}
	if f.nTrees <= 0 {
		return fmt.Errorf("invalid number of trees: %d", f.nTrees)
	}

	nSamples := len(data)
	nFeatures := len(data[0])

	// Adjust sample size if needed
	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

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
				rng := rand.New(rand.NewSource(seeds[i]))
				// Sample without replacement
				indices := rng.Perm(nSamples)[:sampleSize]
				sample := make([][]float64, sampleSize)
				for j, idx := range indices {
					sample[j] = data[idx]
				}
				trees[i] = buildNode(rng, sample, nFeatures, 0, maxDepth)
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
	f.avgPathLength = averagePathLength(float64(sampleSize))
	f.trained = true

	// Set threshold based on contamination
	if f.contamination > 0 {
		scores := f.predict(data)
		f.threshold = percentile(scores, 100*(1-f.contamination))
	}

	return nil
}

func buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth, maxDepth int) *Node {
	n := len(data)

	// Terminal conditions
	if depth >= maxDepth || n <= 1 {
		return &Node{Size: n}
	}

	// Random feature and split value
	feature := rng.Intn(nFeatures)

	// Find min/max for this feature
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}

	// If all values are the same, return leaf
	if minVal == maxVal {
		return &Node{Size: n}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &Node{
		Feature: feature,
		Split:   splitValue,
		Left:    buildNode(rng, leftData, nFeatures, depth+1, maxDepth),
		Right:   buildNode(rng, rightData, nFeatures, depth+1, maxDepth),
	}
}

// Predict returns anomaly scores for the given samples.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}

	return f.predict(data), nil
}

func (f *IsolationForest) predict(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.predictOne(sample)
	}
	return scores
}

// PredictOne returns the anomaly score for a single sample.
func (f *IsolationForest) PredictOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, detectors.ErrNotTrained
	}

	return f.predictOne(sample), nil
}

// predictOne computes 2^(-E[h(x)] / c(n)); higher is more anomalous.
func (f *IsolationForest) predictOne(sample []float64) float64 {
	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	// c(1) is 0; a single-sample forest isolates nothing
	norm := f.avgPathLength
	if norm <= 0 {
		norm = 1
	}
	return math.Pow(2, -avgPath/norm)
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *Node, currentDepth int) float64 {
	for n.Left != nil && n.Right != nil {
		if sample[n.Feature] < n.Split {
			n = n.Left
		} else {
			n = n.Right
		}
		currentDepth++
	}
	// Leaf node: add expected path length for remaining isolation
	return float64(currentDepth) + averagePathLength(float64(n.Size))
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, where H is harmonic number
	// H(n) ~ ln(n) + 0.5772156649 (Euler-Mascheroni constant)
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

type snapshot struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	Seed          int64
	Threshold     float64
	AvgPathLength float64
	Trees         []*Node
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		Seed:          f.seed,
		Threshold:     f.threshold,
		AvgPathLength: f.avgPathLength,
		Trees:         f.trees,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
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
	f.sampleSize = s.SampleSize
	f.contamination = s.Contamination
	f.seed = s.Seed
	f.threshold = s.Threshold
	f.avgPathLength = s.AvgPathLength
	f.trees = s.Trees
	f.trained = true

	return nil
}

// NumTrees returns the configured ensemble size.
func (f *IsolationForest) NumTrees() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nTrees
}

// Threshold returns the raw score at or above which a sample is anomalous:
// the (1-contamination) percentile of the training scores, or 0.5 when
// contamination is zero.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// percentile calculates the p-th percentile of the data.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}
