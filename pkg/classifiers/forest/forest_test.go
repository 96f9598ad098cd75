package forest

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/logids/pkg/classifiers"
	"github.com/hed1ad/logids/pkg/detectors"
)

// separable returns two gaussian blobs, class 1 shifted by +4 on every feature.
func separable(seed int64, n, features int) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		y[i] = i % 2
		X[i] = make([]float64, features)
		for j := range X[i] {
			X[i][j] = rng.NormFloat64() + 4*float64(y[i])
		}
	}
	return X, y
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantNTrees int
	}{
		{name: "default configuration", wantNTrees: 200},
		{name: "custom trees", opts: []Option{WithTrees(25)}, wantNTrees: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantNTrees, New(tt.opts...).NumTrees())
		})
	}
}

func TestFitValidation(t *testing.T) {
	tests := []struct {
		name    string
		X       [][]float64
		y       []int
		wantErr error
	}{
		{name: "empty data", X: nil, y: nil},
		{name: "length mismatch", X: [][]float64{{1}, {2}}, y: []int{0}},
		{name: "non-binary label", X: [][]float64{{1}, {2}}, y: []int{0, 2}},
		{name: "single class", X: [][]float64{{1}, {2}}, y: []int{1, 1}, wantErr: classifiers.ErrInsufficientClasses},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(WithTrees(3)).Fit(context.Background(), tt.X, tt.y)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestFitPredictSeparable(t *testing.T) {
	X, y := separable(42, 200, 4)
	f := New(WithTrees(30), WithSeed(42))
	require.NoError(t, f.Fit(context.Background(), X, y))

	testX, testY := separable(43, 100, 4)
	pred, err := f.Predict(testX)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, classifiers.Accuracy(pred, testY), 0.95)

	proba, err := f.PredictProba(testX)
	require.NoError(t, err)
	for _, p := range proba {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestFitConstantFeatureIgnored(t *testing.T) {
	X := [][]float64{{7, 0}, {7, 1}, {7, 0}, {7, 1}}
	y := []int{0, 1, 0, 1}
	f := New(WithTrees(10), WithSeed(1))
	require.NoError(t, f.Fit(context.Background(), X, y))

	pred, err := f.Predict([][]float64{{7, 0}, {7, 1}})
	require.NoError(t, err)
	// bootstraps can miss a class entirely, so only the majority vote is checked
	assert.Equal(t, []int{0, 1}, pred)
}

func TestFitDeterministicAcrossWorkers(t *testing.T) {
	X, y := separable(5, 120, 3)
	probe, _ := separable(6, 30, 3)

	a := New(WithTrees(20), WithWorkers(1))
	require.NoError(t, a.Fit(context.Background(), X, y))
	b := New(WithTrees(20), WithWorkers(6))
	require.NoError(t, b.Fit(context.Background(), X, y))

	pa, err := a.PredictProba(probe)
	require.NoError(t, err)
	pb, err := b.PredictProba(probe)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestFitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	X, y := separable(1, 50, 2)
	f := New(WithTrees(100))
	assert.ErrorIs(t, f.Fit(ctx, X, y), context.Canceled)

	_, err := f.Predict(X)
	assert.ErrorIs(t, err, detectors.ErrNotTrained)
}

func TestPredictWidthMismatch(t *testing.T) {
	X, y := separable(1, 40, 3)
	f := New(WithTrees(5))
	require.NoError(t, f.Fit(context.Background(), X, y))

	_, err := f.PredictProba([][]float64{{1, 2}})
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	X, y := separable(42, 150, 3)
	original := New(WithTrees(15))
	require.NoError(t, original.Fit(context.Background(), X, y))

	data, err := original.Save()
	require.NoError(t, err)

	loaded := New()
	require.NoError(t, loaded.Load(data))
	assert.Equal(t, 15, loaded.NumTrees())

	want, err := original.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = New().Save()
	assert.ErrorIs(t, err, detectors.ErrNotTrained)
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 0.0, classifiers.Accuracy(nil, nil))
	assert.Equal(t, 0.75, classifiers.Accuracy([]int{1, 0, 1, 1}, []int{1, 0, 0, 1}))
}

func BenchmarkFit(b *testing.B) {
	X, y := separable(1, 2000, 11)
	f := New(WithTrees(50))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fit(context.Background(), X, y)
	}
}
