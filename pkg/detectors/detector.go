// Package detectors provides unsupervised anomaly detection algorithms.
package detectors

import (
	"context"
	"errors"
)

// ErrNotTrained is returned when scoring is requested before a model has been
// fitted or persisted.
var ErrNotTrained = errors.New("model not trained")

// Detector is the common interface for all anomaly detection algorithms.
type Detector interface {
	// Fit trains the detector on historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	// Fit stops early with ctx.Err() when ctx is cancelled.
	Fit(ctx context.Context, data [][]float64) error

	// Predict returns raw anomaly scores for the given samples.
	// Higher values indicate anomalies.
	Predict(data [][]float64) ([]float64, error)

	// PredictOne returns the raw anomaly score for a single sample.
	PredictOne(sample []float64) (float64, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Thresholded is implemented by detectors that derive a decision threshold
// on raw scores during Fit.
type Thresholded interface {
	Threshold() float64
}

// Flag reports raw[i] >= threshold for every sample.
func Flag(raw []float64, threshold float64) []bool {
	out := make([]bool, len(raw))
	for i, v := range raw {
		out[i] = v >= threshold
	}
	return out
}

// Config holds common configuration for detectors.
type Config struct {
	// Estimators is the ensemble size.
	Estimators int `yaml:"estimators"`
	// MaxSamples is the per-estimator subsample size.
	MaxSamples int `yaml:"max_samples"`
	// Contamination is the expected proportion of anomalies in training data.
	Contamination float64 `yaml:"contamination"`
	// RandomSeed for reproducibility.
	RandomSeed int64 `yaml:"random_seed"`
	// Workers bounds parallel estimator construction. Zero means GOMAXPROCS.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the detector defaults: 200 estimators, 1%
// contamination, 256 samples per tree and seed 42.
func DefaultConfig() Config {
	return Config{
		Estimators:    200,
		MaxSamples:    256,
		Contamination: 0.01,
		RandomSeed:    42,
	}
}

// MinMaxNormalize rescales raw to [0, 1] relative to the batch. The
// denominator carries a small epsilon so a constant batch maps to zeros.
func MinMaxNormalize(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}
	lo, hi := raw[0], raw[0]
	for _, v := range raw[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	den := hi - lo + 1e-9
	for i, v := range raw {
		out[i] = (v - lo) / den
	}
	return out
}
