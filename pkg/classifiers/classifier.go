// Package classifiers provides supervised models trained on analyst labels.
package classifiers

import (
	"context"
	"errors"
)

// ErrInsufficientClasses is returned when training labels contain fewer than
// two distinct classes.
var ErrInsufficientClasses = errors.New("need at least two distinct label classes")

// Classifier is a binary supervised model.
type Classifier interface {
	// Fit trains on rows X with labels y in {0, 1}.
	Fit(ctx context.Context, X [][]float64, y []int) error

	// Predict returns the hard class for each row.
	Predict(X [][]float64) ([]int, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Probabilistic is implemented by classifiers that can report class
// probabilities.
type Probabilistic interface {
	// PredictProba returns the probability of class 1 for each row.
	PredictProba(X [][]float64) ([]float64, error)
}

// Accuracy returns the share of predictions equal to the truth.
func Accuracy(pred, truth []int) float64 {
	if len(truth) == 0 {
		return 0
	}
	var hit int
	for i := range truth {
		if pred[i] == truth[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(truth))
}
