// Package pipeline trains and applies the anomaly models on enriched records.
//
// Every model is persisted as a named artifact in a store.Store together with
// the feature transform it was trained against, so a model is always applied
// with its own transform whatever the current transform is.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hed1ad/logids/pkg/detectors"
	"github.com/hed1ad/logids/pkg/matrix"
	"github.com/hed1ad/logids/pkg/record"
	"github.com/hed1ad/logids/pkg/store"
)

// Artifact names.
const (
	IForestArtifact    = "iforest"
	ClassifierArtifact = "classifier"
)

// Model names reported in training results.
const (
	ModelIsolationForest = "isolationforest"
	ModelRandomForest    = "randomforest"
)

// TrainResult summarizes a completed training run.
type TrainResult struct {
	ModelID     string        `json:"model_id"`
	Model       string        `json:"model"`
	Samples     int           `json:"samples"`
	Accuracy    *float64      `json:"accuracy,omitempty"`
	TransformID string        `json:"transform_id,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// modelArtifact wraps a serialized model with its training metadata.
type modelArtifact struct {
	ID          string
	Model       string
	TransformID string
	Columns     []string
	TrainedAt   time.Time
	Samples     int
	Data        []byte
	// Transform is nil when the model was trained on raw columns.
	Transform *matrix.TransformArtifact
}

// encode builds the matrix for records with the artifact's own transform.
func (a *modelArtifact) encode(b *matrix.Builder, records []record.EnrichedRecord) (matrix.Matrix, error) {
	m, err := b.Apply(records, a.Transform)
	if err != nil {
		return matrix.Matrix{}, err
	}
	if !slices.Equal(m.Columns, a.Columns) {
		return matrix.Matrix{}, fmt.Errorf("%w: model %s has columns %v, builder has %v",
			matrix.ErrSchemaMismatch, a.ID, a.Columns, m.Columns)
	}
	return m, nil
}

func loadModel(ctx context.Context, s store.Store, name string) (modelArtifact, error) {
	var art modelArtifact
	err := store.GetGob(ctx, s, name, &art)
	if errors.Is(err, store.ErrNotFound) {
		return modelArtifact{}, fmt.Errorf("%s: %w", name, detectors.ErrNotTrained)
	}
	if err != nil {
		return modelArtifact{}, err
	}
	return art, nil
}
