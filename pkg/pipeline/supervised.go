package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hed1ad/logids/pkg/classifiers"
	"github.com/hed1ad/logids/pkg/classifiers/forest"
	"github.com/hed1ad/logids/pkg/matrix"
	"github.com/hed1ad/logids/pkg/record"
	"github.com/hed1ad/logids/pkg/store"
)

// SupervisedConfig configures the random forest classifier.
type SupervisedConfig struct {
	Estimators int     `yaml:"estimators"`
	Seed       int64   `yaml:"seed"`
	TestSize   float64 `yaml:"test_size"`
	Workers    int     `yaml:"workers"`
}

// DefaultSupervisedConfig returns 200 trees, seed 42 and a 20% holdout.
func DefaultSupervisedConfig() SupervisedConfig {
	return SupervisedConfig{
		Estimators: 200,
		Seed:       42,
		TestSize:   0.2,
	}
}

// Supervised trains and applies the labeled classifier.
type Supervised struct {
	store   store.Store
	builder *matrix.Builder
	cfg     SupervisedConfig
	logger  *zap.Logger
}

// NewSupervised creates the supervised pipeline.
func NewSupervised(s store.Store, b *matrix.Builder, cfg SupervisedConfig, logger *zap.Logger) *Supervised {
	return &Supervised{
		store:   s,
		builder: b,
		cfg:     cfg,
		logger:  logger,
	}
}

func (s *Supervised) newClassifier() classifiers.Classifier {
	opts := []forest.Option{forest.WithSeed(s.cfg.Seed)}
	if s.cfg.Estimators > 0 {
		opts = append(opts, forest.WithTrees(s.cfg.Estimators))
	}
	if s.cfg.Workers > 0 {
		opts = append(opts, forest.WithWorkers(s.cfg.Workers))
	}
	return forest.New(opts...)
}

// Train joins labels onto records, fits the classifier on a training split
// and reports holdout accuracy. Accuracy is nil when the holdout is empty.
// Records are encoded with the current transform, or raw when none exists;
// the transform is stored with the classifier.
func (s *Supervised) Train(ctx context.Context, records []record.EnrichedRecord, labels []record.Label) (TrainResult, error) {
	start := time.Now()
	if len(records) == 0 {
		return TrainResult{}, errors.New("no records to train on")
	}

	y := MergeLabels(records, labels)
	if len(classCounts(y)) < 2 {
		return TrainResult{}, classifiers.ErrInsufficientClasses
	}

	m, err := s.builder.Build(ctx, records, matrix.Transform)
	if err != nil {
		return TrainResult{}, fmt.Errorf("build matrix: %w", err)
	}

	trainIdx, testIdx := TrainTestSplit(y, s.cfg.TestSize, s.cfg.Seed)
	Xtr, ytr := take(m.Rows, y, trainIdx)
	Xte, yte := take(m.Rows, y, testIdx)

	clf := s.newClassifier()
	if err := clf.Fit(ctx, Xtr, ytr); err != nil {
		return TrainResult{}, fmt.Errorf("fit classifier: %w", err)
	}

	var acc *float64
	if len(Xte) > 0 {
		pred, err := clf.Predict(Xte)
		if err != nil {
			return TrainResult{}, err
		}
		a := classifiers.Accuracy(pred, yte)
		acc = &a
	}

	data, err := clf.Save()
	if err != nil {
		return TrainResult{}, err
	}
	art := modelArtifact{
		ID:          uuid.NewString(),
		Model:       ModelRandomForest,
		TransformID: m.TransformID,
		Columns:     m.Columns,
		TrainedAt:   time.Now().UTC(),
		Samples:     m.Len(),
		Data:        data,
		Transform:   m.Transform,
	}
	if err := store.PutGob(ctx, s.store, ClassifierArtifact, art); err != nil {
		return TrainResult{}, fmt.Errorf("persist model: %w", err)
	}

	res := TrainResult{
		ModelID:     art.ID,
		Model:       art.Model,
		Samples:     art.Samples,
		Accuracy:    acc,
		TransformID: art.TransformID,
		Duration:    time.Since(start),
	}
	fields := []zap.Field{
		zap.String("model", res.Model),
		zap.String("model_id", res.ModelID),
		zap.Int("samples", res.Samples),
		zap.Int("holdout", len(testIdx)),
		zap.Bool("normalized", m.Normalized),
		zap.Duration("duration", res.Duration),
	}
	if acc != nil {
		fields = append(fields, zap.Float64("accuracy", *acc))
	}
	s.logger.Info("trained model", fields...)
	return res, nil
}

// Predict returns the class-1 probability per record, or the hard 0/1
// prediction for classifiers without probabilities. Records are encoded with
// the transform the classifier was trained against. It fails with
// detectors.ErrNotTrained when no classifier is persisted.
func (s *Supervised) Predict(ctx context.Context, records []record.EnrichedRecord) ([]float64, error) {
	art, err := loadModel(ctx, s.store, ClassifierArtifact)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []float64{}, nil
	}

	m, err := art.encode(s.builder, records)
	if err != nil {
		return nil, fmt.Errorf("build matrix: %w", err)
	}

	clf := s.newClassifier()
	if err := clf.Load(art.Data); err != nil {
		return nil, &store.StorageError{Op: "decode", Name: ClassifierArtifact, Err: err}
	}

	if p, ok := clf.(classifiers.Probabilistic); ok {
		return p.PredictProba(m.Rows)
	}
	pred, err := clf.Predict(m.Rows)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(pred))
	for i, v := range pred {
		out[i] = float64(v)
	}
	return out, nil
}

func take(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	Xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		Xs[i] = X[j]
		ys[i] = y[j]
	}
	return Xs, ys
}
