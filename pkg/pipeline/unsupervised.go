package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hed1ad/logids/pkg/detectors"
	"github.com/hed1ad/logids/pkg/detectors/iforest"
	"github.com/hed1ad/logids/pkg/matrix"
	"github.com/hed1ad/logids/pkg/record"
	"github.com/hed1ad/logids/pkg/store"
)

// Detection is the unsupervised verdict on a batch.
type Detection struct {
	// Scores are min-max normalized across the batch.
	Scores []float64
	// Anomalous flags rows whose raw score reaches the detector threshold.
	// Nil when the detector has no threshold.
	Anomalous []bool
}

// Unsupervised trains and scores the isolation forest.
type Unsupervised struct {
	store   store.Store
	builder *matrix.Builder
	cfg     detectors.Config
	logger  *zap.Logger
}

// NewUnsupervised creates the unsupervised pipeline.
func NewUnsupervised(s store.Store, b *matrix.Builder, cfg detectors.Config, logger *zap.Logger) *Unsupervised {
	return &Unsupervised{
		store:   s,
		builder: b,
		cfg:     cfg,
		logger:  logger,
	}
}

func (u *Unsupervised) newDetector() detectors.Detector {
	return iforest.New(iforest.FromConfig(u.cfg)...)
}

// Train fits a new transform and isolation forest on records. The model,
// with its transform embedded, is stored first; the transform becomes the
// current one only after that. A failed or cancelled run leaves both
// artifacts as they were.
func (u *Unsupervised) Train(ctx context.Context, records []record.EnrichedRecord) (TrainResult, error) {
	start := time.Now()
	if len(records) == 0 {
		return TrainResult{}, errors.New("no records to train on")
	}

	m, err := u.builder.Build(ctx, records, matrix.Fit)
	if err != nil {
		return TrainResult{}, fmt.Errorf("build matrix: %w", err)
	}

	det := u.newDetector()
	if err := det.Fit(ctx, m.Rows); err != nil {
		return TrainResult{}, fmt.Errorf("fit isolation forest: %w", err)
	}
	data, err := det.Save()
	if err != nil {
		return TrainResult{}, err
	}

	art := modelArtifact{
		ID:          uuid.NewString(),
		Model:       ModelIsolationForest,
		TransformID: m.TransformID,
		Columns:     m.Columns,
		TrainedAt:   time.Now().UTC(),
		Samples:     m.Len(),
		Data:        data,
		Transform:   m.Transform,
	}
	if err := store.PutGob(ctx, u.store, IForestArtifact, art); err != nil {
		return TrainResult{}, fmt.Errorf("persist model: %w", err)
	}
	if err := u.builder.Save(ctx, m.Transform); err != nil {
		return TrainResult{}, err
	}

	res := TrainResult{
		ModelID:     art.ID,
		Model:       art.Model,
		Samples:     art.Samples,
		TransformID: art.TransformID,
		Duration:    time.Since(start),
	}
	fields := []zap.Field{
		zap.String("model", res.Model),
		zap.String("model_id", res.ModelID),
		zap.Int("samples", res.Samples),
		zap.Duration("duration", res.Duration),
	}
	if f, ok := det.(*iforest.IsolationForest); ok {
		fields = append(fields, zap.Int("estimators", f.NumTrees()), zap.Float64("threshold", f.Threshold()))
	}
	u.logger.Info("trained model", fields...)
	return res, nil
}

// Score returns one anomaly score per record, min-max normalized across the
// batch. Higher is more anomalous. It fails with detectors.ErrNotTrained when
// no model is persisted.
func (u *Unsupervised) Score(ctx context.Context, records []record.EnrichedRecord) ([]float64, error) {
	d, err := u.Detect(ctx, records)
	if err != nil {
		return nil, err
	}
	return d.Scores, nil
}

// Detect scores records with the persisted model and flags the rows at or
// above its contamination threshold.
func (u *Unsupervised) Detect(ctx context.Context, records []record.EnrichedRecord) (Detection, error) {
	art, err := loadModel(ctx, u.store, IForestArtifact)
	if err != nil {
		return Detection{}, err
	}
	if len(records) == 0 {
		return Detection{Scores: []float64{}, Anomalous: []bool{}}, nil
	}

	m, err := art.encode(u.builder, records)
	if err != nil {
		return Detection{}, fmt.Errorf("build matrix: %w", err)
	}

	det := u.newDetector()
	if err := det.Load(art.Data); err != nil {
		return Detection{}, &store.StorageError{Op: "decode", Name: IForestArtifact, Err: err}
	}
	raw, err := det.Predict(m.Rows)
	if err != nil {
		return Detection{}, err
	}

	d := Detection{Scores: detectors.MinMaxNormalize(raw)}
	if t, ok := det.(detectors.Thresholded); ok {
		d.Anomalous = detectors.Flag(raw, t.Threshold())
	}
	return d, nil
}
