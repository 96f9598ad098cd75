// Package service is the application layer: it ingests log batches, runs
// training, and produces ranked, explained alerts.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hed1ad/logids/pkg/detectors"
	"github.com/hed1ad/logids/pkg/explain"
	"github.com/hed1ad/logids/pkg/features"
	logio "github.com/hed1ad/logids/pkg/io"
	"github.com/hed1ad/logids/pkg/io/csv"
	"github.com/hed1ad/logids/pkg/matrix"
	"github.com/hed1ad/logids/pkg/metrics"
	"github.com/hed1ad/logids/pkg/pipeline"
	"github.com/hed1ad/logids/pkg/record"
	"github.com/hed1ad/logids/pkg/store"
)

// Store names of ingested data.
const (
	DatasetPrefix = "datasets/"
	LatestDataset = DatasetPrefix + "latest"
	LatestLabels  = "labels/latest"
)

// DefaultAlertLimit caps alert listings when no limit is given.
const DefaultAlertLimit = 100

var (
	// ErrNoDataset is returned when nothing has been ingested yet.
	ErrNoDataset = errors.New("no dataset ingested")
	// ErrNoLabels is returned by supervised training without a label table.
	ErrNoLabels = errors.New("no labels uploaded")
	// ErrInvalidLabels wraps label tables that cannot be read.
	ErrInvalidLabels = errors.New("invalid label table")
)

// Config holds the model and rule settings of the service.
type Config struct {
	IForest    detectors.Config
	Classifier pipeline.SupervisedConfig
	Explain    explain.Config
}

// Dataset is an ingested, enriched batch.
type Dataset struct {
	Name       string
	IngestedAt time.Time
	Records    []record.EnrichedRecord
}

// IngestResult reports a stored batch.
type IngestResult struct {
	Status   string `json:"status"`
	Ingested int    `json:"ingested"`
	Dataset  string `json:"dataset"`
	Format   string `json:"format"`
	Skipped  int    `json:"skipped"`
}

// AlertQuery filters and bounds an alert listing.
type AlertQuery struct {
	IP         string
	Limit      int
	Supervised bool
}

// Service wires the pipeline components over one store.
type Service struct {
	store        store.Store
	unsupervised *pipeline.Unsupervised
	supervised   *pipeline.Supervised
	explainer    *explain.Engine
	jobs         *Jobs
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// New creates a Service.
func New(s store.Store, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Service {
	b := matrix.NewBuilder(s, logger.Named("matrix"))
	return &Service{
		store:        s,
		unsupervised: pipeline.NewUnsupervised(s, b, cfg.IForest, logger.Named("unsupervised")),
		supervised:   pipeline.NewSupervised(s, b, cfg.Classifier, logger.Named("supervised")),
		explainer:    explain.New(cfg.Explain),
		jobs:         NewJobs(logger.Named("jobs")),
		metrics:      m,
		logger:       logger,
	}
}

// Jobs returns the background job manager.
func (s *Service) Jobs() *Jobs {
	return s.jobs
}

// Close cancels running jobs.
func (s *Service) Close() {
	s.jobs.Close()
}

// Ingest parses raw log bytes, enriches them and stores the batch as the
// latest dataset.
func (s *Service) Ingest(ctx context.Context, raw []byte) (IngestResult, error) {
	b, err := logio.ParseBatch(raw)
	if err != nil {
		return IngestResult{}, err
	}
	return s.IngestBatch(ctx, b)
}

// IngestBatch enriches an already parsed batch and stores it as the latest
// dataset.
func (s *Service) IngestBatch(ctx context.Context, b logio.Batch) (IngestResult, error) {
	enriched := features.Extract(b.Records)

	now := time.Now().UTC()
	ds := Dataset{
		Name:       fmt.Sprintf("%s%d-%s", DatasetPrefix, now.UnixNano(), uuid.NewString()),
		IngestedAt: now,
		Records:    enriched,
	}
	if err := store.PutGob(ctx, s.store, ds.Name, ds); err != nil {
		return IngestResult{}, fmt.Errorf("store dataset: %w", err)
	}
	if err := s.store.Put(ctx, LatestDataset, []byte(ds.Name)); err != nil {
		return IngestResult{}, fmt.Errorf("update latest dataset: %w", err)
	}

	s.metrics.IngestedRecords.Add(float64(len(enriched)))
	s.logger.Info("ingested dataset",
		zap.String("dataset", ds.Name),
		zap.String("format", b.Format),
		zap.Int("parsed", len(b.Records)),
		zap.Int("skipped", b.Skipped),
		zap.Int("ingested", len(enriched)))

	return IngestResult{
		Status:   "ok",
		Ingested: len(enriched),
		Dataset:  ds.Name,
		Format:   b.Format,
		Skipped:  b.Skipped,
	}, nil
}

// LatestDataset returns the most recently ingested batch.
func (s *Service) LatestDataset(ctx context.Context) (Dataset, error) {
	name, err := s.store.Get(ctx, LatestDataset)
	if errors.Is(err, store.ErrNotFound) {
		return Dataset{}, ErrNoDataset
	}
	if err != nil {
		return Dataset{}, err
	}
	var ds Dataset
	if err := store.GetGob(ctx, s.store, strings.TrimSpace(string(name)), &ds); err != nil {
		return Dataset{}, fmt.Errorf("load dataset: %w", err)
	}
	return ds, nil
}

// IngestLabels reads a label CSV and stores it as the current label table.
func (s *Service) IngestLabels(ctx context.Context, src io.Reader) (int, error) {
	labels, err := csv.ReadLabels(src)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLabels, err)
	}
	if err := store.PutGob(ctx, s.store, LatestLabels, labels); err != nil {
		return 0, fmt.Errorf("store labels: %w", err)
	}
	s.logger.Info("stored labels", zap.Int("labels", len(labels)))
	return len(labels), nil
}

// Labels returns the stored label table.
func (s *Service) Labels(ctx context.Context) ([]record.Label, error) {
	var labels []record.Label
	err := store.GetGob(ctx, s.store, LatestLabels, &labels)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoLabels
	}
	return labels, err
}

// TrainUnsupervised trains the isolation forest on the latest dataset.
func (s *Service) TrainUnsupervised(ctx context.Context) (pipeline.TrainResult, error) {
	start := time.Now()
	res, err := s.trainUnsupervised(ctx)
	s.metrics.ObserveTraining(pipeline.ModelIsolationForest, time.Since(start), err)
	return res, err
}

func (s *Service) trainUnsupervised(ctx context.Context) (pipeline.TrainResult, error) {
	ds, err := s.LatestDataset(ctx)
	if err != nil {
		return pipeline.TrainResult{}, err
	}
	return s.unsupervised.Train(ctx, ds.Records)
}

// TrainSupervised trains the classifier on the latest dataset. A nil labels
// slice uses the stored label table.
func (s *Service) TrainSupervised(ctx context.Context, labels []record.Label) (pipeline.TrainResult, error) {
	start := time.Now()
	res, err := s.trainSupervised(ctx, labels)
	s.metrics.ObserveTraining(pipeline.ModelRandomForest, time.Since(start), err)
	return res, err
}

func (s *Service) trainSupervised(ctx context.Context, labels []record.Label) (pipeline.TrainResult, error) {
	ds, err := s.LatestDataset(ctx)
	if err != nil {
		return pipeline.TrainResult{}, err
	}
	if labels == nil {
		if labels, err = s.Labels(ctx); err != nil {
			return pipeline.TrainResult{}, err
		}
	}
	return s.supervised.Train(ctx, ds.Records, labels)
}

// scores holds the optional model outputs for a batch. A nil slice means the
// model was not trained or not requested.
type scores struct {
	anomaly    []float64
	anomalous  []bool
	supervised []float64
}

func (s *Service) score(ctx context.Context, recs []record.EnrichedRecord, withSupervised bool) (scores, error) {
	var out scores

	det, err := s.unsupervised.Detect(ctx, recs)
	switch {
	case errors.Is(err, detectors.ErrNotTrained):
		s.logger.Debug("isolation forest not trained, anomaly scores default to 0")
	case err != nil:
		return scores{}, err
	default:
		out.anomaly = det.Scores
		out.anomalous = det.Anomalous
		s.metrics.ScoredRows.WithLabelValues(pipeline.ModelIsolationForest).Add(float64(len(recs)))
	}

	if withSupervised {
		sup, err := s.supervised.Predict(ctx, recs)
		switch {
		case errors.Is(err, detectors.ErrNotTrained):
			s.logger.Debug("classifier not trained, supervised scores skipped")
		case err != nil:
			return scores{}, err
		default:
			out.supervised = sup
			s.metrics.ScoredRows.WithLabelValues(pipeline.ModelRandomForest).Add(float64(len(recs)))
		}
	}
	return out, nil
}

// Alerts scores the latest dataset and returns its rows ranked by anomaly
// score, highest first. Scores are normalized over the whole batch before
// the IP filter applies. Without a dataset the listing is empty.
func (s *Service) Alerts(ctx context.Context, q AlertQuery) ([]record.AlertRow, error) {
	ds, err := s.LatestDataset(ctx)
	if errors.Is(err, ErrNoDataset) {
		return []record.AlertRow{}, nil
	}
	if err != nil {
		return nil, err
	}

	sc, err := s.score(ctx, ds.Records, q.Supervised)
	if err != nil {
		return nil, err
	}

	rows := make([]record.AlertRow, 0, len(ds.Records))
	for i := range ds.Records {
		rec := &ds.Records[i]
		if q.IP != "" && rec.SourceIP != q.IP {
			continue
		}
		row := record.AlertRow{
			Timestamp: rec.Time(),
			SourceIP:  rec.SourceIP,
			Path:      rec.Path,
			Status:    rec.Status,
			Reasons:   s.explainer.Explain(rec),
		}
		if sc.anomaly != nil {
			row.AnomalyScore = sc.anomaly[i]
		}
		if sc.anomalous != nil {
			row.IsAnomaly = sc.anomalous[i]
		}
		if sc.supervised != nil {
			v := sc.supervised[i]
			row.SupervisedScore = &v
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].AnomalyScore > rows[b].AnomalyScore
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// Artifacts lists the trained artifacts present in the store.
func (s *Service) Artifacts(ctx context.Context) ([]string, error) {
	names, err := s.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	known := map[string]bool{
		matrix.ArtifactName:         true,
		pipeline.IForestArtifact:    true,
		pipeline.ClassifierArtifact: true,
	}
	out := []string{}
	for _, name := range names {
		if known[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// ExportAlerts writes alerts for q as CSV.
func (s *Service) ExportAlerts(ctx context.Context, q AlertQuery, w io.Writer) error {
	rows, err := s.Alerts(ctx, q)
	if err != nil {
		return err
	}
	var out logio.Writer = csv.NewWriter(w)
	return out.WriteAll(rows)
}
