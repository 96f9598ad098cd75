// Package matrix encodes enriched records as a fixed-width numeric matrix and
// owns the normalization transform shared by training and inference.
//
// The column layout is derived from a declared category universe, not from
// the categories observed in a batch, so every build emits the same columns
// in the same order.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hed1ad/logids/pkg/record"
	"github.com/hed1ad/logids/pkg/store"
)

// ArtifactName is the store name of the persisted transform.
const ArtifactName = "transform"

// Mode selects whether Build fits a new transform or applies the stored one.
type Mode int

const (
	// Fit derives columns and fits a new transform in memory. The caller
	// persists it with Save once the model trained on it is stored.
	Fit Mode = iota
	// Transform applies the persisted transform, or returns raw columns when
	// none exists.
	Transform
)

func (m Mode) String() string {
	if m == Fit {
		return "fit"
	}
	return "transform"
}

// ErrSchemaMismatch is returned when the persisted transform was fitted for a
// different column layout than the builder's.
var ErrSchemaMismatch = errors.New("feature schema mismatch")

// NumericColumns are copied from the record as-is.
var NumericColumns = []string{"hour", "path_depth", "rpm", "path_count", "payload_len"}

// Schema declares the category universe. The first level of each universe is
// the reference level and gets no column.
type Schema struct {
	StatusCats []string
	UACats     []string
}

// DefaultSchema is the fixed universe used by every build.
func DefaultSchema() Schema {
	return Schema{
		StatusCats: []string{"1xx", "2xx", "3xx", "4xx", "5xx"},
		UACats:     []string{record.UABot, record.UABrowser, record.UAOther},
	}
}

// Columns returns the full column list in encoding order.
func (s Schema) Columns() []string {
	cols := slices.Clone(NumericColumns)
	for _, c := range s.StatusCats[1:] {
		cols = append(cols, "status_cat_"+c)
	}
	for _, c := range s.UACats[1:] {
		cols = append(cols, "ua_cat_"+c)
	}
	return cols
}

// Equal reports whether two schemas produce the same layout.
func (s Schema) Equal(o Schema) bool {
	return slices.Equal(s.StatusCats, o.StatusCats) && slices.Equal(s.UACats, o.UACats)
}

// Encode returns the raw (unnormalized) row for rec.
func (s Schema) Encode(rec *record.EnrichedRecord) []float64 {
	row := make([]float64, 0, len(NumericColumns)+len(s.StatusCats)+len(s.UACats)-2)
	row = append(row,
		float64(rec.Hour),
		float64(rec.PathDepth),
		float64(rec.RPM),
		float64(rec.PathCount),
		float64(rec.PayloadLen),
	)
	row = appendOneHot(row, s.StatusCats, rec.StatusCat)
	row = appendOneHot(row, s.UACats, rec.UACat)
	return row
}

// appendOneHot appends one indicator per non-reference level. Values outside
// the universe encode like the reference level.
func appendOneHot(row []float64, levels []string, val string) []float64 {
	for _, lvl := range levels[1:] {
		if lvl == val {
			row = append(row, 1)
		} else {
			row = append(row, 0)
		}
	}
	return row
}

// Matrix is an encoded record batch.
type Matrix struct {
	Columns []string
	Rows    [][]float64
	// Normalized is false when no transform was available.
	Normalized bool
	// TransformID identifies the transform applied, empty when not normalized.
	TransformID string
	// Transform is the transform applied, nil when not normalized.
	Transform *TransformArtifact
}

// Len returns the number of rows.
func (m *Matrix) Len() int {
	return len(m.Rows)
}

// TransformArtifact is the persisted normalization state.
type TransformArtifact struct {
	ID       string
	Schema   Schema
	Columns  []string
	Scaler   StandardScaler
	FittedAt time.Time
	Samples  int
}

// Builder converts enriched records to matrices.
type Builder struct {
	store  store.Store
	schema Schema
	logger *zap.Logger
}

// NewBuilder creates a builder persisting its transform in s.
func NewBuilder(s store.Store, logger *zap.Logger) *Builder {
	return &Builder{
		store:  s,
		schema: DefaultSchema(),
		logger: logger,
	}
}

// Raw encodes records without any normalization.
func (b *Builder) Raw(records []record.EnrichedRecord) Matrix {
	rows := make([][]float64, len(records))
	for i := range records {
		rows[i] = b.schema.Encode(&records[i])
	}
	return Matrix{Columns: b.schema.Columns(), Rows: rows}
}

// Build encodes records in the given mode.
func (b *Builder) Build(ctx context.Context, records []record.EnrichedRecord, mode Mode) (Matrix, error) {
	m := b.Raw(records)

	switch mode {
	case Fit:
		return b.fit(m)
	case Transform:
		return b.transform(ctx, m)
	default:
		return Matrix{}, fmt.Errorf("unknown build mode %d", mode)
	}
}

func (b *Builder) fit(m Matrix) (Matrix, error) {
	if m.Len() == 0 {
		return Matrix{}, errors.New("cannot fit transform on empty batch")
	}

	var sc StandardScaler
	if err := sc.Fit(m.Rows); err != nil {
		return Matrix{}, err
	}
	art := &TransformArtifact{
		ID:       uuid.NewString(),
		Schema:   b.schema,
		Columns:  m.Columns,
		Scaler:   sc,
		FittedAt: time.Now().UTC(),
		Samples:  m.Len(),
	}
	return b.apply(m, art)
}

// Save persists art as the current transform.
func (b *Builder) Save(ctx context.Context, art *TransformArtifact) error {
	if err := store.PutGob(ctx, b.store, ArtifactName, art); err != nil {
		return fmt.Errorf("persist transform: %w", err)
	}
	b.logger.Info("saved feature transform",
		zap.String("transform_id", art.ID),
		zap.Int("samples", art.Samples),
		zap.Int("columns", len(art.Columns)))
	return nil
}

// Apply encodes records with art, or returns raw columns when art is nil.
// A transform fitted for another layout fails with ErrSchemaMismatch.
func (b *Builder) Apply(records []record.EnrichedRecord, art *TransformArtifact) (Matrix, error) {
	m := b.Raw(records)
	if art == nil {
		return m, nil
	}
	return b.apply(m, art)
}

func (b *Builder) transform(ctx context.Context, m Matrix) (Matrix, error) {
	art, err := b.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		b.logger.Warn("no feature transform persisted, using raw columns")
		return m, nil
	}
	if err != nil {
		return Matrix{}, err
	}
	return b.apply(m, &art)
}

// Load returns the persisted transform.
func (b *Builder) Load(ctx context.Context) (TransformArtifact, error) {
	var art TransformArtifact
	if err := store.GetGob(ctx, b.store, ArtifactName, &art); err != nil {
		return TransformArtifact{}, err
	}
	return art, nil
}

func (b *Builder) apply(m Matrix, art *TransformArtifact) (Matrix, error) {
	if !art.Schema.Equal(b.schema) || !slices.Equal(art.Columns, m.Columns) {
		return Matrix{}, fmt.Errorf("%w: transform %s has columns %v, builder has %v",
			ErrSchemaMismatch, art.ID, art.Columns, m.Columns)
	}
	rows, err := art.Scaler.Transform(m.Rows)
	if err != nil {
		return Matrix{}, err
	}
	return Matrix{
		Columns:     m.Columns,
		Rows:        rows,
		Normalized:  true,
		TransformID: art.ID,
		Transform:   art,
	}, nil
}
