package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hed1ad/logids/pkg/classifiers"
	"github.com/hed1ad/logids/pkg/detectors"
	"github.com/hed1ad/logids/pkg/features"
	"github.com/hed1ad/logids/pkg/matrix"
	"github.com/hed1ad/logids/pkg/record"
	"github.com/hed1ad/logids/pkg/store"
)

const attackerIP = "203.0.113.55"

type fixture struct {
	store        store.Store
	unsupervised *Unsupervised
	supervised   *Supervised
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	b := matrix.NewBuilder(s, zap.NewNop())

	dcfg := detectors.DefaultConfig()
	dcfg.Estimators = 25
	scfg := DefaultSupervisedConfig()
	scfg.Estimators = 25

	return fixture{
		store:        s,
		unsupervised: NewUnsupervised(s, b, dcfg, zap.NewNop()),
		supervised:   NewSupervised(s, b, scfg, zap.NewNop()),
	}
}

// traffic returns n benign requests with every tenth row an attack.
func traffic(n int) []record.EnrichedRecord {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := make([]record.LogRecord, n)
	for i := range recs {
		at := base.Add(time.Duration(i) * time.Second)
		rec := record.LogRecord{
			Timestamp: &at,
			SourceIP:  fmt.Sprintf("10.0.0.%d", i%20),
			Method:    "GET",
			Path:      fmt.Sprintf("/products/%d", i%5),
			Status:    200,
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64)",
		}
		if i%10 == 0 {
			rec.SourceIP = attackerIP
			rec.Path = fmt.Sprintf("/admin/a/b/c/d/e/%d", i)
			rec.Status = 500
			rec.UserAgent = "sqlmap/1.7"
		}
		recs[i] = rec
	}
	return features.Extract(recs)
}

func labelsFor(recs []record.EnrichedRecord) []record.Label {
	var out []record.Label
	for _, r := range recs {
		if r.SourceIP == attackerIP {
			out = append(out, record.Label{Timestamp: *r.Timestamp, SourceIP: r.SourceIP, Label: 1})
		}
	}
	return out
}

func TestUnsupervisedScoreNotTrained(t *testing.T) {
	f := newFixture(t)
	_, err := f.unsupervised.Score(context.Background(), traffic(10))
	assert.ErrorIs(t, err, detectors.ErrNotTrained)
}

func TestUnsupervisedTrainScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	recs := traffic(200)

	res, err := f.unsupervised.Train(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, ModelIsolationForest, res.Model)
	assert.Equal(t, 200, res.Samples)
	assert.NotEmpty(t, res.ModelID)
	assert.NotEmpty(t, res.TransformID)
	assert.Nil(t, res.Accuracy)

	names, err := f.store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, IForestArtifact)
	assert.Contains(t, names, matrix.ArtifactName)

	scores, err := f.unsupervised.Score(ctx, recs)
	require.NoError(t, err)
	require.Len(t, scores, len(recs))

	var maxScore float64
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.Less(t, s, 1.0)
		if s > maxScore {
			maxScore = s
		}
	}
	assert.InDelta(t, 1.0, maxScore, 1e-6)

	// attacks rank above the benign median
	var attack, benign float64
	for i, r := range recs {
		if r.SourceIP == attackerIP {
			attack += scores[i] / 20
		} else {
			benign += scores[i] / 180
		}
	}
	assert.Greater(t, attack, benign)
}

func TestUnsupervisedScoreConstantBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.unsupervised.Train(ctx, traffic(50))
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	same := make([]record.LogRecord, 4)
	for i := range same {
		same[i] = record.LogRecord{Timestamp: &at, SourceIP: "10.0.0.1", Method: "GET", Path: "/", Status: 200, UserAgent: "Mozilla"}
	}
	scores, err := f.unsupervised.Score(ctx, features.Extract(same))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0}, scores)
}

func TestUnsupervisedTrainEmpty(t *testing.T) {
	f := newFixture(t)
	_, err := f.unsupervised.Train(context.Background(), nil)
	assert.Error(t, err)
}

func TestUnsupervisedTrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(t)

	_, err := f.unsupervised.Train(ctx, traffic(50))
	assert.ErrorIs(t, err, context.Canceled)
}

// failingStore rejects writes to one blob name.
type failingStore struct {
	store.Store
	fail string
}

func (s *failingStore) Put(ctx context.Context, name string, data []byte) error {
	if name == s.fail {
		return &store.StorageError{Op: "put", Name: name, Err: errors.New("disk full")}
	}
	return s.Store.Put(ctx, name, data)
}

func TestUnsupervisedFailedRetrainKeepsArtifacts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	recs := traffic(200)

	first, err := f.unsupervised.Train(ctx, recs)
	require.NoError(t, err)
	before, err := f.unsupervised.Score(ctx, recs)
	require.NoError(t, err)

	broken := &failingStore{Store: f.store, fail: IForestArtifact}
	b := matrix.NewBuilder(broken, zap.NewNop())
	retrain := NewUnsupervised(broken, b, f.unsupervised.cfg, zap.NewNop())
	_, err = retrain.Train(ctx, traffic(37))
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))

	current, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.TransformID, current.ID, "transform unchanged")

	after, err := f.unsupervised.Score(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUnsupervisedCancelledRetrainKeepsArtifacts(t *testing.T) {
	f := newFixture(t)
	recs := traffic(120)

	first, err := f.unsupervised.Train(context.Background(), recs)
	require.NoError(t, err)
	before, err := f.unsupervised.Score(context.Background(), recs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.unsupervised.Train(ctx, traffic(40))
	require.ErrorIs(t, err, context.Canceled)

	current, err := f.unsupervised.builder.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.TransformID, current.ID)

	after, err := f.unsupervised.Score(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUnsupervisedDetect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	recs := traffic(200)
	_, err := f.unsupervised.Train(ctx, recs)
	require.NoError(t, err)

	d, err := f.unsupervised.Detect(ctx, recs)
	require.NoError(t, err)
	require.Len(t, d.Scores, len(recs))
	require.Len(t, d.Anomalous, len(recs))

	// flags follow the score order: every flagged row outranks every other row
	minFlagged, maxOther := 2.0, -1.0
	top := 0
	for i, a := range d.Anomalous {
		if a {
			minFlagged = min(minFlagged, d.Scores[i])
		} else {
			maxOther = max(maxOther, d.Scores[i])
		}
		if d.Scores[i] > d.Scores[top] {
			top = i
		}
	}
	assert.Greater(t, minFlagged, maxOther)
	assert.True(t, d.Anomalous[top])
	assert.Equal(t, attackerIP, recs[top].SourceIP)

	empty, err := f.unsupervised.Detect(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Scores)
	assert.Empty(t, empty.Anomalous)
}

func TestSupervisedPredictKeepsTrainingTransform(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	recs := traffic(150)

	_, err := f.unsupervised.Train(ctx, recs)
	require.NoError(t, err)
	_, err = f.supervised.Train(ctx, recs, labelsFor(recs))
	require.NoError(t, err)
	before, err := f.supervised.Predict(ctx, recs)
	require.NoError(t, err)

	// a retrain on different traffic replaces the current transform
	_, err = f.unsupervised.Train(ctx, traffic(41))
	require.NoError(t, err)

	after, err := f.supervised.Predict(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSupervisedSinglePositiveLabel(t *testing.T) {
	ctx := context.Background()
	for n := 5; n <= 30; n++ {
		f := newFixture(t)
		recs := traffic(n)
		labels := []record.Label{{Timestamp: *recs[n-1].Timestamp, SourceIP: recs[n-1].SourceIP, Label: 1}}

		_, err := f.supervised.Train(ctx, recs, labels)
		require.NoError(t, err, "n=%d", n)
	}
}

func TestSupervisedSingleClass(t *testing.T) {
	f := newFixture(t)
	recs := traffic(30)

	_, err := f.supervised.Train(context.Background(), recs, nil)
	assert.ErrorIs(t, err, classifiers.ErrInsufficientClasses)
}

func TestSupervisedPredictNotTrained(t *testing.T) {
	f := newFixture(t)
	_, err := f.supervised.Predict(context.Background(), traffic(5))
	assert.ErrorIs(t, err, detectors.ErrNotTrained)
}

func TestSupervisedTrainPredict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	recs := traffic(200)

	_, err := f.unsupervised.Train(ctx, recs)
	require.NoError(t, err)

	res, err := f.supervised.Train(ctx, recs, labelsFor(recs))
	require.NoError(t, err)
	assert.Equal(t, ModelRandomForest, res.Model)
	assert.Equal(t, 200, res.Samples)
	require.NotNil(t, res.Accuracy)
	assert.GreaterOrEqual(t, *res.Accuracy, 0.9)

	proba, err := f.supervised.Predict(ctx, recs)
	require.NoError(t, err)
	require.Len(t, proba, len(recs))
	for i, r := range recs {
		if r.SourceIP == attackerIP {
			assert.Greater(t, proba[i], 0.5, "row %d", i)
		} else {
			assert.Less(t, proba[i], 0.5, "row %d", i)
		}
	}
}

func TestSupervisedTrainWithoutTransform(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	recs := traffic(60)

	res, err := f.supervised.Train(ctx, recs, labelsFor(recs))
	require.NoError(t, err)
	assert.Empty(t, res.TransformID)

	proba, err := f.supervised.Predict(ctx, recs)
	require.NoError(t, err)
	assert.Len(t, proba, len(recs))
}

func TestMergeLabels(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)
	recs := []record.EnrichedRecord{
		{LogRecord: record.LogRecord{Timestamp: &t0, SourceIP: "1.1.1.1"}},
		{LogRecord: record.LogRecord{Timestamp: &t1, SourceIP: "1.1.1.1"}},
		{LogRecord: record.LogRecord{Timestamp: &t0, SourceIP: "2.2.2.2"}},
	}
	labels := []record.Label{
		{Timestamp: t0, SourceIP: "1.1.1.1", Label: 1},
		{Timestamp: t0, SourceIP: "1.1.1.1", Label: 0},
		{Timestamp: t1, SourceIP: "1.1.1.1", Label: 0},
		{Timestamp: t0.In(time.FixedZone("x", 3600)), SourceIP: "2.2.2.2", Label: 1},
		{Timestamp: t0, SourceIP: "9.9.9.9", Label: 1},
	}

	assert.Equal(t, []int{1, 0, 1}, MergeLabels(recs, labels))
}

func TestTrainTestSplit(t *testing.T) {
	t.Run("stratified", func(t *testing.T) {
		y := make([]int, 50)
		for i := 0; i < 10; i++ {
			y[i] = 1
		}
		train, test := TrainTestSplit(y, 0.2, 42)
		assert.Len(t, train, 40)
		assert.Len(t, test, 10)
		assert.Equal(t, 2, classCounts(pick(y, test))[1])
		assert.Equal(t, 8, classCounts(pick(y, train))[1])
	})

	t.Run("small stratified keeps holdout empty", func(t *testing.T) {
		train, test := TrainTestSplit([]int{0, 0, 1, 1}, 0.2, 42)
		assert.Len(t, train, 4)
		assert.Empty(t, test)
	})

	t.Run("singleton class falls back to shuffle", func(t *testing.T) {
		train, test := TrainTestSplit([]int{0, 0, 0, 1}, 0.2, 42)
		assert.Len(t, train, 3)
		assert.Len(t, test, 1)
		assert.Contains(t, train, 3)
	})

	t.Run("singleton class always trains", func(t *testing.T) {
		for n := 2; n <= 40; n++ {
			for seed := int64(0); seed < 20; seed++ {
				y := make([]int, n)
				y[int(seed)%n] = 1
				train, test := TrainTestSplit(y, 0.2, seed)
				require.Len(t, classCounts(pick(y, train)), 2, "n=%d seed=%d", n, seed)
				assert.Len(t, test, min(n-2, int(math.Ceil(0.2*float64(n)))), "n=%d seed=%d", n, seed)
			}
		}
	})

	t.Run("single class", func(t *testing.T) {
		train, test := TrainTestSplit([]int{0, 0, 0, 0, 0}, 0.2, 1)
		assert.Len(t, train, 4)
		assert.Len(t, test, 1)
	})

	t.Run("deterministic", func(t *testing.T) {
		y := []int{0, 1, 0, 1, 0, 1, 0, 1, 0, 0, 0, 0}
		a1, b1 := TrainTestSplit(y, 0.2, 7)
		a2, b2 := TrainTestSplit(y, 0.2, 7)
		assert.Equal(t, a1, a2)
		assert.Equal(t, b1, b2)
	})
}

func pick(y, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}
