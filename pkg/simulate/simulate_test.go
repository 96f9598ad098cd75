package simulate

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logio "github.com/hed1ad/logids/pkg/io"
)

func TestGenerate(t *testing.T) {
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	recs := Generate(Config{Lines: 2000, AttackRate: 0.05, Seed: 7, Start: start})
	require.Len(t, recs, 2000)

	var attacks int
	for i, r := range recs {
		require.NotNil(t, r.Timestamp)
		assert.Equal(t, start.Add(time.Duration(i/LinesPerSecond)*time.Second), *r.Timestamp)
		if r.SourceIP == AttackerIP {
			attacks++
			assert.Contains(t, []string{"sqlmap/1.4", "Mozilla/5.0 (bot)"}, r.UserAgent)
			assert.Contains(t, []string{"GET", "POST"}, r.Method)
		}
	}
	assert.Greater(t, attacks, 50)
	assert.Less(t, attacks, 150)
}

func TestGenerateDeterministic(t *testing.T) {
	cfg := Config{Lines: 100, AttackRate: 0.1, Seed: 3, Start: time.Unix(0, 0).UTC()}
	assert.Equal(t, Generate(cfg), Generate(cfg))
}

func TestGenerateNoAttacks(t *testing.T) {
	for _, r := range Generate(Config{Lines: 500, Seed: 1}) {
		assert.NotEqual(t, AttackerIP, r.SourceIP)
	}
}

func TestWriteCSVParses(t *testing.T) {
	cfg := Config{Lines: 50, AttackRate: 0.2, Seed: 9, Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, cfg))

	batch, err := logio.ParseBatch(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, logio.FormatCSV, batch.Format)
	recs := batch.Records

	want := Generate(cfg)
	require.Len(t, recs, len(want))
	for i := range want {
		require.NotNil(t, recs[i].Timestamp)
		assert.True(t, want[i].Timestamp.Equal(*recs[i].Timestamp))
		assert.Equal(t, want[i].SourceIP, recs[i].SourceIP)
		assert.Equal(t, want[i].Path, recs[i].Path)
		assert.Equal(t, want[i].Status, recs[i].Status)
		assert.Equal(t, want[i].UserAgent, recs[i].UserAgent)
	}
}
