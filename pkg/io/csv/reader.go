// Package csv reads fixed-schema CSV access logs and analyst label tables,
// and writes alert exports.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/hed1ad/logids/pkg/record"
)

// Columns every log CSV must carry. Extra columns are ignored.
var LogColumns = []string{"timestamp", "source_ip", "method", "path", "status", "user_agent"}

// ErrMissingColumn is returned when a required header column is absent.
var ErrMissingColumn = errors.New("csv missing column")

// Reader reads canonical log records from CSV data with a header row.
// Timestamps without a zone are read as UTC.
type Reader struct {
	reader *csv.Reader
}

// NewReader creates a reader over src.
func NewReader(src io.Reader) *Reader {
	r := &Reader{reader: csv.NewReader(src)}
	// Row width is checked against the header ourselves.
	r.reader.FieldsPerRecord = -1
	return r
}

// Read returns every row as a LogRecord. A missing required column, a
// malformed CSV stream or a row narrower than the header fails the whole read.
func (r *Reader) Read() ([]record.LogRecord, error) {
	header, err := r.reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := columnIndex(header, LogColumns)
	if err != nil {
		return nil, err
	}

	var recs []record.LogRecord
	for {
		row, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) < len(header) {
			line, _ := r.reader.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", line, len(header), len(row))
		}

		recs = append(recs, record.LogRecord{
			Timestamp: parseTime(row[idx["timestamp"]], time.UTC),
			SourceIP:  row[idx["source_ip"]],
			Method:    row[idx["method"]],
			Path:      row[idx["path"]],
			Status:    parseStatus(row[idx["status"]]),
			UserAgent: row[idx["user_agent"]],
		})
	}
	return recs, nil
}

func columnIndex(header, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	for _, c := range required {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("%w %s", ErrMissingColumn, c)
		}
	}
	return idx, nil
}

// parseTime accepts any layout dateparse recognizes. Unparseable values
// become nil and are dropped by feature extraction, not here.
func parseTime(val string, loc *time.Location) *time.Time {
	val = strings.TrimSpace(val)
	if val == "" {
		return nil
	}
	t, err := dateparse.ParseIn(val, loc)
	if err != nil {
		return nil
	}
	return &t
}

// parseStatus coerces to an integer; anything unparseable is 0.
func parseStatus(val string) int {
	val = strings.TrimSpace(val)
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f)
	}
	return 0
}
