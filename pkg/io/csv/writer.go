package csv

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hed1ad/logids/pkg/record"
)

// AlertColumns is the header of an alert export.
var AlertColumns = []string{"timestamp", "source_ip", "path", "status", "anomaly_score", "is_anomaly", "supervised_score", "reasons"}

// Writer writes alert rows as CSV.
type Writer struct {
	w *csv.Writer
}

// NewWriter creates a writer over dst.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(dst)}
}

// WriteAll writes the header followed by rows and flushes. Reasons are
// joined with ';'.
func (w *Writer) WriteAll(rows []record.AlertRow) error {
	if err := w.w.Write(AlertColumns); err != nil {
		return err
	}
	for _, row := range rows {
		semi := ""
		if row.SupervisedScore != nil {
			semi = strconv.FormatFloat(*row.SupervisedScore, 'f', 6, 64)
		}
		err := w.w.Write([]string{
			row.Timestamp.Format(time.RFC3339),
			row.SourceIP,
			row.Path,
			strconv.Itoa(row.Status),
			strconv.FormatFloat(row.AnomalyScore, 'f', 6, 64),
			strconv.FormatBool(row.IsAnomaly),
			semi,
			strings.Join(row.Reasons, ";"),
		})
		if err != nil {
			return err
		}
	}
	w.w.Flush()
	return w.w.Error()
}

// LogTimeLayout is the timestamp layout written by WriteLogs.
const LogTimeLayout = "2006-01-02 15:04:05"

// WriteLogs writes records in the log CSV shape read by Reader. Records
// without a timestamp get an empty timestamp cell.
func WriteLogs(dst io.Writer, recs []record.LogRecord) error {
	w := csv.NewWriter(dst)
	if err := w.Write(LogColumns); err != nil {
		return err
	}
	for i := range recs {
		rec := &recs[i]
		ts := ""
		if rec.Timestamp != nil {
			ts = rec.Timestamp.Format(LogTimeLayout)
		}
		err := w.Write([]string{
			ts,
			rec.SourceIP,
			rec.Method,
			rec.Path,
			strconv.Itoa(rec.Status),
			rec.UserAgent,
		})
		if err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
