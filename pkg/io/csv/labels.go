package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hed1ad/logids/pkg/record"
)

// LabelColumns are required in a label table.
var LabelColumns = []string{"timestamp", "source_ip", "label"}

// ReadLabels reads an analyst label table. Rows whose timestamp cannot be
// parsed can never join a record and are skipped; a label outside {0,1} is
// an error.
func ReadLabels(src io.Reader) ([]record.Label, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read label header: %w", err)
	}
	idx, err := columnIndex(header, LabelColumns)
	if err != nil {
		return nil, err
	}

	var labels []record.Label
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) < len(header) {
			continue
		}

		ts := parseTime(row[idx["timestamp"]], time.UTC)
		if ts == nil {
			continue
		}
		lbl, err := strconv.Atoi(strings.TrimSpace(row[idx["label"]]))
		if err != nil || (lbl != 0 && lbl != 1) {
			line, _ := r.FieldPos(idx["label"])
			return nil, fmt.Errorf("line %d: label must be 0 or 1, got %q", line, row[idx["label"]])
		}

		labels = append(labels, record.Label{
			Timestamp: *ts,
			SourceIP:  row[idx["source_ip"]],
			Label:     lbl,
		})
	}
	return labels, nil
}
