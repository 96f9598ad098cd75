// Package io provides log ingestion: shape detection and parsing of raw
// access-log bytes into canonical records.
package io

import (
	"bytes"
	"errors"
	"fmt"
	stdio "io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/hed1ad/logids/pkg/io/accesslog"
	"github.com/hed1ad/logids/pkg/io/csv"
	"github.com/hed1ad/logids/pkg/record"
)

// Reader is the interface for reading canonical records from a source.
type Reader interface {
	// Read returns the complete record set.
	Read() ([]record.LogRecord, error)
}

// Writer is the interface for exporting scored alerts.
type Writer interface {
	// WriteAll outputs all rows and flushes.
	WriteAll(rows []record.AlertRow) error
}

// FormatError reports input that matches neither supported log shape.
type FormatError struct {
	// CSVErr is why the CSV attempt was rejected.
	CSVErr error
}

func (e *FormatError) Error() string {
	if e.CSVErr != nil {
		return fmt.Sprintf("unsupported log format: not a valid CSV (%v) and no access-log lines matched", e.CSVErr)
	}
	return "unsupported log format: no access-log lines matched"
}

func (e *FormatError) Unwrap() error {
	return e.CSVErr
}

// IsFormatError reports whether err is (or wraps) a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

var gzipMagic = []byte{0x1f, 0x8b}

// Input shapes reported in Batch.Format.
const (
	FormatCSV       = "csv"
	FormatAccessLog = "accesslog"
)

// Batch is a parsed input with its detected shape.
type Batch struct {
	Records []record.LogRecord
	Format  string
	// Skipped counts access-log lines that did not match the pattern.
	Skipped int
}

// ParseBatch detects the shape of data and parses it. The CSV shape is tried
// first; on any failure every line is matched against the access-log
// pattern. Zero access-log rows yields a *FormatError.
func ParseBatch(data []byte) (Batch, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		plain, err := gunzip(data)
		if err != nil {
			return Batch{}, &FormatError{CSVErr: err}
		}
		data = plain
	}

	var rd Reader = csv.NewReader(bytes.NewReader(data))
	recs, csvErr := rd.Read()
	if csvErr == nil {
		return Batch{Records: recs, Format: FormatCSV}, nil
	}

	al := accesslog.NewReader(bytes.NewReader(data))
	rd = al
	recs, err := rd.Read()
	if err != nil {
		return Batch{}, fmt.Errorf("read access log: %w", err)
	}
	if len(recs) == 0 {
		return Batch{}, &FormatError{CSVErr: csvErr}
	}
	return Batch{Records: recs, Format: FormatAccessLog, Skipped: al.Skipped()}, nil
}

// ParseFile reads the file at path and parses it with ParseBatch.
func ParseFile(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, err
	}
	return ParseBatch(data)
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()

	plain, err := stdio.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress gzip stream: %w", err)
	}
	return plain, nil
}
