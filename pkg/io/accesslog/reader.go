// Package accesslog reads web-server access logs in the combined log format.
package accesslog

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hed1ad/logids/pkg/record"
)

// TimeLayout is the embedded request time, without its zone suffix.
const TimeLayout = "02/Jan/2006:15:04:05"

// maxLineSize bounds a single log line.
const maxLineSize = 1 << 20

// linePattern captures
//
//	<ip> <ident> <user> [<time>] "<request>" <status> <size> "<referrer>" "<user agent>"
var linePattern = regexp.MustCompile(
	`^(?P<ip>\S+) \S+ \S+ \[(?P<time>.*?)\] "(?P<req>.*?)" (?P<status>\d{3}) (?P<size>\d+|-) "(?P<ref>.*?)" "(?P<ua>.*?)"`,
)

var (
	ipIdx     = linePattern.SubexpIndex("ip")
	timeIdx   = linePattern.SubexpIndex("time")
	reqIdx    = linePattern.SubexpIndex("req")
	statusIdx = linePattern.SubexpIndex("status")
	uaIdx     = linePattern.SubexpIndex("ua")
)

// ParseLine converts a single access-log line. ok is false when the line
// does not match the pattern.
func ParseLine(line string) (rec record.LogRecord, ok bool) {
	m := linePattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return record.LogRecord{}, false
	}

	rec.SourceIP = m[ipIdx]
	rec.UserAgent = m[uaIdx]
	rec.Status, _ = strconv.Atoi(m[statusIdx])

	// "17/May/2021:06:36:36 +0200" -> zone dropped
	ts, _, _ := strings.Cut(m[timeIdx], " ")
	if t, err := time.Parse(TimeLayout, ts); err == nil {
		rec.Timestamp = &t
	}

	parts := strings.Split(m[reqIdx], " ")
	if len(parts) == 3 {
		rec.Method, rec.Path = parts[0], parts[1]
	} else {
		rec.Method, rec.Path = record.DefaultMethod, record.DefaultPath
	}
	return rec, true
}

// Reader reads access-log lines, silently skipping lines that do not match
// and lines longer than maxLineSize.
type Reader struct {
	br      *bufio.Reader
	skipped int
}

// NewReader creates a reader over src.
func NewReader(src io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(src, 64*1024)}
}

// Read returns every matching line as a LogRecord.
func (r *Reader) Read() ([]record.LogRecord, error) {
	var (
		recs      []record.LogRecord
		line      []byte
		oversized bool
	)
	for {
		chunk, err := r.br.ReadSlice('\n')
		if !oversized {
			if len(line)+len(chunk) > maxLineSize {
				oversized, line = true, line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		switch {
		case oversized:
			r.skipped++
		case len(line) == 0:
		default:
			if rec, ok := ParseLine(string(line)); ok {
				recs = append(recs, rec)
			} else {
				r.skipped++
			}
		}
		line, oversized = line[:0], false

		if err != nil {
			return recs, nil
		}
	}
}

// Skipped returns how many lines were dropped during Read.
func (r *Reader) Skipped() int {
	return r.skipped
}
