// Package record defines the canonical row shapes that flow through the pipeline.
package record

import "time"

// User-agent categories.
const (
	UABot     = "bot"
	UABrowser = "browser"
	UAOther   = "other"
)

// Defaults applied when an access-log request line cannot be split.
const (
	DefaultMethod = "GET"
	DefaultPath   = "/"
)

// LogRecord is one parsed request, independent of the input shape.
type LogRecord struct {
	// Timestamp is nil when the source value could not be parsed.
	Timestamp *time.Time
	SourceIP  string
	Method    string
	Path      string
	Status    int
	UserAgent string
}

// EnrichedRecord is a LogRecord with derived behavioral features.
type EnrichedRecord struct {
	LogRecord

	Hour      int
	Minute    time.Time
	PathDepth int
	StatusCat string
	UACat     string
	IsPrivate bool
	// RPM counts requests from the same source IP within the same minute,
	// the record itself included.
	RPM        int
	PathCount  int
	PayloadLen int
}

// Time returns the record timestamp or the zero time.
func (r *LogRecord) Time() time.Time {
	if r.Timestamp == nil {
		return time.Time{}
	}
	return *r.Timestamp
}

// Label is one analyst verdict keyed by (timestamp, source_ip).
type Label struct {
	Timestamp time.Time
	SourceIP  string
	Label     int
}

// AlertRow is the scored, explained view of a single request.
type AlertRow struct {
	Timestamp    time.Time `json:"timestamp"`
	SourceIP     string    `json:"source_ip"`
	Path         string    `json:"path"`
	Status       int       `json:"status"`
	AnomalyScore float64   `json:"anomaly_score"`
	// IsAnomaly is set when the raw score reaches the contamination threshold.
	IsAnomaly bool `json:"is_anomaly"`
	// SupervisedScore is set only when a classifier was asked for and exists.
	SupervisedScore *float64 `json:"supervised_score,omitempty"`
	Reasons         []string `json:"reasons"`
}
