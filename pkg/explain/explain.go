// Package explain attaches human-readable reason tags to scored records.
package explain

import "github.com/hed1ad/logids/pkg/record"

// Reason tags, in evaluation order.
const (
	HighRequestRate     = "high_request_rate"
	RarePath            = "rare_path"
	SuspiciousUserAgent = "suspicious_user_agent"
	DeepPath            = "deep_path"
	ServerErrors        = "server_errors"
)

// DefaultHighRateThreshold is the requests-per-minute value above which a
// source is tagged high_request_rate.
const DefaultHighRateThreshold = 200

// Config holds the rule thresholds.
type Config struct {
	HighRateThreshold int `yaml:"high_rate_threshold"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{HighRateThreshold: DefaultHighRateThreshold}
}

type rule struct {
	reason string
	match  func(*record.EnrichedRecord) bool
}

// Engine evaluates a fixed, ordered rule list.
type Engine struct {
	rules []rule
}

// New creates an Engine. A non-positive threshold falls back to the default.
func New(cfg Config) *Engine {
	rate := cfg.HighRateThreshold
	if rate <= 0 {
		rate = DefaultHighRateThreshold
	}
	return &Engine{
		rules: []rule{
			{HighRequestRate, func(r *record.EnrichedRecord) bool { return r.RPM > rate }},
			{RarePath, func(r *record.EnrichedRecord) bool { return r.PathCount > 0 && r.PathCount <= 2 }},
			{SuspiciousUserAgent, func(r *record.EnrichedRecord) bool { return r.UACat == record.UABot }},
			{DeepPath, func(r *record.EnrichedRecord) bool { return r.PathDepth >= 5 }},
			{ServerErrors, func(r *record.EnrichedRecord) bool { return r.Status >= 500 }},
		},
	}
}

// Explain returns every matching reason in rule order. The result is never
// nil.
func (e *Engine) Explain(rec *record.EnrichedRecord) []string {
	reasons := []string{}
	for _, r := range e.rules {
		if r.match(rec) {
			reasons = append(reasons, r.reason)
		}
	}
	return reasons
}

// Reasons lists every tag the engine can emit, in evaluation order.
func (e *Engine) Reasons() []string {
	out := make([]string, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.reason
	}
	return out
}
