// Package metrics holds the Prometheus instruments of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics on a private registry.
type Metrics struct {
	IngestedRecords  prometheus.Counter
	Trainings        *prometheus.CounterVec
	TrainingDuration *prometheus.HistogramVec
	ScoredRows       *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	RateLimitHits    prometheus.Counter
	registry         *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		IngestedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logids_ingested_records_total",
			Help: "Total number of enriched records ingested",
		}),
		Trainings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logids_trainings_total",
				Help: "Training runs by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		TrainingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "logids_training_duration_seconds",
				Help:    "Training duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"model"},
		),
		ScoredRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logids_scored_rows_total",
				Help: "Rows scored by model",
			},
			[]string{"model"},
		),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logids_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logids_rate_limit_hits_total",
			Help: "Total number of rejected requests due to rate limiting",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.IngestedRecords,
		m.Trainings,
		m.TrainingDuration,
		m.ScoredRows,
		m.Requests,
		m.RateLimitHits,
	)
	return m
}

// ObserveTraining records one finished training run.
func (m *Metrics) ObserveTraining(model string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Trainings.WithLabelValues(model, outcome).Inc()
	m.TrainingDuration.WithLabelValues(model).Observe(d.Seconds())
}

// IncrementRequest counts one served HTTP request.
func (m *Metrics) IncrementRequest(method, route string, status int) {
	m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
