// Package metrics exposes Prometheus counters for the research layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stock_research"

// Outcomes recorded per research call.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
	OutcomeEmpty    = "empty"
	OutcomeOK       = "ok"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	UpstreamAttempts *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	Results          *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UpstreamAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Upstream model calls by task and result.",
		}, []string{"task", "result"}),
		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_seconds",
			Help:      "Latency of upstream model calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"task"}),
		Results: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Research calls by task and final outcome.",
		}, []string{"task", "outcome"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "region_cache_lookups_total",
			Help:      "Region cache lookups by region and result.",
		}, []string{"region", "result"}),
	}
}

// ObserveAttempt records one upstream call.
func (m *Metrics) ObserveAttempt(task string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.UpstreamAttempts.WithLabelValues(task, result).Inc()
	m.UpstreamLatency.WithLabelValues(task).Observe(took.Seconds())
}

// ObserveResult records the final outcome of a research call.
func (m *Metrics) ObserveResult(task, outcome string) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(task, outcome).Inc()
}

// ObserveCache records a region cache lookup.
func (m *Metrics) ObserveCache(region string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(region, result).Inc()
}
