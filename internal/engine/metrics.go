package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	searchesTotal    *prometheus.CounterVec
	searchDuration   *prometheus.HistogramVec
	searchDegraded   prometheus.Counter
	backendFailures  *prometheus.CounterVec
	summariesTotal   *prometheus.CounterVec
	summaryDuration  prometheus.Histogram
	summaryFallbacks prometheus.Counter
	citationStatuses *prometheus.CounterVec
	auditFailures    prometheus.Counter
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		searchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provenanced_searches_total",
				Help: "Search calls by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		searchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provenanced_search_duration_seconds",
				Help:    "Search latency by mode",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		searchDegraded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provenanced_searches_degraded_total",
				Help: "Searches that returned degraded results after a backend failure",
			},
		),
		backendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provenanced_backend_failures_total",
				Help: "Backend search failures by backend name",
			},
			[]string{"backend"},
		),
		summariesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provenanced_summaries_total",
				Help: "Summarization calls by outcome",
			},
			[]string{"outcome"},
		),
		summaryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "provenanced_summary_duration_seconds",
				Help:    "End-to-end summarization latency including citation validation and audit",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
		),
		summaryFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provenanced_summary_fallbacks_total",
				Help: "Summaries produced by the fallback provider",
			},
		),
		citationStatuses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provenanced_citations_total",
				Help: "Extracted citations by support status",
			},
			[]string{"status"},
		),
		auditFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provenanced_audit_failures_total",
				Help: "Provenance records the audit sink refused",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.searchesTotal,
			m.searchDuration,
			m.searchDegraded,
			m.backendFailures,
			m.summariesTotal,
			m.summaryDuration,
			m.summaryFallbacks,
			m.citationStatuses,
			m.auditFailures,
		)
	}
	return m
}
