// Package metrics exposes Prometheus collectors for the retrieval engine and its HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "civicmatch"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// Inference
	InferenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "requests_total",
			Help:      "Total number of inference calls by outcome",
		},
		[]string{"outcome"}, // ok, empty_query, empty_index, retrieval_failure, error
	)

	InferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Inference duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	LowConfidenceTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "low_confidence_total",
			Help:      "Replies answered with the generic low-confidence message",
		},
	)

	// Index
	IndexLoadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "load_total",
			Help:      "Index load outcomes",
		},
		[]string{"outcome"}, // hit, rebuild
	)

	IndexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "build_duration_seconds",
			Help:      "Time to embed the corpus and persist the index",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	IndexedRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "records",
			Help:      "Records in the active snapshot",
		},
	)

	// Translation
	TranslationDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "translation",
			Name:      "degraded_total",
			Help:      "Translations that fell back to the untranslated text",
		},
		[]string{"reason"}, // unsupported, unavailable, timeout, network, other
	)

	// Escalation
	EscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "tickets_total",
			Help:      "Escalation tickets created",
		},
	)
)
