package statequery

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "state_query"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of queries, by outcome.
	Queries metrics.Counter
	// Number of proofs that failed verification.
	InvalidProofs metrics.Counter
	// Time taken by a query, in seconds.
	QueryDuration metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Queries: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "queries",
			Help:      "Number of queries, by outcome.",
		}, append(labels, "outcome")).With(labelsAndValues...),
		InvalidProofs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "invalid_proofs",
			Help:      "Number of proofs that failed verification.",
		}, labels).With(labelsAndValues...),
		QueryDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "query_duration",
			Help:      "Time taken by a query, in seconds.",
			Buckets:   stdprometheus.ExponentialBuckets(0.01, 2, 10),
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Queries:       discard.NewCounter(),
		InvalidProofs: discard.NewCounter(),
		QueryDuration: discard.NewHistogram(),
	}
}
