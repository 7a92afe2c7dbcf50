package blocksync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "sync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Height of the best head.
	BestHeight metrics.Gauge
	// Height of the finalized head.
	FinalizedHeight metrics.Gauge
	// Number of connected peers.
	Peers metrics.Gauge
	// Number of requests in flight.
	InFlightRequests metrics.Gauge
	// Number of requests that timed out.
	RequestTimeouts metrics.Counter
	// Number of headers rejected, by reason.
	RejectedHeaders metrics.Counter
	// Number of headers waiting for their parent.
	DisjointHeaders metrics.Gauge
	// Number of finality proofs applied.
	FinalityRounds metrics.Counter
	// Whether or not the sync is stalled. 1 if yes, 0 if no.
	Stalled metrics.Gauge
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
		BestHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "best_height",
			Help:      "Height of the best head.",
		}, labels).With(labelsAndValues...),
		FinalizedHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "finalized_height",
			Help:      "Height of the finalized head.",
		}, labels).With(labelsAndValues...),
		Peers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "peers",
			Help:      "Number of connected peers.",
		}, labels).With(labelsAndValues...),
		InFlightRequests: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "in_flight_requests",
			Help:      "Number of requests in flight.",
		}, labels).With(labelsAndValues...),
		RequestTimeouts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "request_timeouts",
			Help:      "Number of requests that timed out.",
		}, labels).With(labelsAndValues...),
		RejectedHeaders: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rejected_headers",
			Help:      "Number of headers rejected, by reason.",
		}, append(labels, "reason")).With(labelsAndValues...),
		DisjointHeaders: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "disjoint_headers",
			Help:      "Number of headers waiting for their parent.",
		}, labels).With(labelsAndValues...),
		FinalityRounds: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "finality_rounds",
			Help:      "Number of finality proofs applied.",
		}, labels).With(labelsAndValues...),
		Stalled: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "stalled",
			Help:      "Whether or not the sync is stalled. 1 if yes, 0 if no.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		BestHeight:       discard.NewGauge(),
		FinalizedHeight:  discard.NewGauge(),
		Peers:            discard.NewGauge(),
		InFlightRequests: discard.NewGauge(),
		RequestTimeouts:  discard.NewCounter(),
		RejectedHeaders:  discard.NewCounter(),
		DisjointHeaders:  discard.NewGauge(),
		FinalityRounds:   discard.NewCounter(),
		Stalled:          discard.NewGauge(),
	}
}
