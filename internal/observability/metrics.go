// Package observability holds the Prometheus metrics shared by the
// collector, the ingest loader, the chain builder and the query service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "envgraph"

// Fetch outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeEmpty   = "empty"
	OutcomeInvalid = "invalid"
)

// Metrics holds the Prometheus counters and histograms of the service.
// All recording methods are safe on a nil receiver.
type Metrics struct {
	FetchRequests *prometheus.CounterVec   // labels: source, outcome={success,error,empty}
	FetchDuration *prometheus.HistogramVec // labels: source

	RecordsIngested *prometheus.CounterVec // labels: type
	RecordsRejected *prometheus.CounterVec // labels: type
	ChainEdges      *prometheus.CounterVec // labels: type

	ComposeRequests *prometheus.CounterVec // labels: outcome={success,invalid,error}
	ComposeDuration prometheus.Histogram
	CacheLookups    *prometheus.CounterVec // labels: result={hit,miss,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Imagery reduce requests by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Imagery reduce request duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		RecordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Measurement records upserted by type.",
		}, []string{"type"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Measurement records sent to the missing-records sink by type.",
		}, []string{"type"}),
		ChainEdges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_edges_total",
			Help:      "NEXT edges written by the chain builder by type.",
		}, []string{"type"}),
		ComposeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compose_requests_total",
			Help:      "Composite feature requests by outcome.",
		}, []string{"outcome"}),
		ComposeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compose_duration_seconds",
			Help:      "Duration of a composite feature request.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Composite cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.FetchRequests,
		m.FetchDuration,
		m.RecordsIngested,
		m.RecordsRejected,
		m.ChainEdges,
		m.ComposeRequests,
		m.ComposeDuration,
		m.CacheLookups,
	)
	return m
}

// ObserveFetch records one imagery request.
func (m *Metrics) ObserveFetch(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchRequests.WithLabelValues(source, outcome).Inc()
	m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveIngest records loaded and rejected records of one type.
func (m *Metrics) ObserveIngest(typ string, loaded, rejected int) {
	if m == nil {
		return
	}
	m.RecordsIngested.WithLabelValues(typ).Add(float64(loaded))
	m.RecordsRejected.WithLabelValues(typ).Add(float64(rejected))
}

// ObserveChain records NEXT edges written for one type.
func (m *Metrics) ObserveChain(typ string, edges int) {
	if m == nil {
		return
	}
	m.ChainEdges.WithLabelValues(typ).Add(float64(edges))
}

// ObserveCompose records one compose request.
func (m *Metrics) ObserveCompose(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ComposeRequests.WithLabelValues(outcome).Inc()
	m.ComposeDuration.Observe(d.Seconds())
}

// ObserveCache records one cache lookup.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
