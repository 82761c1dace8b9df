// Package metrics provides worker metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics contains Prometheus metrics for stream workers and play confirmation
type WorkerMetrics struct {
	registry *prometheus.Registry

	activeWorkersGauge    prometheus.Gauge
	stateTransitionsTotal *prometheus.CounterVec
	playsConfirmedTotal   *prometheus.CounterVec
	playsDuplicateTotal   *prometheus.CounterVec
	candidatesTotal       *prometheus.CounterVec
	evictionsTotal        *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewWorkerMetrics creates and registers new worker metrics
func NewWorkerMetrics(registry *prometheus.Registry) (*WorkerMetrics, error) {
	m := &WorkerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *WorkerMetrics) initMetrics() {
	m.activeWorkersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active_streams",
		Help: "Number of stream workers currently running",
	})

	m.stateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_state_transitions_total",
			Help: "Total number of worker state transitions",
		},
		[]string{"stream", "state"},
	)

	m.playsConfirmedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_plays_confirmed_total",
			Help: "Total number of plays confirmed by two-hit policy",
		},
		[]string{"stream", "provider"},
	)

	m.playsDuplicateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_plays_duplicate_total",
			Help: "Total number of confirmed plays suppressed by the dedup bucket",
		},
		[]string{"stream"},
	)

	m.candidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_play_candidates_total",
			Help: "Total number of first hits recorded as pending candidates",
		},
		[]string{"stream", "provider"},
	)

	m.evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_candidate_evictions_total",
			Help: "Total number of pending candidates evicted before confirmation",
		},
		[]string{"stream"},
	)

	m.collectors = []prometheus.Collector{
		m.activeWorkersGauge,
		m.stateTransitionsTotal,
		m.playsConfirmedTotal,
		m.playsDuplicateTotal,
		m.candidatesTotal,
		m.evictionsTotal,
	}
}

// Describe implements the Collector interface
func (m *WorkerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *WorkerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// AddActiveWorkers adjusts the active worker gauge
func (m *WorkerMetrics) AddActiveWorkers(delta float64) {
	m.activeWorkersGauge.Add(delta)
}

// RecordStateTransition records a worker entering a state
func (m *WorkerMetrics) RecordStateTransition(stream, state string) {
	m.stateTransitionsTotal.WithLabelValues(stream, state).Inc()
}

// RecordPlayConfirmed records a confirmed play
func (m *WorkerMetrics) RecordPlayConfirmed(stream, provider string) {
	m.playsConfirmedTotal.WithLabelValues(stream, provider).Inc()
}

// RecordPlayDuplicate records a confirmed play suppressed by deduplication
func (m *WorkerMetrics) RecordPlayDuplicate(stream string) {
	m.playsDuplicateTotal.WithLabelValues(stream).Inc()
}

// RecordCandidate records a new pending play candidate
func (m *WorkerMetrics) RecordCandidate(stream, provider string) {
	m.candidatesTotal.WithLabelValues(stream, provider).Inc()
}

// RecordEviction records a stale candidate eviction
func (m *WorkerMetrics) RecordEviction(stream string) {
	m.evictionsTotal.WithLabelValues(stream).Inc()
}
