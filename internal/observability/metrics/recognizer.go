// Package metrics provides recognizer metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RecognizerMetrics contains Prometheus metrics for recognition dispatch
type RecognizerMetrics struct {
	registry *prometheus.Registry

	attemptsTotal      *prometheus.CounterVec
	attemptDuration    *prometheus.HistogramVec
	capacitySkipsTotal *prometheus.CounterVec
	windowsTotal       *prometheus.CounterVec
	inFlightGauge      prometheus.Gauge

	collectors []prometheus.Collector
}

// NewRecognizerMetrics creates and registers new recognizer metrics
func NewRecognizerMetrics(registry *prometheus.Registry) (*RecognizerMetrics, error) {
	m := &RecognizerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RecognizerMetrics) initMetrics() {
	m.attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recognizer_attempts_total",
			Help: "Total number of recognition attempts",
		},
		[]string{"provider", "status"}, // status: match, no_match, error
	)

	m.attemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recognizer_attempt_duration_seconds",
			Help:    "Time taken for recognition calls",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~40s
		},
		[]string{"provider"},
	)

	m.capacitySkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recognizer_capacity_skips_total",
			Help: "Total number of windows skipped for a provider due to a saturated capacity gate",
		},
		[]string{"provider"},
	)

	m.windowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recognizer_windows_dispatched_total",
			Help: "Total number of analysis windows dispatched to providers",
		},
		[]string{"stream"},
	)

	m.inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recognizer_calls_in_flight",
		Help: "Number of recognition calls currently in flight",
	})

	m.collectors = []prometheus.Collector{
		m.attemptsTotal,
		m.attemptDuration,
		m.capacitySkipsTotal,
		m.windowsTotal,
		m.inFlightGauge,
	}
}

// Describe implements the Collector interface
func (m *RecognizerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *RecognizerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordAttempt records a recognition attempt outcome
func (m *RecognizerMetrics) RecordAttempt(provider, status string) {
	m.attemptsTotal.WithLabelValues(provider, status).Inc()
}

// RecordAttemptDuration records how long a recognition call took
func (m *RecognizerMetrics) RecordAttemptDuration(provider string, seconds float64) {
	m.attemptDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordCapacitySkip records a provider skipped because its gate was saturated
func (m *RecognizerMetrics) RecordCapacitySkip(provider string) {
	m.capacitySkipsTotal.WithLabelValues(provider).Inc()
}

// RecordWindowDispatched records a window handed to the dispatcher
func (m *RecognizerMetrics) RecordWindowDispatched(stream string) {
	m.windowsTotal.WithLabelValues(stream).Inc()
}

// AddInFlight adjusts the in-flight call gauge
func (m *RecognizerMetrics) AddInFlight(delta float64) {
	m.inFlightGauge.Add(delta)
}
