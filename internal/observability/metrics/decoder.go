// Package metrics provides decoder metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DecoderMetrics contains Prometheus metrics for ffmpeg decoder supervision
type DecoderMetrics struct {
	registry *prometheus.Registry

	processStartsTotal   *prometheus.CounterVec
	processRestartsTotal *prometheus.CounterVec
	processFailuresTotal *prometheus.CounterVec
	bytesReadTotal       *prometheus.CounterVec
	restartBackoffGauge  *prometheus.GaugeVec
	processUptime        *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewDecoderMetrics creates and registers new decoder metrics
func NewDecoderMetrics(registry *prometheus.Registry) (*DecoderMetrics, error) {
	m := &DecoderMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DecoderMetrics) initMetrics() {
	m.processStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decoder_process_starts_total",
			Help: "Total number of ffmpeg process starts",
		},
		[]string{"stream", "status"}, // status: success, error
	)

	m.processRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decoder_process_restarts_total",
			Help: "Total number of ffmpeg process restarts",
		},
		[]string{"stream", "reason"}, // reason: exit, stall, error
	)

	m.processFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decoder_stream_failures_total",
			Help: "Total number of streams that exhausted their restart budget",
		},
		[]string{"stream"},
	)

	m.bytesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decoder_bytes_read_total",
			Help: "Total PCM bytes read from ffmpeg stdout",
		},
		[]string{"stream"},
	)

	m.restartBackoffGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "decoder_restart_backoff_seconds",
			Help: "Current restart backoff delay per stream",
		},
		[]string{"stream"},
	)

	m.processUptime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "decoder_process_uptime_seconds",
			Help:    "How long each ffmpeg process ran before exiting",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount15), // 100ms to ~55min
		},
		[]string{"stream"},
	)

	m.collectors = []prometheus.Collector{
		m.processStartsTotal,
		m.processRestartsTotal,
		m.processFailuresTotal,
		m.bytesReadTotal,
		m.restartBackoffGauge,
		m.processUptime,
	}
}

// Describe implements the Collector interface
func (m *DecoderMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *DecoderMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordProcessStart records an ffmpeg process start attempt
func (m *DecoderMetrics) RecordProcessStart(stream, status string) {
	m.processStartsTotal.WithLabelValues(stream, status).Inc()
}

// RecordProcessRestart records an ffmpeg process restart
func (m *DecoderMetrics) RecordProcessRestart(stream, reason string) {
	m.processRestartsTotal.WithLabelValues(stream, reason).Inc()
}

// RecordStreamFailure records a stream giving up after exhausting its restart budget
func (m *DecoderMetrics) RecordStreamFailure(stream string) {
	m.processFailuresTotal.WithLabelValues(stream).Inc()
}

// AddBytesRead adds to the PCM byte counter for a stream
func (m *DecoderMetrics) AddBytesRead(stream string, n int) {
	m.bytesReadTotal.WithLabelValues(stream).Add(float64(n))
}

// UpdateRestartBackoff updates the current backoff gauge for a stream
func (m *DecoderMetrics) UpdateRestartBackoff(stream string, seconds float64) {
	m.restartBackoffGauge.WithLabelValues(stream).Set(seconds)
}

// RecordProcessUptime records how long a process ran before exiting
func (m *DecoderMetrics) RecordProcessUptime(stream string, seconds float64) {
	m.processUptime.WithLabelValues(stream).Observe(seconds)
}
