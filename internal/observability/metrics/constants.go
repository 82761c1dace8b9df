// Package metrics provides Prometheus metric collectors for the recognition pipeline.
package metrics

import "time"

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart100ms is the starting bucket for 100ms histograms (100ms to ~100s range).
	BucketStart100ms = 0.1

	// BucketFactor2 is the common exponential growth factor for histogram buckets.
	BucketFactor2 = 2

	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// Status label values shared across collectors.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusMatch   = "match"
	StatusNoMatch = "no_match"
)

// ShutdownTimeout is the timeout for graceful shutdown of the telemetry endpoint.
const ShutdownTimeout = 5 * time.Second
