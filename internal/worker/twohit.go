// Package worker coordinates the per-stream recognition pipeline and the
// fleet of stream workers.
package worker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/tracktagger-go/internal/logging"
	"github.com/tphakala/tracktagger-go/internal/observability/metrics"
	"github.com/tphakala/tracktagger-go/internal/recognizer"
)

// candidateKey identifies a pending candidate. Confirmation requires the
// same provider to report the same track twice; providers are never
// cross-referenced.
type candidateKey struct {
	Provider        string
	ProviderTrackID string
}

type candidateEntry struct {
	FirstHit   time.Time
	Confidence float64
}

// TwoHitAggregator confirms a play once the same (provider, track) pair has
// been seen twice within the hop tolerance. Observe is only called from the
// owning worker's pipeline, but the manager's liveness monitor reads
// PendingCount concurrently, so the pending map is mutex guarded.
type TwoHitAggregator struct {
	streamName string
	tolerance  time.Duration
	evictAfter time.Duration

	mu      sync.Mutex
	pending map[candidateKey]candidateEntry

	metrics *metrics.WorkerMetrics
	logger  *slog.Logger
}

// NewTwoHitAggregator sizes the tolerance windows from the hop cadence.
// A second hit may trail the first by at most toleranceHops hops; entries
// one hop older than that are evicted.
func NewTwoHitAggregator(streamName string, toleranceHops, hopSeconds int, m *metrics.WorkerMetrics) *TwoHitAggregator {
	hop := time.Duration(hopSeconds) * time.Second
	return &TwoHitAggregator{
		streamName: streamName,
		tolerance:  time.Duration(toleranceHops) * hop,
		evictAfter: time.Duration(toleranceHops+1) * hop,
		pending:    make(map[candidateKey]candidateEntry),
		metrics:    m,
		logger:     logging.ForService("worker").With("stream", streamName),
	}
}

// Observe feeds one recognition result into the aggregator and reports
// whether it confirms a play. No-match and error results never change state.
func (a *TwoHitAggregator) Observe(r *recognizer.Result) bool {
	if !r.IsMatch() {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.evict(r.RecognizedAtUTC)

	key := candidateKey{Provider: r.Provider, ProviderTrackID: r.ProviderTrackID}
	entry, exists := a.pending[key]

	if !exists {
		a.pending[key] = candidateEntry{
			FirstHit:   r.RecognizedAtUTC,
			Confidence: r.Confidence,
		}
		if a.metrics != nil {
			a.metrics.RecordCandidate(a.streamName, r.Provider)
		}
		a.logger.Debug("New play candidate",
			"provider", r.Provider,
			"track_id", r.ProviderTrackID,
			"title", r.Title)
		return false
	}

	if r.RecognizedAtUTC.Sub(entry.FirstHit) <= a.tolerance {
		delete(a.pending, key)
		return true
	}

	// Too stale to confirm; the new hit becomes the candidate.
	a.pending[key] = candidateEntry{
		FirstHit:   r.RecognizedAtUTC,
		Confidence: r.Confidence,
	}
	return false
}

// evict drops candidates too old to ever confirm. Callers hold a.mu.
func (a *TwoHitAggregator) evict(now time.Time) {
	for key, entry := range a.pending {
		if now.Sub(entry.FirstHit) > a.evictAfter {
			delete(a.pending, key)
			if a.metrics != nil {
				a.metrics.RecordEviction(a.streamName)
			}
			a.logger.Debug("Evicted stale play candidate",
				"provider", key.Provider,
				"track_id", key.ProviderTrackID,
				"age", now.Sub(entry.FirstHit))
		}
	}
}

// PendingCount returns the number of unconfirmed candidates.
func (a *TwoHitAggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
