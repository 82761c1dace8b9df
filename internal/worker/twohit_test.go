package worker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/tracktagger-go/internal/recognizer"
)

func hitAt(ts string, provider, trackID string) *recognizer.Result {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return &recognizer.Result{
		Provider:        provider,
		ProviderTrackID: trackID,
		Title:           "Song",
		Artist:          "Artist",
		Confidence:      0.9,
		RecognizedAtUTC: t,
	}
}

func TestTwoHitConfirmsWithinTolerance(t *testing.T) {
	// tolerance_hops=1, hop=120s: a second hit within 120s confirms.
	a := NewTwoHitAggregator("S", 1, 120, nil)

	first := hitAt("2024-01-01T12:00:00Z", "shazam", "t1")
	assert.False(t, a.Observe(first), "first hit only registers a candidate")
	assert.Equal(t, 1, a.PendingCount())

	second := hitAt("2024-01-01T12:02:00Z", "shazam", "t1")
	assert.True(t, a.Observe(second), "second hit within one hop confirms")
	assert.Equal(t, 0, a.PendingCount(), "confirmation clears the candidate")
}

func TestTwoHitReplacesOutsideTolerance(t *testing.T) {
	a := NewTwoHitAggregator("S", 1, 120, nil)

	require.False(t, a.Observe(hitAt("2024-01-01T12:00:00Z", "shazam", "t1")))

	// 121 seconds later: outside the 120s tolerance but inside the 240s
	// eviction horizon, so the entry is replaced, not confirmed.
	late := hitAt("2024-01-01T12:02:01Z", "shazam", "t1")
	assert.False(t, a.Observe(late))
	assert.Equal(t, 1, a.PendingCount())

	// The replacement became the new first hit, so a prompt repeat confirms.
	assert.True(t, a.Observe(hitAt("2024-01-01T12:03:00Z", "shazam", "t1")))
}

func TestTwoHitRequiresSameProvider(t *testing.T) {
	a := NewTwoHitAggregator("S", 1, 120, nil)

	require.False(t, a.Observe(hitAt("2024-01-01T12:00:00Z", "shazam", "t1")))
	assert.False(t, a.Observe(hitAt("2024-01-01T12:02:00Z", "acoustid", "t1")),
		"a different provider is a different candidate key")
	assert.Equal(t, 2, a.PendingCount())
}

func TestTwoHitIgnoresNoMatchAndError(t *testing.T) {
	a := NewTwoHitAggregator("S", 1, 120, nil)

	noMatch := &recognizer.Result{Provider: "shazam", RecognizedAtUTC: time.Now().UTC()}
	failed := &recognizer.Result{Provider: "shazam", ErrorMessage: "boom", RecognizedAtUTC: time.Now().UTC()}

	assert.False(t, a.Observe(noMatch))
	assert.False(t, a.Observe(failed))
	assert.Equal(t, 0, a.PendingCount())
}

func TestTwoHitEvictsStaleCandidates(t *testing.T) {
	a := NewTwoHitAggregator("S", 1, 120, nil)

	require.False(t, a.Observe(hitAt("2024-01-01T12:00:00Z", "shazam", "t1")))

	// 241 seconds later: past (tolerance_hops+1)*hop, the stale candidate
	// is purged before the unrelated hit is processed.
	other := hitAt("2024-01-01T12:04:01Z", "shazam", "t2")
	assert.False(t, a.Observe(other))
	assert.Equal(t, 1, a.PendingCount(), "only the fresh candidate remains")
}

func TestTwoHitConcurrentPendingCount(t *testing.T) {
	// The liveness monitor reads PendingCount while the pipeline goroutine
	// feeds Observe; the race detector flags any unguarded map access.
	a := NewTwoHitAggregator("S", 1, 120, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = a.PendingCount()
			}
		}
	}()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 500; i++ {
		a.Observe(&recognizer.Result{
			Provider:        "shazam",
			ProviderTrackID: fmt.Sprintf("t%d", i),
			RecognizedAtUTC: base.Add(time.Duration(i) * time.Second),
		})
	}

	close(stop)
	wg.Wait()
	assert.Positive(t, a.PendingCount())
}

func TestTwoHitZeroTolerance(t *testing.T) {
	// tolerance_hops=0: both hits must land in the same instant's window.
	a := NewTwoHitAggregator("S", 0, 120, nil)

	require.False(t, a.Observe(hitAt("2024-01-01T12:00:00Z", "shazam", "t1")))
	assert.False(t, a.Observe(hitAt("2024-01-01T12:00:01Z", "shazam", "t1")),
		"any positive gap exceeds a zero tolerance")
	assert.True(t, a.Observe(hitAt("2024-01-01T12:00:01Z", "shazam", "t1")),
		"gap of zero from the replaced candidate confirms")
}
