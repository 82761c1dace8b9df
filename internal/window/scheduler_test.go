package window

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// advance lets the scheduler goroutine park on its timer before the clock
// moves, keeping the fake-clock tests deterministic.
func advance(clock *FakeClock, d time.Duration) {
	time.Sleep(50 * time.Millisecond)
	clock.Advance(d)
}

func TestNextAligned(t *testing.T) {
	hop := 120 * time.Second

	tests := []struct {
		name string
		now  int64
		want int64
	}{
		{"already aligned", 240, 240},
		{"rounds up", 100, 120},
		{"just past boundary", 121, 240},
		{"epoch", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextAligned(time.Unix(tt.now, 0), hop)
			assert.Equal(t, time.Unix(tt.want, 0).UTC(), got)
		})
	}
}

func TestSchedulerEmitsAlignedWindow(t *testing.T) {
	start := time.Unix(240, 0).UTC()
	clock := NewFakeClock(start)
	in := make(chan []byte)

	s := NewScheduler("studio", 12, 120, in, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(ctx) }()

	// Clock starts on a hop boundary, so the first window opens immediately.
	in <- []byte("abcd")
	in <- []byte("efgh")
	advance(clock, 12*time.Second)

	select {
	case w := <-s.Windows():
		assert.Equal(t, "studio", w.StreamName)
		assert.Equal(t, time.Unix(240, 0).UTC(), w.StartUTC)
		assert.Equal(t, time.Unix(252, 0).UTC(), w.EndUTC)
		assert.Equal(t, []byte("abcdefgh"), w.PCM)
		assert.Equal(t, 12*time.Second, w.Duration())
	case <-time.After(2 * time.Second):
		t.Fatal("no window emitted")
	}

	// Closing the chunk stream shuts the scheduler down cleanly.
	close(in)
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	_, open := <-s.Windows()
	assert.False(t, open, "window channel should be closed")
}

func TestSchedulerDiscardsPreWindowAudio(t *testing.T) {
	// Unix 100 is 20 seconds before the next hop boundary at 120.
	clock := NewFakeClock(time.Unix(100, 0).UTC())
	in := make(chan []byte)

	s := NewScheduler("studio", 12, 120, in, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(ctx) }()

	// Arrives during the gap phase and must not appear in the payload.
	in <- []byte("pre-window noise")
	advance(clock, 20*time.Second)

	in <- []byte("in-window")
	advance(clock, 12*time.Second)

	select {
	case w := <-s.Windows():
		assert.Equal(t, time.Unix(120, 0).UTC(), w.StartUTC)
		assert.Equal(t, []byte("in-window"), w.PCM)
	case <-time.After(2 * time.Second):
		t.Fatal("no window emitted")
	}

	close(in)
	require.NoError(t, <-runDone)
}

func TestSchedulerEmitsEmptyWindow(t *testing.T) {
	start := time.Unix(360, 0).UTC()
	clock := NewFakeClock(start)
	in := make(chan []byte)

	s := NewScheduler("studio", 12, 120, in, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(ctx) }()

	// First window elapses with no audio at all; an empty-payload window
	// is still emitted.
	advance(clock, 12*time.Second)
	select {
	case w := <-s.Windows():
		assert.Equal(t, time.Unix(360, 0).UTC(), w.StartUTC)
		assert.Equal(t, time.Unix(372, 0).UTC(), w.EndUTC)
		assert.Empty(t, w.PCM)
	case <-time.After(2 * time.Second):
		t.Fatal("no empty window emitted")
	}

	// Second window gets audio.
	advance(clock, 108*time.Second)
	in <- []byte("audio")
	advance(clock, 12*time.Second)

	select {
	case w := <-s.Windows():
		assert.Equal(t, time.Unix(480, 0).UTC(), w.StartUTC)
		assert.Equal(t, []byte("audio"), w.PCM)
	case <-time.After(2 * time.Second):
		t.Fatal("no window emitted")
	}

	close(in)
	require.NoError(t, <-runDone)
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0).UTC())
	in := make(chan []byte)

	s := NewScheduler("studio", 12, 120, in, clock)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-runDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
