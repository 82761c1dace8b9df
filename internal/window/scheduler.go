// Package window turns the continuous PCM chunk stream from the decoder
// into fixed-length audio windows aligned to the global hop cadence.
package window

import (
	"context"
	"log/slog"
	"time"

	"github.com/tphakala/tracktagger-go/internal/errors"
	"github.com/tphakala/tracktagger-go/internal/logging"
)

// errInputClosed marks the end of the chunk stream. It is internal to the
// scheduler; Run treats it as a clean shutdown.
var errInputClosed = errors.NewStd("chunk input closed")

// Window is a fixed-length slice of decoded audio covering
// [StartUTC, EndUTC). The payload is raw PCM exactly as the decoder
// delivered it; container framing is left to the recognizers.
type Window struct {
	StreamName string
	StartUTC   time.Time
	EndUTC     time.Time
	PCM        []byte
}

// Duration returns the temporal extent of the window.
func (w *Window) Duration() time.Duration {
	return w.EndUTC.Sub(w.StartUTC)
}

// Scheduler emits hop-aligned windows from a chunk stream. Window start
// instants are multiples of the hop from the epoch, so every stream in the
// process samples the same wall-clock cadence.
type Scheduler struct {
	streamName string
	windowDur  time.Duration
	hopDur     time.Duration

	in    <-chan []byte
	out   chan Window
	clock Clock

	logger *slog.Logger
}

// NewScheduler creates a scheduler over the given chunk stream. A nil clock
// selects the real wall clock.
func NewScheduler(streamName string, windowSeconds, hopSeconds int, in <-chan []byte, clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{
		streamName: streamName,
		windowDur:  time.Duration(windowSeconds) * time.Second,
		hopDur:     time.Duration(hopSeconds) * time.Second,
		in:         in,
		out:        make(chan Window, 1),
		clock:      clock,
		logger:     logging.ForService("window").With("stream", streamName),
	}
}

// Windows returns the emitted window stream. Closed when Run returns.
func (s *Scheduler) Windows() <-chan Window {
	return s.out
}

// nextAligned returns the smallest instant at or after t that is a whole
// multiple of hop from the Unix epoch.
func nextAligned(t time.Time, hop time.Duration) time.Time {
	rem := t.UnixNano() % hop.Nanoseconds()
	if rem == 0 {
		return t.UTC()
	}
	return t.Add(time.Duration(hop.Nanoseconds() - rem)).UTC()
}

// Run consumes chunks until ctx is cancelled or the input channel closes.
// PCM arriving between windows is discarded; PCM arriving during
// [start, start+window) is accumulated and emitted once the window's end
// has elapsed on the wall clock.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.out)

	windowStart := nextAligned(s.clock.Now(), s.hopDur)
	s.logger.Debug("Window scheduler started",
		"first_window_start", windowStart,
		"window", s.windowDur, "hop", s.hopDur)

	for {
		// Gap phase: drop chunks until the window opens.
		if err := s.discardUntil(ctx, windowStart); err != nil {
			if errors.Is(err, errInputClosed) {
				s.logger.Debug("Chunk stream closed, scheduler stopping")
				return nil
			}
			return err
		}

		payload, err := s.collectUntil(ctx, windowStart.Add(s.windowDur))
		if err != nil {
			if errors.Is(err, errInputClosed) {
				s.logger.Debug("Chunk stream closed, scheduler stopping")
				return nil
			}
			return err
		}

		if len(payload) == 0 {
			// Decoder was down for the whole window. The window is still
			// emitted; recognizers decide what an empty payload means.
			s.logger.Debug("Emitting empty window", "window_start", windowStart)
		}
		w := Window{
			StreamName: s.streamName,
			StartUTC:   windowStart,
			EndUTC:     windowStart.Add(s.windowDur),
			PCM:        payload,
		}
		select {
		case s.out <- w:
		case <-ctx.Done():
			return ctx.Err()
		}

		windowStart = windowStart.Add(s.hopDur)
	}
}

// discardUntil drops incoming chunks until the wall clock reaches deadline.
func (s *Scheduler) discardUntil(ctx context.Context, deadline time.Time) error {
	for {
		wait := deadline.Sub(s.clock.Now())
		if wait <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-s.in:
			if !ok {
				return errInputClosed
			}
		case <-s.clock.After(wait):
			return nil
		}
	}
}

// collectUntil accumulates incoming chunks until the wall clock reaches
// deadline, then returns the accumulated payload.
func (s *Scheduler) collectUntil(ctx context.Context, deadline time.Time) ([]byte, error) {
	var payload []byte
	for {
		wait := deadline.Sub(s.clock.Now())
		if wait <= 0 {
			return payload, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-s.in:
			if !ok {
				return nil, errInputClosed
			}
			payload = append(payload, chunk...)
		case <-s.clock.After(wait):
			return payload, nil
		}
	}
}
