package recognizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/tracktagger-go/internal/logging"
	"github.com/tphakala/tracktagger-go/internal/observability/metrics"
	"github.com/tphakala/tracktagger-go/internal/window"
)

// Gates bounds recognition concurrency with channel semaphores: one global
// gate for the whole process and one gate per provider. Gates are shared by
// every stream worker, so the bounds hold fleet-wide.
type Gates struct {
	global   chan struct{}
	provider map[string]chan struct{}
}

// NewGates sizes the semaphores. Providers not named here fall back to an
// unbounded per-provider slot created on first use, so the set should be
// complete at construction.
func NewGates(globalMax, perProviderMax int, providers []string) *Gates {
	g := &Gates{
		global:   make(chan struct{}, globalMax),
		provider: make(map[string]chan struct{}, len(providers)),
	}
	for _, name := range providers {
		g.provider[name] = make(chan struct{}, perProviderMax)
	}
	return g
}

// providerSaturated reports whether the provider gate has no free slot.
// This is a probe; the answer can change before acquisition.
func (g *Gates) providerSaturated(name string) bool {
	ch, ok := g.provider[name]
	if !ok {
		return false
	}
	return len(ch) == cap(ch)
}

func (g *Gates) acquireGlobal(ctx context.Context) error {
	select {
	case g.global <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gates) releaseGlobal() {
	<-g.global
}

func (g *Gates) acquireProvider(ctx context.Context, name string) error {
	ch, ok := g.provider[name]
	if !ok {
		return nil
	}
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gates) releaseProvider(name string) {
	if ch, ok := g.provider[name]; ok {
		<-ch
	}
}

// Dispatcher fans one audio window out to every enabled recognizer in
// parallel, under the capacity gates.
type Dispatcher struct {
	recognizers []Recognizer
	gates       *Gates
	metrics     *metrics.RecognizerMetrics
	logger      *slog.Logger
}

// NewDispatcher wires the enabled recognizers to the shared gates. The
// metrics argument may be nil.
func NewDispatcher(recognizers []Recognizer, gates *Gates, m *metrics.RecognizerMetrics) *Dispatcher {
	return &Dispatcher{
		recognizers: recognizers,
		gates:       gates,
		metrics:     m,
		logger:      logging.ForService("dispatcher"),
	}
}

// Providers returns the names of the wired recognizers.
func (d *Dispatcher) Providers() []string {
	names := make([]string, len(d.recognizers))
	for i, rec := range d.recognizers {
		names[i] = rec.Name()
	}
	return names
}

// RecognizeParallel sends the window to every recognizer whose gate is not
// already saturated and returns all completed results. Saturated providers
// are skipped without producing a result. Result order is unspecified.
func (d *Dispatcher) RecognizeParallel(ctx context.Context, w *window.Window) []Result {
	if d.metrics != nil {
		d.metrics.RecordWindowDispatched(w.StreamName)
	}

	results := make(chan Result, len(d.recognizers))
	var wg sync.WaitGroup

	for _, rec := range d.recognizers {
		if d.gates.providerSaturated(rec.Name()) {
			if d.metrics != nil {
				d.metrics.RecordCapacitySkip(rec.Name())
			}
			d.logger.Warn("Provider at capacity, skipping window",
				"provider", rec.Name(),
				"stream", w.StreamName,
				"window_start", w.StartUTC)
			continue
		}

		wg.Add(1)
		go func(rec Recognizer) {
			defer wg.Done()

			// Global first, then provider, both held for the whole call.
			if err := d.gates.acquireGlobal(ctx); err != nil {
				return
			}
			defer d.gates.releaseGlobal()

			if err := d.gates.acquireProvider(ctx, rec.Name()); err != nil {
				return
			}
			defer d.gates.releaseProvider(rec.Name())

			if d.metrics != nil {
				d.metrics.AddInFlight(1)
				defer d.metrics.AddInFlight(-1)
			}

			start := time.Now()
			result := rec.Recognize(ctx, w.PCM)
			elapsed := time.Since(start)

			if d.metrics != nil {
				d.metrics.RecordAttempt(rec.Name(), result.Status())
				d.metrics.RecordAttemptDuration(rec.Name(), elapsed.Seconds())
			}

			results <- result
		}(rec)
	}

	wg.Wait()
	close(results)

	collected := make([]Result, 0, len(d.recognizers))
	for r := range results {
		collected = append(collected, r)
	}
	return collected
}
