package worker

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"sync"

	"github.com/tphakala/tracktagger-go/internal/conf"
	"github.com/tphakala/tracktagger-go/internal/datastore"
	"github.com/tphakala/tracktagger-go/internal/decoder"
	"github.com/tphakala/tracktagger-go/internal/errors"
	"github.com/tphakala/tracktagger-go/internal/logging"
	"github.com/tphakala/tracktagger-go/internal/observability"
	"github.com/tphakala/tracktagger-go/internal/observability/metrics"
	"github.com/tphakala/tracktagger-go/internal/privacy"
	"github.com/tphakala/tracktagger-go/internal/recognizer"
	"github.com/tphakala/tracktagger-go/internal/window"
)

// State is the lifecycle state of a stream worker.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var validWorkerTransitions = map[State][]State{
	StateIdle:     {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped},
	StateStopped:  {},
	StateFailed:   {},
}

// Status is a point-in-time snapshot of a worker, consumed by the manager's
// liveness logging.
type Status struct {
	StreamName        string
	WorkerState       string
	DecoderState      string
	PendingCandidates int
}

// Worker runs the full pipeline for one stream: decoder, window scheduler,
// parallel recognition, two-hit confirmation and persistence. A Failed
// worker stays failed until the manager rebuilds the fleet.
type Worker struct {
	streamName string
	url        string
	settings   *conf.Settings

	store      datastore.Interface
	dispatcher *recognizer.Dispatcher
	metrics    *observability.Metrics

	runner     *decoder.Runner
	scheduler  *window.Scheduler
	aggregator *TwoHitAggregator

	streamID uint

	stateMu sync.RWMutex
	state   State

	cancel context.CancelFunc
	done   chan struct{}

	logger *slog.Logger
}

// NewWorker wires the pipeline components for one stream. The metrics
// argument may be nil when telemetry is disabled.
func NewWorker(stream conf.StreamConfig, settings *conf.Settings, store datastore.Interface, dispatcher *recognizer.Dispatcher, m *observability.Metrics) *Worker {
	return newWorker(stream, settings, store, dispatcher, m, nil)
}

// newWorker additionally takes the clock driving the decoder's restart
// backoff; nil selects the wall clock.
func newWorker(stream conf.StreamConfig, settings *conf.Settings, store datastore.Interface, dispatcher *recognizer.Dispatcher, m *observability.Metrics, clock window.Clock) *Worker {
	decoderMetrics, workerMetrics := decoderAndWorkerMetrics(m)

	runner := decoder.New(stream.Name, stream.URL, settings, decoderMetrics, clock)
	scheduler := window.NewScheduler(stream.Name,
		settings.Realtime.Window.WindowSeconds,
		settings.Realtime.Window.HopSeconds,
		runner.Chunks(), nil)
	aggregator := NewTwoHitAggregator(stream.Name,
		settings.Realtime.Confirmation.ToleranceHops,
		settings.Realtime.Window.HopSeconds,
		workerMetrics)

	return &Worker{
		streamName: stream.Name,
		url:        stream.URL,
		settings:   settings,
		store:      store,
		dispatcher: dispatcher,
		metrics:    m,
		runner:     runner,
		scheduler:  scheduler,
		aggregator: aggregator,
		state:      StateIdle,
		done:       make(chan struct{}),
		logger: logging.ForService("worker").With(
			"stream", stream.Name,
			"url", privacy.SanitizeRTSPUrl(stream.URL)),
	}
}

func decoderAndWorkerMetrics(m *observability.Metrics) (*metrics.DecoderMetrics, *metrics.WorkerMetrics) {
	if m == nil {
		return nil, nil
	}
	return m.Decoder, m.Worker
}

// Start registers the stream row and launches the pipeline task.
func (w *Worker) Start(ctx context.Context) error {
	if w.State() != StateIdle {
		return errors.Newf("worker for stream %q already started", w.streamName).
			Category(errors.CategoryWorker).
			Context("state", w.State().String()).
			Build()
	}
	w.transition(StateStarting, "start requested")

	stream, err := w.store.EnsureStream(w.streamName, w.url)
	if err != nil {
		w.transition(StateFailed, "stream registration failed")
		return errors.New(err).
			Category(errors.CategoryWorker).
			Context("operation", "ensure-stream").
			Context("stream", w.streamName).
			Build()
	}
	w.streamID = stream.ID

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.run(runCtx)

	log.Printf("✅ Started worker for stream %s", w.streamName)
	return nil
}

// Stop cancels the pipeline and waits for it to drain.
func (w *Worker) Stop() {
	state := w.State()
	if state == StateStopped || state == StateIdle {
		return
	}
	if w.cancel == nil {
		// Start never got as far as launching the pipeline.
		return
	}
	if state != StateFailed {
		w.transition(StateStopping, "stop requested")
	}
	w.cancel()
	<-w.done
	if w.State() == StateStopping {
		w.transition(StateStopped, "pipeline drained")
	}
	log.Printf("🛑 Stopped worker for stream %s", w.streamName)
}

// State returns the worker's lifecycle state.
func (w *Worker) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// Status snapshots the worker for liveness logging. A running worker whose
// decoder is between processes reports the decoder's own state.
func (w *Worker) Status() Status {
	return Status{
		StreamName:        w.streamName,
		WorkerState:       w.State().String(),
		DecoderState:      w.runner.State().String(),
		PendingCandidates: w.aggregator.PendingCount(),
	}
}

func (w *Worker) transition(to State, reason string) {
	w.stateMu.Lock()
	from := w.state
	if from == to {
		w.stateMu.Unlock()
		return
	}
	allowed := false
	for _, next := range validWorkerTransitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		w.stateMu.Unlock()
		w.logger.Warn("Invalid worker state transition",
			"from", from.String(), "to", to.String(), "reason", reason)
		return
	}
	w.state = to
	w.stateMu.Unlock()

	if w.metrics != nil {
		w.metrics.Worker.RecordStateTransition(w.streamName, to.String())
	}
	w.logger.Info("Worker state transition",
		"from", from.String(), "to", to.String(), "reason", reason)
}

// run is the worker's single long-running task.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	runnerErr := make(chan error, 1)
	go func() { runnerErr <- w.runner.Run(ctx) }()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := w.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("Window scheduler stopped", "error", err)
		}
	}()

	w.transition(StateRunning, "pipeline started")

	// Windows are consumed strictly sequentially: the next window is not
	// dispatched until this one's diagnostics writes completed.
	for win := range w.scheduler.Windows() {
		w.processWindow(ctx, &win)
	}

	<-schedulerDone
	err := <-runnerErr

	if errors.Is(err, decoder.ErrRestartBudgetExhausted) {
		w.transition(StateFailed, "decoder restart budget exhausted")
		log.Printf("❌ Worker for stream %s failed: decoder gave up", w.streamName)
	}
}

// processWindow fans the window out to the recognizers and persists every
// outcome. Persistence errors lose the window but never stop the worker.
func (w *Worker) processWindow(ctx context.Context, win *window.Window) {
	results := w.dispatcher.RecognizeParallel(ctx, win)

	for i := range results {
		r := &results[i]

		// Matched tracks enter the catalog immediately so the diagnostic
		// row can reference them; no-match and error rows keep a null link.
		var trackID *uint
		if r.IsMatch() {
			track, err := w.upsertTrack(r)
			if err != nil {
				w.logger.Error("Failed to upsert track",
					"provider", r.Provider, "track_id", r.ProviderTrackID, "error", err)
			} else {
				trackID = &track.ID
			}
		}

		if err := w.appendDiagnostics(r, win, trackID); err != nil {
			w.logger.Error("Failed to record recognition diagnostics",
				"provider", r.Provider, "error", err)
		}

		if !r.IsMatch() || trackID == nil {
			continue
		}
		if w.aggregator.Observe(r) {
			w.recordPlay(r, *trackID)
		}
	}
}

func (w *Worker) upsertTrack(r *recognizer.Result) (*datastore.Track, error) {
	track := &datastore.Track{
		Provider:        r.Provider,
		ProviderTrackID: r.ProviderTrackID,
		Title:           r.Title,
		Artist:          r.Artist,
		Album:           r.Album,
		ISRC:            r.ISRC,
		ArtworkURL:      r.ArtworkURL,
		Metadata:        r.RawResponse,
	}
	if err := w.store.UpsertTrack(track); err != nil {
		return nil, err
	}
	return track, nil
}

func (w *Worker) appendDiagnostics(r *recognizer.Result, win *window.Window, trackID *uint) error {
	return w.store.AppendRecognition(&datastore.Recognition{
		StreamID:        w.streamID,
		Provider:        r.Provider,
		TrackID:         trackID,
		WindowStartUTC:  win.StartUTC,
		WindowEndUTC:    win.EndUTC,
		Status:          r.Status(),
		ProviderTrackID: r.ProviderTrackID,
		Title:           r.Title,
		Artist:          r.Artist,
		Confidence:      r.Confidence,
		ErrorMessage:    r.ErrorMessage,
		LatencyMs:       r.LatencyMs,
		RawResponse:     r.RawResponse,
	})
}

// recordPlay inserts the confirmed play, treating a dedup conflict as an
// expected duplicate.
func (w *Worker) recordPlay(r *recognizer.Result, trackID uint) {
	dedupBucket := r.RecognizedAtUTC.Unix() / int64(w.settings.Realtime.Confirmation.DedupSeconds)
	play := &datastore.Play{
		TrackID:         trackID,
		StreamID:        w.streamID,
		RecognizedAtUTC: r.RecognizedAtUTC,
		DedupBucket:     dedupBucket,
		Confidence:      r.Confidence,
	}

	err := w.store.InsertPlay(play)
	switch {
	case errors.Is(err, datastore.ErrDuplicatePlay):
		if w.metrics != nil {
			w.metrics.Worker.RecordPlayDuplicate(w.streamName)
		}
		w.logger.Debug("Duplicate play within dedup bucket",
			"title", r.Title, "artist", r.Artist, "dedup_bucket", dedupBucket)
	case err != nil:
		w.logger.Error("Failed to insert play",
			"title", r.Title, "artist", r.Artist, "error", err)
	default:
		if w.metrics != nil {
			w.metrics.Worker.RecordPlayConfirmed(w.streamName, r.Provider)
		}
		w.logger.Info("Confirmed play",
			"provider", r.Provider,
			"title", r.Title,
			"artist", r.Artist,
			"confidence", r.Confidence)
		log.Printf("🎵 %s: %s - %s (%s, confidence %.2f)",
			w.streamName, r.Artist, r.Title, r.Provider, r.Confidence)
	}
}
