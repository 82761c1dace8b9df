package worker

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/tracktagger-go/internal/conf"
	"github.com/tphakala/tracktagger-go/internal/datastore"
	"github.com/tphakala/tracktagger-go/internal/errors"
	"github.com/tphakala/tracktagger-go/internal/httpclient"
	"github.com/tphakala/tracktagger-go/internal/logging"
	"github.com/tphakala/tracktagger-go/internal/observability"
	"github.com/tphakala/tracktagger-go/internal/recognizer"
)

// livenessInterval is the cadence of the manager's status log.
const livenessInterval = 30 * time.Second

// Manager owns the shared capacity gates and persistence handle and runs
// one worker per enabled stream.
type Manager struct {
	settings *conf.Settings
	store    datastore.Interface
	metrics  *observability.Metrics

	gates      *recognizer.Gates
	dispatcher *recognizer.Dispatcher
	httpClient *httpclient.Client

	workersMu sync.RWMutex
	workers   map[string]*Worker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// NewManager builds the recognizer set from settings and sizes the shared
// gates. The metrics argument may be nil.
func NewManager(settings *conf.Settings, store datastore.Interface, m *observability.Metrics) (*Manager, error) {
	client := httpclient.New(nil)

	var recognizers []recognizer.Recognizer
	if settings.Realtime.Recognition.Shazam.Endpoint != "" {
		recognizers = append(recognizers, recognizer.NewShazam(settings, client))
	}
	if settings.Realtime.Recognition.AcoustID.Enabled {
		recognizers = append(recognizers, recognizer.NewAcoustID(settings, client))
	}
	if len(recognizers) == 0 {
		return nil, errors.Newf("no recognition providers enabled").
			Category(errors.CategoryConfiguration).
			Context("operation", "build-recognizers").
			Build()
	}

	names := make([]string, len(recognizers))
	for i, rec := range recognizers {
		names[i] = rec.Name()
	}

	gates := recognizer.NewGates(
		settings.Realtime.Recognition.MaxInFlight,
		settings.Realtime.Recognition.PerProviderInFlight,
		names)

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		settings:   settings,
		store:      store,
		metrics:    m,
		gates:      gates,
		httpClient: client,
		workers:    make(map[string]*Worker),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logging.ForService("worker"),
	}

	if m != nil {
		mgr.dispatcher = recognizer.NewDispatcher(recognizers, gates, m.Recognizer)
	} else {
		mgr.dispatcher = recognizer.NewDispatcher(recognizers, gates, nil)
	}

	return mgr, nil
}

// StartAll constructs and starts one worker per enabled stream, then starts
// the liveness monitor.
func (m *Manager) StartAll() error {
	streams := m.settings.EnabledStreams()
	if len(streams) == 0 {
		return errors.Newf("no enabled streams configured").
			Category(errors.CategoryConfiguration).
			Context("operation", "start-all").
			Build()
	}

	for _, stream := range streams {
		if err := m.startWorker(stream); err != nil {
			m.logger.Error("Failed to start stream worker",
				"stream", stream.Name, "error", err)
			log.Printf("⚠️ Error starting worker for stream %s: %v", stream.Name, err)
		}
	}

	m.startLivenessMonitor()

	m.logger.Info("Worker fleet started",
		"workers", len(m.ActiveWorkers()),
		"providers", m.dispatcher.Providers())
	return nil
}

func (m *Manager) startWorker(stream conf.StreamConfig) error {
	m.workersMu.Lock()
	defer m.workersMu.Unlock()

	if _, exists := m.workers[stream.Name]; exists {
		return errors.Newf("worker already exists for stream %q", stream.Name).
			Category(errors.CategoryValidation).
			Context("operation", "start-worker").
			Build()
	}

	w := NewWorker(stream, m.settings, m.store, m.dispatcher, m.metrics)
	if err := w.Start(m.ctx); err != nil {
		return err
	}

	m.workers[stream.Name] = w
	if m.metrics != nil {
		m.metrics.Worker.AddActiveWorkers(1)
	}
	return nil
}

// StopAll stops every worker concurrently and waits for them to drain.
func (m *Manager) StopAll() {
	m.cancel()

	m.workersMu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*Worker)
	m.workersMu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
	m.wg.Wait()

	if m.metrics != nil {
		m.metrics.Worker.AddActiveWorkers(-float64(len(workers)))
	}
	m.logger.Info("Worker fleet stopped", "workers", len(workers))
}

// RestartAll rebuilds the fleet from current settings. This is the only way
// a Failed worker comes back.
func (m *Manager) RestartAll() error {
	m.StopAll()

	ctx, cancel := context.WithCancel(context.Background())
	m.ctx = ctx
	m.cancel = cancel

	return m.StartAll()
}

// ActiveWorkers returns the names of the managed streams.
func (m *Manager) ActiveWorkers() []string {
	m.workersMu.RLock()
	defer m.workersMu.RUnlock()

	names := make([]string, 0, len(m.workers))
	for name := range m.workers {
		names = append(names, name)
	}
	return names
}

// StatusAll snapshots every worker.
func (m *Manager) StatusAll() []Status {
	m.workersMu.RLock()
	defer m.workersMu.RUnlock()

	statuses := make([]Status, 0, len(m.workers))
	for _, w := range m.workers {
		statuses = append(statuses, w.Status())
	}
	return statuses
}

// startLivenessMonitor logs each worker's high-level status periodically.
func (m *Manager) startLivenessMonitor() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(livenessInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				for _, status := range m.StatusAll() {
					m.logger.Info("Worker liveness",
						"stream", status.StreamName,
						"worker_state", status.WorkerState,
						"decoder_state", status.DecoderState,
						"pending_candidates", status.PendingCandidates)
				}
			}
		}
	}()
}
