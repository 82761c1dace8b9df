// Package analysis bootstraps the realtime recognition service.
package analysis

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tphakala/tracktagger-go/internal/conf"
	"github.com/tphakala/tracktagger-go/internal/datastore"
	"github.com/tphakala/tracktagger-go/internal/logging"
	"github.com/tphakala/tracktagger-go/internal/observability"
	"github.com/tphakala/tracktagger-go/internal/worker"
)

// RealtimeAnalysis starts the full pipeline for every enabled stream and
// blocks until a termination signal arrives.
func RealtimeAnalysis(settings *conf.Settings) error {
	logging.Init()

	if err := conf.ValidateSettings(settings); err != nil {
		return err
	}

	fmt.Printf("Starting %s in realtime mode. Window: %ds, hop: %ds, dedup: %ds\n",
		settings.Main.Name,
		settings.Realtime.Window.WindowSeconds,
		settings.Realtime.Window.HopSeconds,
		settings.Realtime.Confirmation.DedupSeconds)

	dataStore := datastore.New(settings)
	if err := dataStore.Open(); err != nil {
		return err
	}
	defer closeDataStore(dataStore)

	// quitChan signals the support goroutines to stop.
	quitChan := make(chan struct{})
	var wg sync.WaitGroup

	var metrics *observability.Metrics
	if settings.Realtime.Telemetry.Enabled {
		var err error
		metrics, err = observability.NewMetrics()
		if err != nil {
			log.Printf("⚠️ Error initializing metrics: %v", err)
		} else {
			startTelemetryEndpoint(&wg, settings, metrics, quitChan)
		}
	}

	manager, err := worker.NewManager(settings, dataStore, metrics)
	if err != nil {
		return err
	}
	if err := manager.StartAll(); err != nil {
		return err
	}

	startRetentionMonitor(&wg, settings, dataStore, metrics, quitChan)
	monitorCtrlC(quitChan)

	<-quitChan

	manager.StopAll()
	wg.Wait()
	return nil
}

func startTelemetryEndpoint(wg *sync.WaitGroup, settings *conf.Settings, metrics *observability.Metrics, quitChan chan struct{}) {
	endpoint, err := observability.NewEndpoint(settings, metrics)
	if err != nil {
		log.Printf("Error initializing telemetry endpoint: %v", err)
		return
	}
	endpoint.Start(wg, quitChan)
}

// monitorCtrlC listens for SIGINT/SIGTERM and triggers shutdown.
func monitorCtrlC(quitChan chan struct{}) {
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		<-sigChan
		fmt.Println("\nReceived termination signal, shutting down...")
		close(quitChan)
	}()
}

func closeDataStore(store datastore.Interface) {
	if err := store.Close(); err != nil {
		log.Printf("Failed to close database: %v", err)
	} else {
		log.Println("Successfully closed database")
	}
}
