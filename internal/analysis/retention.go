package analysis

import (
	"log"
	"sync"
	"time"

	"github.com/tphakala/tracktagger-go/internal/conf"
	"github.com/tphakala/tracktagger-go/internal/datastore"
	"github.com/tphakala/tracktagger-go/internal/logging"
	"github.com/tphakala/tracktagger-go/internal/observability"
)

// retentionCheckInterval is how often expired rows are purged.
const retentionCheckInterval = 24 * time.Hour

// startRetentionMonitor launches the periodic retention cleanup when any
// retention limit is configured. A value of -1 keeps rows forever.
func startRetentionMonitor(wg *sync.WaitGroup, settings *conf.Settings, store datastore.Interface, metrics *observability.Metrics, quitChan chan struct{}) {
	if settings.Retention.PlaysDays < 0 && settings.Retention.RecognitionsDays < 0 {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		retentionMonitor(settings, store, metrics, quitChan)
	}()
}

func retentionMonitor(settings *conf.Settings, store datastore.Interface, metrics *observability.Metrics, quitChan chan struct{}) {
	logger := logging.ForService("retention")
	ticker := time.NewTicker(retentionCheckInterval)
	defer ticker.Stop()

	logger.Info("Retention cleanup enabled",
		"plays_days", settings.Retention.PlaysDays,
		"recognitions_days", settings.Retention.RecognitionsDays)

	// First pass right away so restarts do not postpone cleanup by a day.
	runRetentionCleanup(settings, store, metrics)

	for {
		select {
		case <-quitChan:
			return
		case <-ticker.C:
			runRetentionCleanup(settings, store, metrics)
		}
	}
}

func runRetentionCleanup(settings *conf.Settings, store datastore.Interface, metrics *observability.Metrics) {
	logger := logging.ForService("retention")
	now := time.Now().UTC()

	if days := settings.Retention.PlaysDays; days >= 0 {
		cutoff := now.AddDate(0, 0, -days)
		deleted, err := store.DeletePlaysBefore(cutoff)
		switch {
		case err != nil:
			logger.Error("Failed to delete expired plays", "cutoff", cutoff, "error", err)
		case deleted > 0:
			if metrics != nil {
				metrics.Datastore.AddRetentionDeletes("plays", deleted)
			}
			logger.Info("Deleted expired plays", "count", deleted, "cutoff", cutoff)
			log.Printf("🗑️ Deleted %d plays older than %d days", deleted, days)
		}
	}

	if days := settings.Retention.RecognitionsDays; days >= 0 {
		cutoff := now.AddDate(0, 0, -days)
		deleted, err := store.DeleteRecognitionsBefore(cutoff)
		switch {
		case err != nil:
			logger.Error("Failed to delete expired recognitions", "cutoff", cutoff, "error", err)
		case deleted > 0:
			if metrics != nil {
				metrics.Datastore.AddRetentionDeletes("recognitions", deleted)
			}
			logger.Info("Deleted expired recognitions", "count", deleted, "cutoff", cutoff)
		}
	}
}
