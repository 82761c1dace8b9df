// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"time"

	"github.com/tphakala/tracktagger-go/internal/conf"
	"github.com/tphakala/tracktagger-go/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Interface abstracts the underlying database implementation and defines the
// operations the pipeline needs.
type Interface interface {
	Open() error
	Close() error

	// Write path, called from stream workers
	UpsertTrack(track *Track) error
	EnsureStream(name, url string) (Stream, error)
	AppendRecognition(rec *Recognition) error
	InsertPlay(play *Play) error

	// Read path, used by external reporting surfaces
	PlaysByDate(date string, streamID uint) ([]Play, error)
	RecentRecognitions(streamID uint, provider string, limit int) ([]Recognition, error)

	// Retention cleanup
	DeletePlaysBefore(cutoff time.Time) (int64, error)
	DeleteRecognitionsBefore(cutoff time.Time) (int64, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
// SQLite wins when both backends are enabled.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// UpsertTrack creates a track or refreshes its metadata if the same provider
// catalog entry already exists. The track's ID is populated either way.
func (ds *DataStore) UpsertTrack(track *Track) error {
	if err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "provider_track_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "artist", "album", "isrc", "artwork_url", "metadata", "updated_at",
		}),
	}).Create(track).Error; err != nil {
		return dbError(err, "upsert_track", "",
			"provider", track.Provider,
			"provider_track_id", track.ProviderTrackID)
	}

	// The upsert path does not report the existing row's ID on all backends,
	// fetch it when the conflict branch was taken.
	if track.ID == 0 {
		var existing Track
		if err := ds.DB.
			Where("provider = ? AND provider_track_id = ?", track.Provider, track.ProviderTrackID).
			First(&existing).Error; err != nil {
			return dbError(err, "upsert_track_fetch", "",
				"provider", track.Provider,
				"provider_track_id", track.ProviderTrackID)
		}
		track.ID = existing.ID
	}

	return nil
}

// EnsureStream returns the stream row for name, creating it if missing and
// refreshing the stored URL if it changed.
func (ds *DataStore) EnsureStream(name, url string) (Stream, error) {
	var stream Stream
	err := ds.DB.Where("name = ?", name).First(&stream).Error
	switch {
	case err == nil:
		if stream.URL != url {
			stream.URL = url
			if err := ds.DB.Model(&stream).Update("url", url).Error; err != nil {
				return Stream{}, dbError(err, "ensure_stream_update", "", "stream", name)
			}
		}
		return stream, nil
	case isNotFound(err):
		stream = Stream{Name: name, URL: url}
		if err := ds.DB.Create(&stream).Error; err != nil {
			// A concurrent worker may have created it between lookup and insert
			if isConstraintViolation(err) {
				var existing Stream
				if ferr := ds.DB.Where("name = ?", name).First(&existing).Error; ferr == nil {
					return existing, nil
				}
			}
			return Stream{}, dbError(err, "ensure_stream_create", "", "stream", name)
		}
		return stream, nil
	default:
		return Stream{}, dbError(err, "ensure_stream", "", "stream", name)
	}
}

// AppendRecognition stores one diagnostic row for a provider call.
func (ds *DataStore) AppendRecognition(rec *Recognition) error {
	if err := ds.DB.Create(rec).Error; err != nil {
		return dbError(err, "append_recognition", "",
			"stream_id", rec.StreamID,
			"provider", rec.Provider)
	}
	return nil
}

// InsertPlay stores a confirmed play. A unique constraint violation on the
// (track, stream, dedup bucket) index is reported as ErrDuplicatePlay.
func (ds *DataStore) InsertPlay(play *Play) error {
	if err := ds.DB.Omit("Track", "Stream").Create(play).Error; err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicatePlay
		}
		return dbError(err, "insert_play", "",
			"track_id", play.TrackID,
			"stream_id", play.StreamID,
			"dedup_bucket", play.DedupBucket)
	}
	return nil
}

// PlaysByDate returns plays recognized on the given UTC date (YYYY-MM-DD),
// newest first, with track and stream preloaded. streamID 0 means all streams.
func (ds *DataStore) PlaysByDate(date string, streamID uint) ([]Play, error) {
	dayStart, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, validationError("invalid date format, expected YYYY-MM-DD", "date", date)
	}
	dayEnd := dayStart.Add(24 * time.Hour)

	query := ds.DB.
		Preload("Track").
		Preload("Stream").
		Where("recognized_at_utc >= ? AND recognized_at_utc < ?", dayStart, dayEnd)
	if streamID != 0 {
		query = query.Where("stream_id = ?", streamID)
	}

	var plays []Play
	if err := query.Order("recognized_at_utc DESC").Find(&plays).Error; err != nil {
		return nil, dbError(err, "plays_by_date", "", "date", date)
	}
	return plays, nil
}

// RecentRecognitions returns the latest diagnostic rows, optionally filtered
// by stream and provider. limit caps the result, defaulting to 100.
func (ds *DataStore) RecentRecognitions(streamID uint, provider string, limit int) ([]Recognition, error) {
	if limit <= 0 {
		limit = 100
	}

	query := ds.DB.Order("created_at DESC").Limit(limit)
	if streamID != 0 {
		query = query.Where("stream_id = ?", streamID)
	}
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}

	var recognitions []Recognition
	if err := query.Find(&recognitions).Error; err != nil {
		return nil, dbError(err, "recent_recognitions", "", "provider", provider)
	}
	return recognitions, nil
}

// DeletePlaysBefore removes plays recognized before cutoff and reports how
// many rows were deleted.
func (ds *DataStore) DeletePlaysBefore(cutoff time.Time) (int64, error) {
	result := ds.DB.Where("recognized_at_utc < ?", cutoff).Delete(&Play{})
	if result.Error != nil {
		return 0, dbError(result.Error, "delete_plays_before", "", "cutoff", cutoff)
	}
	return result.RowsAffected, nil
}

// DeleteRecognitionsBefore removes diagnostic rows created before cutoff.
func (ds *DataStore) DeleteRecognitionsBefore(cutoff time.Time) (int64, error) {
	result := ds.DB.Where("created_at < ?", cutoff).Delete(&Recognition{})
	if result.Error != nil {
		return 0, dbError(result.Error, "delete_recognitions_before", "", "cutoff", cutoff)
	}
	return result.RowsAffected, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
