// model.go this code defines the data model for the application
package datastore

import "time"

// Track represents a recognized piece of music, unique per provider catalog entry.
type Track struct {
	ID              uint   `gorm:"primaryKey"`
	Provider        string `gorm:"size:32;not null;uniqueIndex:idx_tracks_provider_track"`
	ProviderTrackID string `gorm:"size:128;not null;uniqueIndex:idx_tracks_provider_track"`
	Title           string `gorm:"size:512"`
	Artist          string `gorm:"size:512;index:idx_tracks_artist"`
	Album           string `gorm:"size:512"`
	ISRC            string `gorm:"size:32"`
	ArtworkURL      string `gorm:"size:1024"`
	// Metadata is the provider's raw response for the recognition that
	// created or last refreshed this track, stored as opaque JSON.
	Metadata  string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stream represents a monitored RTSP source.
type Stream struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:50;not null;uniqueIndex:idx_streams_name"`
	URL       string `gorm:"size:1024"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Play represents a confirmed play of a track on a stream. The composite
// unique index enforces at most one play per track, stream and dedup bucket.
type Play struct {
	ID              uint      `gorm:"primaryKey"`
	TrackID         uint      `gorm:"not null;index:idx_plays_track;uniqueIndex:idx_plays_dedup"`
	StreamID        uint      `gorm:"not null;index:idx_plays_stream;uniqueIndex:idx_plays_dedup"`
	DedupBucket     int64     `gorm:"not null;uniqueIndex:idx_plays_dedup"`
	RecognizedAtUTC time.Time `gorm:"index:idx_plays_recognized_at"`
	Confidence      float64
	Track           Track  `gorm:"foreignKey:TrackID"`
	Stream          Stream `gorm:"foreignKey:StreamID"`
	CreatedAt       time.Time
}

// Recognition statuses persisted in the diagnostic trail.
const (
	RecognitionStatusMatch   = "match"
	RecognitionStatusNoMatch = "no_match"
	RecognitionStatusError   = "error"
)

// Recognition is one diagnostic row per provider call per window, regardless
// of outcome. Confirmed plays reference the same windows through Play rows.
type Recognition struct {
	ID       uint   `gorm:"primaryKey"`
	StreamID uint   `gorm:"not null;index:idx_recognitions_stream"`
	Provider string `gorm:"size:32;not null;index:idx_recognitions_provider"`
	// TrackID links a matched recognition to its catalog row. Null for
	// no-match and error rows.
	TrackID         *uint     `gorm:"index:idx_recognitions_track"`
	WindowStartUTC  time.Time `gorm:"index:idx_recognitions_window_start"`
	WindowEndUTC    time.Time
	Status          string `gorm:"size:16;not null"`
	ProviderTrackID string `gorm:"size:128"`
	Title           string `gorm:"size:512"`
	Artist          string `gorm:"size:512"`
	Confidence      float64
	ErrorMessage    string `gorm:"size:1024"`
	LatencyMs       int64
	RawResponse     string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"index:idx_recognitions_created_at"`
}
