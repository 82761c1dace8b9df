// interfaces_test.go: Tests for datastore write and read operations
package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DataStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&Track{}, &Stream{}, &Play{}, &Recognition{})
	require.NoError(t, err)

	return &DataStore{DB: db}
}

func TestUpsertTrackCreatesAndRefreshes(t *testing.T) {
	ds := setupTestDB(t)

	track := &Track{
		Provider:        "shazam",
		ProviderTrackID: "t1",
		Title:           "Bohemian Rhapsody",
		Artist:          "Queen",
	}
	require.NoError(t, ds.UpsertTrack(track))
	require.NotZero(t, track.ID)
	firstID := track.ID

	// Same catalog entry with refreshed metadata must update in place.
	updated := &Track{
		Provider:        "shazam",
		ProviderTrackID: "t1",
		Title:           "Bohemian Rhapsody",
		Artist:          "Queen",
		Album:           "A Night at the Opera",
		Metadata:        `{"track":{"key":"t1"}}`,
	}
	require.NoError(t, ds.UpsertTrack(updated))
	assert.Equal(t, firstID, updated.ID, "conflict branch resolves the existing ID")

	var count int64
	require.NoError(t, ds.DB.Model(&Track{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var stored Track
	require.NoError(t, ds.DB.First(&stored, firstID).Error)
	assert.Equal(t, "A Night at the Opera", stored.Album)
	assert.Equal(t, `{"track":{"key":"t1"}}`, stored.Metadata, "raw provider response is refreshed")
}

func TestUpsertTrackDistinctProviders(t *testing.T) {
	ds := setupTestDB(t)

	a := &Track{Provider: "shazam", ProviderTrackID: "t1", Title: "Song"}
	b := &Track{Provider: "acoustid", ProviderTrackID: "t1", Title: "Song"}
	require.NoError(t, ds.UpsertTrack(a))
	require.NoError(t, ds.UpsertTrack(b))
	assert.NotEqual(t, a.ID, b.ID, "same catalog ID under different providers is a different track")
}

func TestEnsureStream(t *testing.T) {
	ds := setupTestDB(t)

	created, err := ds.EnsureStream("studio", "rtsp://radio.example.com/live")
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	// A second call with the same name returns the same row.
	again, err := ds.EnsureStream("studio", "rtsp://radio.example.com/live")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	// A changed URL is persisted.
	moved, err := ds.EnsureStream("studio", "rtsp://radio.example.com/live2")
	require.NoError(t, err)
	assert.Equal(t, created.ID, moved.ID)
	assert.Equal(t, "rtsp://radio.example.com/live2", moved.URL)

	var stored Stream
	require.NoError(t, ds.DB.First(&stored, created.ID).Error)
	assert.Equal(t, "rtsp://radio.example.com/live2", stored.URL)
}

func TestInsertPlayDedupBucket(t *testing.T) {
	ds := setupTestDB(t)

	track := &Track{Provider: "shazam", ProviderTrackID: "t1", Title: "Song"}
	require.NoError(t, ds.UpsertTrack(track))
	stream, err := ds.EnsureStream("studio", "rtsp://radio.example.com/live")
	require.NoError(t, err)

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	play := &Play{
		TrackID:         track.ID,
		StreamID:        stream.ID,
		DedupBucket:     at.Unix() / 300,
		RecognizedAtUTC: at,
		Confidence:      0.9,
	}
	require.NoError(t, ds.InsertPlay(play))

	// Same track, stream and bucket collides with the unique index.
	dup := &Play{
		TrackID:         track.ID,
		StreamID:        stream.ID,
		DedupBucket:     at.Unix() / 300,
		RecognizedAtUTC: at.Add(2 * time.Minute),
		Confidence:      0.8,
	}
	assert.ErrorIs(t, ds.InsertPlay(dup), ErrDuplicatePlay)

	// The next bucket inserts cleanly.
	next := &Play{
		TrackID:         track.ID,
		StreamID:        stream.ID,
		DedupBucket:     at.Unix()/300 + 1,
		RecognizedAtUTC: at.Add(5 * time.Minute),
		Confidence:      0.9,
	}
	assert.NoError(t, ds.InsertPlay(next))
}

func TestPlaysByDate(t *testing.T) {
	ds := setupTestDB(t)

	track := &Track{Provider: "shazam", ProviderTrackID: "t1", Title: "Song"}
	require.NoError(t, ds.UpsertTrack(track))
	studio, err := ds.EnsureStream("studio", "rtsp://radio.example.com/a")
	require.NoError(t, err)
	lounge, err := ds.EnsureStream("lounge", "rtsp://radio.example.com/b")
	require.NoError(t, err)

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	insert := func(streamID uint, at time.Time) {
		t.Helper()
		require.NoError(t, ds.InsertPlay(&Play{
			TrackID:         track.ID,
			StreamID:        streamID,
			DedupBucket:     at.Unix() / 300,
			RecognizedAtUTC: at,
		}))
	}
	insert(studio.ID, day.Add(8*time.Hour))
	insert(studio.ID, day.Add(20*time.Hour))
	insert(lounge.ID, day.Add(9*time.Hour))
	insert(studio.ID, day.Add(25*time.Hour)) // next day

	all, err := ds.PlaysByDate("2024-01-15", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].RecognizedAtUTC.After(all[1].RecognizedAtUTC), "newest first")
	assert.Equal(t, "Song", all[0].Track.Title, "track preloaded")

	onlyStudio, err := ds.PlaysByDate("2024-01-15", studio.ID)
	require.NoError(t, err)
	assert.Len(t, onlyStudio, 2)

	_, err = ds.PlaysByDate("15.01.2024", 0)
	assert.Error(t, err, "malformed date is rejected")
}

func TestRecentRecognitions(t *testing.T) {
	ds := setupTestDB(t)

	stream, err := ds.EnsureStream("studio", "rtsp://radio.example.com/live")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		provider := "shazam"
		if i%2 == 1 {
			provider = "acoustid"
		}
		require.NoError(t, ds.AppendRecognition(&Recognition{
			StreamID: stream.ID,
			Provider: provider,
			Status:   RecognitionStatusNoMatch,
		}))
	}

	all, err := ds.RecentRecognitions(0, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	shazamOnly, err := ds.RecentRecognitions(stream.ID, "shazam", 10)
	require.NoError(t, err)
	assert.Len(t, shazamOnly, 3)

	capped, err := ds.RecentRecognitions(0, "", 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestAppendRecognitionTrackLink(t *testing.T) {
	ds := setupTestDB(t)

	track := &Track{Provider: "shazam", ProviderTrackID: "t1", Title: "Song"}
	require.NoError(t, ds.UpsertTrack(track))
	stream, err := ds.EnsureStream("studio", "rtsp://radio.example.com/live")
	require.NoError(t, err)

	require.NoError(t, ds.AppendRecognition(&Recognition{
		StreamID:    stream.ID,
		Provider:    "shazam",
		TrackID:     &track.ID,
		Status:      RecognitionStatusMatch,
		RawResponse: `{"track":{"key":"t1"}}`,
	}))
	require.NoError(t, ds.AppendRecognition(&Recognition{
		StreamID: stream.ID,
		Provider: "shazam",
		Status:   RecognitionStatusNoMatch,
	}))

	rows, err := ds.RecentRecognitions(stream.ID, "shazam", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byStatus := make(map[string]Recognition)
	for _, row := range rows {
		byStatus[row.Status] = row
	}
	matched := byStatus[RecognitionStatusMatch]
	require.NotNil(t, matched.TrackID, "a match references its catalog row")
	assert.Equal(t, track.ID, *matched.TrackID)
	assert.Equal(t, `{"track":{"key":"t1"}}`, matched.RawResponse)
	assert.Nil(t, byStatus[RecognitionStatusNoMatch].TrackID, "a no-match keeps a null link")
}

func TestRetentionDeletes(t *testing.T) {
	ds := setupTestDB(t)

	track := &Track{Provider: "shazam", ProviderTrackID: "t1", Title: "Song"}
	require.NoError(t, ds.UpsertTrack(track))
	stream, err := ds.EnsureStream("studio", "rtsp://radio.example.com/live")
	require.NoError(t, err)

	old := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	fresh := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, at := range []time.Time{old, fresh} {
		require.NoError(t, ds.InsertPlay(&Play{
			TrackID:         track.ID,
			StreamID:        stream.ID,
			DedupBucket:     at.Unix() / 300,
			RecognizedAtUTC: at,
		}))
	}

	deleted, err := ds.DeletePlaysBefore(time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := ds.PlaysByDate("2024-01-01", 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
