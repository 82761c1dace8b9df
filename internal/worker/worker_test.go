package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/tracktagger-go/internal/conf"
	"github.com/tphakala/tracktagger-go/internal/datastore"
	"github.com/tphakala/tracktagger-go/internal/recognizer"
	"github.com/tphakala/tracktagger-go/internal/window"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStore records persistence calls in memory.
type fakeStore struct {
	mu           sync.Mutex
	recognitions []datastore.Recognition
	tracks       []datastore.Track
	plays        []datastore.Play
	playErrs     []error
}

func (s *fakeStore) Open() error  { return nil }
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) UpsertTrack(track *datastore.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tracks {
		if s.tracks[i].Provider == track.Provider &&
			s.tracks[i].ProviderTrackID == track.ProviderTrackID {
			track.ID = s.tracks[i].ID
			s.tracks[i] = *track
			return nil
		}
	}
	track.ID = uint(len(s.tracks) + 1)
	s.tracks = append(s.tracks, *track)
	return nil
}

func (s *fakeStore) EnsureStream(name, url string) (datastore.Stream, error) {
	return datastore.Stream{ID: 7, Name: name, URL: url}, nil
}

func (s *fakeStore) AppendRecognition(rec *datastore.Recognition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recognitions = append(s.recognitions, *rec)
	return nil
}

func (s *fakeStore) InsertPlay(play *datastore.Play) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.playErrs) > 0 {
		err := s.playErrs[0]
		s.playErrs = s.playErrs[1:]
		if err != nil {
			return err
		}
	}
	s.plays = append(s.plays, *play)
	return nil
}

func (s *fakeStore) PlaysByDate(date string, streamID uint) ([]datastore.Play, error) {
	return nil, nil
}

func (s *fakeStore) RecentRecognitions(streamID uint, provider string, limit int) ([]datastore.Recognition, error) {
	return nil, nil
}

func (s *fakeStore) DeletePlaysBefore(cutoff time.Time) (int64, error)        { return 0, nil }
func (s *fakeStore) DeleteRecognitionsBefore(cutoff time.Time) (int64, error) { return 0, nil }

// stubRecognizer returns a fixed result.
type stubRecognizer struct {
	name   string
	result recognizer.Result
}

func (s *stubRecognizer) Name() string { return s.name }

func (s *stubRecognizer) Recognize(ctx context.Context, pcm []byte) recognizer.Result {
	r := s.result
	r.Provider = s.name
	r.RecognizedAtUTC = time.Now().UTC()
	return r
}

func testSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Realtime.RTSP.Transport = "tcp"
	settings.Realtime.Window.WindowSeconds = 12
	settings.Realtime.Window.HopSeconds = 120
	settings.Realtime.Recognition.MaxInFlight = 3
	settings.Realtime.Recognition.PerProviderInFlight = 3
	settings.Realtime.Recognition.Timeout = 5
	settings.Realtime.Confirmation.ToleranceHops = 1
	settings.Realtime.Confirmation.DedupSeconds = 300
	return settings
}

func newPipelineWorker(t *testing.T, store datastore.Interface, recs ...recognizer.Recognizer) *Worker {
	t.Helper()

	names := make([]string, len(recs))
	for i, rec := range recs {
		names[i] = rec.Name()
	}
	gates := recognizer.NewGates(3, 3, names)
	dispatcher := recognizer.NewDispatcher(recs, gates, nil)

	stream := conf.StreamConfig{Name: "studio", URL: "rtsp://radio.example.com/live", Enabled: true}
	w := NewWorker(stream, testSettings(), store, dispatcher, nil)
	w.streamID = 7
	return w
}

func pipelineWindow() *window.Window {
	return &window.Window{
		StreamName: "studio",
		StartUTC:   time.Unix(240, 0).UTC(),
		EndUTC:     time.Unix(252, 0).UTC(),
		PCM:        make([]byte, 1024),
	}
}

func TestProcessWindowRecordsAllDiagnostics(t *testing.T) {
	store := &fakeStore{}
	w := newPipelineWorker(t, store,
		&stubRecognizer{name: "shazam", result: recognizer.Result{
			ProviderTrackID: "t1", Title: "Song", Artist: "Artist",
			RawResponse: `{"track":{"key":"t1"}}`,
		}},
		&stubRecognizer{name: "acoustid"},
		&stubRecognizer{name: "broken", result: recognizer.Result{ErrorMessage: "boom"}},
	)

	w.processWindow(context.Background(), pipelineWindow())

	require.Len(t, store.recognitions, 3, "matches, no-matches and errors are all logged")

	byProvider := make(map[string]datastore.Recognition)
	for _, rec := range store.recognitions {
		byProvider[rec.Provider] = rec
		assert.Equal(t, uint(7), rec.StreamID)
		assert.Equal(t, time.Unix(240, 0).UTC(), rec.WindowStartUTC)
	}
	assert.Equal(t, datastore.RecognitionStatusMatch, byProvider["shazam"].Status)
	assert.Equal(t, datastore.RecognitionStatusNoMatch, byProvider["acoustid"].Status)
	assert.Equal(t, datastore.RecognitionStatusError, byProvider["broken"].Status)
	assert.Equal(t, "boom", byProvider["broken"].ErrorMessage)

	// Only the match links a catalog row and carries the raw reply.
	require.NotNil(t, byProvider["shazam"].TrackID)
	assert.Equal(t, uint(1), *byProvider["shazam"].TrackID)
	assert.Equal(t, `{"track":{"key":"t1"}}`, byProvider["shazam"].RawResponse)
	assert.Nil(t, byProvider["acoustid"].TrackID)
	assert.Nil(t, byProvider["broken"].TrackID)

	require.Len(t, store.tracks, 1, "the matched track entered the catalog")
	assert.Empty(t, store.plays, "a single hit never confirms a play")
}

func TestProcessWindowConfirmsOnSecondHit(t *testing.T) {
	store := &fakeStore{}
	match := &stubRecognizer{name: "shazam", result: recognizer.Result{
		ProviderTrackID: "t1", Title: "Song", Artist: "Artist", Confidence: 0.9,
		RawResponse: `{"matches":[{"timeskew":0}]}`,
	}}
	w := newPipelineWorker(t, store, match)

	w.processWindow(context.Background(), pipelineWindow())
	w.processWindow(context.Background(), pipelineWindow())

	require.Len(t, store.tracks, 1, "the same catalog entry is refreshed, not duplicated")
	assert.Equal(t, "shazam", store.tracks[0].Provider)
	assert.Equal(t, "t1", store.tracks[0].ProviderTrackID)
	assert.Equal(t, `{"matches":[{"timeskew":0}]}`, store.tracks[0].Metadata)

	require.Len(t, store.plays, 1)
	play := store.plays[0]
	assert.Equal(t, uint(1), play.TrackID)
	assert.Equal(t, uint(7), play.StreamID)
	assert.Equal(t, play.RecognizedAtUTC.Unix()/300, play.DedupBucket)
	assert.InDelta(t, 0.9, play.Confidence, 1e-9)
}

func TestProcessWindowSwallowsDuplicatePlay(t *testing.T) {
	store := &fakeStore{playErrs: []error{datastore.ErrDuplicatePlay}}
	match := &stubRecognizer{name: "shazam", result: recognizer.Result{
		ProviderTrackID: "t1", Title: "Song", Artist: "Artist",
	}}
	w := newPipelineWorker(t, store, match)

	w.processWindow(context.Background(), pipelineWindow())
	w.processWindow(context.Background(), pipelineWindow())

	assert.Empty(t, store.plays, "duplicate insert was absorbed")
	assert.Len(t, store.recognitions, 2, "worker keeps running after the duplicate")
}

func TestWorkerStateMachine(t *testing.T) {
	store := &fakeStore{}
	w := newPipelineWorker(t, store, &stubRecognizer{name: "shazam"})

	require.Equal(t, StateIdle, w.State())

	w.transition(StateStarting, "test")
	w.transition(StateRunning, "test")
	assert.Equal(t, StateRunning, w.State())

	// Running cannot go back to Starting.
	w.transition(StateStarting, "invalid")
	assert.Equal(t, StateRunning, w.State())

	w.transition(StateStopping, "test")
	w.transition(StateStopped, "test")
	assert.Equal(t, StateStopped, w.State())

	// Stopped is terminal for this worker instance.
	w.transition(StateRunning, "invalid")
	assert.Equal(t, StateStopped, w.State())
}

// immediateClock fires every timer at once, collapsing the decoder's
// restart backoff to nothing.
type immediateClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *immediateClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *immediateClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func TestWorkerFailsWhenDecoderGivesUp(t *testing.T) {
	store := &fakeStore{}
	settings := testSettings()
	settings.Realtime.Audio.FfmpegPath = "/nonexistent/ffmpeg-for-worker-test"

	gates := recognizer.NewGates(1, 1, nil)
	dispatcher := recognizer.NewDispatcher(nil, gates, nil)
	stream := conf.StreamConfig{Name: "studio", URL: "rtsp://radio.example.com/live", Enabled: true}

	clock := &immediateClock{now: time.Unix(0, 0).UTC()}
	w := newWorker(stream, settings, store, dispatcher, nil, clock)

	require.NoError(t, w.Start(context.Background()))

	// Every spawn fails instantly, so the restart budget burns down and the
	// worker ends up Failed rather than Stopped.
	require.Eventually(t, func() bool { return w.State() == StateFailed },
		5*time.Second, 10*time.Millisecond)

	w.Stop()
	assert.Equal(t, StateFailed, w.State(), "a failed worker stays failed")
}

func TestWorkerStatusSnapshot(t *testing.T) {
	store := &fakeStore{}
	w := newPipelineWorker(t, store, &stubRecognizer{name: "shazam", result: recognizer.Result{ProviderTrackID: "t1"}})

	w.processWindow(context.Background(), pipelineWindow())

	status := w.Status()
	assert.Equal(t, "studio", status.StreamName)
	assert.Equal(t, "idle", status.WorkerState)
	assert.Equal(t, "idle", status.DecoderState)
	assert.Equal(t, 1, status.PendingCandidates)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown(9)", State(9).String())
}
