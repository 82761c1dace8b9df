package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/tracktagger-go/internal/conf"
)

func TestNewManagerRequiresProviders(t *testing.T) {
	settings := testSettings()
	// Neither a matching endpoint nor AcoustID configured.
	_, err := NewManager(settings, &fakeStore{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recognition providers enabled")
}

func TestNewManagerBuildsEnabledProviders(t *testing.T) {
	settings := testSettings()
	settings.Realtime.Recognition.Shazam.Endpoint = "https://matcher.example.com/v1/recognize"
	settings.Realtime.Recognition.AcoustID.Enabled = true
	settings.Realtime.Recognition.AcoustID.APIKey = "key"

	m, err := NewManager(settings, &fakeStore{}, nil)
	require.NoError(t, err)
	defer m.StopAll()

	assert.Equal(t, []string{"shazam", "acoustid"}, m.dispatcher.Providers())
	assert.Empty(t, m.ActiveWorkers())
	assert.Empty(t, m.StatusAll())
}

func TestStartAllRejectsEmptyStreamList(t *testing.T) {
	settings := testSettings()
	settings.Realtime.Recognition.Shazam.Endpoint = "https://matcher.example.com/v1/recognize"
	settings.Realtime.Streams = []conf.StreamConfig{
		{Name: "disabled", URL: "rtsp://radio.example.com/live", Enabled: false},
	}

	m, err := NewManager(settings, &fakeStore{}, nil)
	require.NoError(t, err)
	defer m.StopAll()

	err = m.StartAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled streams")
}

func TestStopAllIsIdempotentOnEmptyFleet(t *testing.T) {
	settings := testSettings()
	settings.Realtime.Recognition.Shazam.Endpoint = "https://matcher.example.com/v1/recognize"

	m, err := NewManager(settings, &fakeStore{}, nil)
	require.NoError(t, err)

	m.StopAll()
	m.StopAll()
	assert.Empty(t, m.ActiveWorkers())
}
