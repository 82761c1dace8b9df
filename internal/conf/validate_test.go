package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestSettings() *Settings {
	s := &Settings{}
	s.Realtime.Streams = []StreamConfig{
		{Name: "studio", URL: "rtsp://radio.example.com/live", Enabled: true},
	}
	s.Realtime.RTSP.Transport = "tcp"
	s.Realtime.Window.WindowSeconds = 12
	s.Realtime.Window.HopSeconds = 120
	s.Realtime.Recognition.MaxInFlight = 3
	s.Realtime.Recognition.PerProviderInFlight = 3
	s.Realtime.Recognition.Timeout = 30
	s.Realtime.Confirmation.ToleranceHops = 1
	s.Realtime.Confirmation.DedupSeconds = 300
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = "test.db"
	return s
}

func TestValidateSettingsAccepts(t *testing.T) {
	require.NoError(t, ValidateSettings(validTestSettings()))
}

func TestValidateSettingsRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{
			"hop must exceed window",
			func(s *Settings) { s.Realtime.Window.HopSeconds = 12 },
			"hop seconds must be greater than window seconds",
		},
		{
			"bad stream name",
			func(s *Settings) { s.Realtime.Streams[0].Name = "no spaces allowed" },
			"must match",
		},
		{
			"duplicate stream name",
			func(s *Settings) {
				s.Realtime.Streams = append(s.Realtime.Streams, s.Realtime.Streams[0])
			},
			"duplicate stream name",
		},
		{
			"non-rtsp url",
			func(s *Settings) { s.Realtime.Streams[0].URL = "http://radio.example.com/live" },
			"must start with rtsp://",
		},
		{
			"bad transport",
			func(s *Settings) { s.Realtime.RTSP.Transport = "quic" },
			"transport must be tcp or udp",
		},
		{
			"zero in-flight",
			func(s *Settings) { s.Realtime.Recognition.MaxInFlight = 0 },
			"max in-flight must be at least 1",
		},
		{
			"negative tolerance",
			func(s *Settings) { s.Realtime.Confirmation.ToleranceHops = -1 },
			"tolerance hops must be between 0 and 10",
		},
		{
			"no output backend",
			func(s *Settings) { s.Output.SQLite.Enabled = false },
			"at least one output backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validTestSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnabledStreams(t *testing.T) {
	s := validTestSettings()
	s.Realtime.Streams = append(s.Realtime.Streams,
		StreamConfig{Name: "lounge", URL: "rtsp://radio.example.com/b", Enabled: false})

	enabled := s.EnabledStreams()
	require.Len(t, enabled, 1)
	assert.Equal(t, "studio", enabled[0].Name)
}

func TestAcoustIDDisabledWithoutKey(t *testing.T) {
	s := validTestSettings()
	s.Realtime.Recognition.AcoustID.Enabled = true
	s.Realtime.Recognition.AcoustID.APIKey = ""

	require.NoError(t, ValidateSettings(s))
	assert.False(t, s.Realtime.Recognition.AcoustID.Enabled,
		"enabled without an API key falls back to disabled")
}
