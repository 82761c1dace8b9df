package recognizer

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAVRoundTrip(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768, 42}
	pcm := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(s))
	}

	encoded, err := EncodeWAV(pcm)
	require.NoError(t, err)

	dec := wav.NewDecoder(bytes.NewReader(encoded))
	require.True(t, dec.IsValidFile(), "encoder must produce a valid RIFF file")

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, SampleRate, buf.Format.SampleRate)
	assert.Equal(t, NumChannels, buf.Format.NumChannels)
	require.Len(t, buf.Data, len(samples))
	for i, s := range samples {
		assert.Equal(t, int(s), buf.Data[i], "sample %d", i)
	}
}

func TestEncodeWAVEmptyPayload(t *testing.T) {
	_, err := EncodeWAV(nil)
	assert.Error(t, err)
}

func TestPCMDuration(t *testing.T) {
	// One second of mono 16-bit audio at 44.1 kHz.
	oneSecond := make([]byte, SampleRate*2)
	assert.InDelta(t, 1.0, PCMDuration(oneSecond), 1e-9)
	assert.InDelta(t, 0.5, PCMDuration(oneSecond[:len(oneSecond)/2]), 1e-9)
}

func TestResultStatus(t *testing.T) {
	match := Result{ProviderTrackID: "t1"}
	noMatch := Result{}
	failed := Result{ErrorMessage: "boom"}

	assert.Equal(t, "match", match.Status())
	assert.Equal(t, "no_match", noMatch.Status())
	assert.Equal(t, "error", failed.Status())

	assert.True(t, match.IsMatch())
	assert.True(t, noMatch.IsNoMatch())
	assert.True(t, failed.IsError())
	// Errors with a track id are still errors.
	withID := Result{ProviderTrackID: "t1", ErrorMessage: "late failure"}
	assert.False(t, withID.IsMatch())
	assert.True(t, withID.IsError())
}
