package recognizer

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Audio format constants matching the decoder's ffmpeg output.
const (
	SampleRate  = 44100
	BitDepth    = 16
	NumChannels = 1
)

// writeSeekBuffer is an in-memory io.WriteSeeker. The WAV encoder seeks
// back to patch the RIFF header sizes after writing the samples.
type writeSeekBuffer struct {
	data []byte
	pos  int64
}

func (b *writeSeekBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

func (b *writeSeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = b.pos + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative seek position %d", pos)
	}
	b.pos = pos
	return pos, nil
}

// EncodeWAV frames raw signed 16-bit little-endian mono PCM into a RIFF/WAV
// container suitable for fingerprinting or upload.
func EncodeWAV(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty PCM payload")
	}

	buf := &writeSeekBuffer{}
	enc := wav.NewEncoder(buf, SampleRate, BitDepth, NumChannels, 1)

	intBuf := &audio.IntBuffer{
		Data:   pcmToSamples(pcm),
		Format: &audio.Format{SampleRate: SampleRate, NumChannels: NumChannels},
	}
	if err := enc.Write(intBuf); err != nil {
		return nil, fmt.Errorf("failed to write WAV samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV container: %w", err)
	}

	return buf.data, nil
}

// PCMDuration returns the temporal length of a raw PCM payload.
func PCMDuration(pcm []byte) float64 {
	bytesPerSecond := SampleRate * NumChannels * (BitDepth / 8)
	return float64(len(pcm)) / float64(bytesPerSecond)
}

// pcmToSamples converts little-endian 16-bit PCM bytes to integer samples.
// A trailing odd byte is dropped.
func pcmToSamples(pcm []byte) []int {
	samples := make([]int, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		samples = append(samples, int(int16(binary.LittleEndian.Uint16(pcm[i:i+2]))))
	}
	return samples
}
