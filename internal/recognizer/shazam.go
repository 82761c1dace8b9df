package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/tphakala/tracktagger-go/internal/conf"
	"github.com/tphakala/tracktagger-go/internal/httpclient"
	"github.com/tphakala/tracktagger-go/internal/logging"
)

const shazamProviderName = "shazam"

// maxProviderResponseSize bounds how much of a provider response is read.
const maxProviderResponseSize = 4 << 20

// ShazamProvider submits window audio to a Shazam-style signal matching
// service and derives a confidence estimate from the reported skews.
type ShazamProvider struct {
	endpoint string
	timeout  time.Duration
	client   *httpclient.Client
	logger   *slog.Logger
}

// NewShazam builds the signal matching provider from settings. The endpoint
// must be configured; there is no public default.
func NewShazam(settings *conf.Settings, client *httpclient.Client) *ShazamProvider {
	return &ShazamProvider{
		endpoint: settings.Realtime.Recognition.Shazam.Endpoint,
		timeout:  time.Duration(settings.Realtime.Recognition.Timeout) * time.Second,
		client:   client,
		logger:   logging.ForService("recognizer").With("provider", shazamProviderName),
	}
}

func (p *ShazamProvider) Name() string { return shazamProviderName }

// shazamResponse mirrors the subset of the matching service's reply the
// pipeline depends on.
type shazamResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Matches []shazamMatch `json:"matches"`
	Track   *shazamTrack  `json:"track"`
}

type shazamMatch struct {
	TimeSkew      float64 `json:"timeskew"`
	FrequencySkew float64 `json:"frequencyskew"`
}

type shazamTrack struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	ISRC     string `json:"isrc"`
	Sections []struct {
		Type     string `json:"type"`
		Metadata []struct {
			Title string `json:"title"`
			Text  string `json:"text"`
		} `json:"metadata"`
	} `json:"sections"`
	Images struct {
		CoverArt   string `json:"coverart"`
		Background string `json:"background"`
	} `json:"images"`
}

// Recognize frames the PCM to WAV, posts it to the matching endpoint and
// parses the reply. All failures are folded into the Result.
func (p *ShazamProvider) Recognize(ctx context.Context, pcm []byte) Result {
	start := time.Now()

	wavBytes, err := EncodeWAV(pcm)
	if err != nil {
		return p.finish(errorResult(shazamProviderName,
			fmt.Sprintf("failed to frame audio: %v", err)), start)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Post(ctx, p.endpoint, "audio/wav", wavBytes)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return p.finish(errorResult(shazamProviderName,
				fmt.Sprintf("recognition timed out after %s", p.timeout)), start)
		}
		return p.finish(errorResult(shazamProviderName,
			fmt.Sprintf("request failed: %v", err)), start)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return p.finish(errorResult(shazamProviderName,
			fmt.Sprintf("failed to read response: %v", err)), start)
	}
	if resp.StatusCode != http.StatusOK {
		return p.finish(errorResult(shazamProviderName,
			fmt.Sprintf("matching service returned HTTP %d", resp.StatusCode)), start)
	}

	var parsed shazamResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return p.finish(errorResult(shazamProviderName,
			fmt.Sprintf("malformed response: %v", err)), start)
	}

	result := p.parseResponse(&parsed)
	result.RawResponse = string(body)
	return p.finish(result, start)
}

func (p *ShazamProvider) finish(r Result, start time.Time) Result {
	r.LatencyMs = time.Since(start).Milliseconds()
	return r
}

func (p *ShazamProvider) parseResponse(resp *shazamResponse) Result {
	if resp.Error != nil {
		msg := resp.Error.Message
		if msg == "" {
			msg = "unknown matching service error"
		}
		return errorResult(shazamProviderName, msg)
	}

	if len(resp.Matches) == 0 || resp.Track == nil {
		p.logger.Debug("No match from signal matching service")
		return noMatchResult(shazamProviderName)
	}

	track := resp.Track
	result := Result{
		Provider:        shazamProviderName,
		ProviderTrackID: track.Key,
		Title:           track.Title,
		Artist:          track.Subtitle,
		ISRC:            track.ISRC,
		Confidence:      skewConfidence(resp.Matches[0]),
		RecognizedAtUTC: time.Now().UTC(),
	}

	for _, section := range track.Sections {
		if section.Type != "SONG" {
			continue
		}
		for _, meta := range section.Metadata {
			if meta.Title == "Album" {
				result.Album = meta.Text
				break
			}
		}
		break
	}

	if track.Images.CoverArt != "" {
		result.ArtworkURL = track.Images.CoverArt
	} else {
		result.ArtworkURL = track.Images.Background
	}

	return result
}

// skewConfidence estimates match quality from the reported time and
// frequency skew. The service gives no explicit confidence; lower skew
// means a cleaner signature alignment.
func skewConfidence(m shazamMatch) float64 {
	timeSkew := math.Abs(m.TimeSkew)
	freqSkew := math.Abs(m.FrequencySkew)

	confidence := 1.0

	switch {
	case timeSkew > 1e-3:
		confidence *= 0.6
	case timeSkew > 1e-4:
		confidence *= 0.8
	}

	switch {
	case freqSkew > 1e-4:
		confidence *= 0.7
	case freqSkew > 1e-5:
		confidence *= 0.9
	}

	return math.Max(0, math.Min(1, confidence))
}
