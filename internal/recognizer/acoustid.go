package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/tracktagger-go/internal/conf"
	"github.com/tphakala/tracktagger-go/internal/errors"
	"github.com/tphakala/tracktagger-go/internal/httpclient"
	"github.com/tphakala/tracktagger-go/internal/logging"
)

const (
	acoustIDProviderName    = "acoustid"
	defaultAcoustIDEndpoint = "https://api.acoustid.org/v2/lookup"
)

// majorMarketCountries is the release-country preference set used when a
// recording carries several releases.
var majorMarketCountries = map[string]bool{
	"US": true, "GB": true, "DE": true, "FR": true, "JP": true,
}

// AcoustIDProvider fingerprints window audio with the Chromaprint fpcalc
// binary and looks the fingerprint up against the AcoustID web service.
type AcoustIDProvider struct {
	apiKey     string
	endpoint   string
	fpcalcPath string
	timeout    time.Duration
	client     *httpclient.Client
	logger     *slog.Logger
}

// NewAcoustID builds the fingerprint provider from settings.
func NewAcoustID(settings *conf.Settings, client *httpclient.Client) *AcoustIDProvider {
	endpoint := settings.Realtime.Recognition.AcoustID.Endpoint
	if endpoint == "" {
		endpoint = defaultAcoustIDEndpoint
	}
	fpcalcPath := settings.Realtime.Audio.FpcalcPath
	if fpcalcPath == "" {
		fpcalcPath = conf.GetFpcalcBinaryName()
	}

	return &AcoustIDProvider{
		apiKey:     settings.Realtime.Recognition.AcoustID.APIKey,
		endpoint:   endpoint,
		fpcalcPath: fpcalcPath,
		timeout:    time.Duration(settings.Realtime.Recognition.Timeout) * time.Second,
		client:     client,
		logger:     logging.ForService("recognizer").With("provider", acoustIDProviderName),
	}
}

func (p *AcoustIDProvider) Name() string { return acoustIDProviderName }

// Recognize fingerprints the payload and queries the lookup endpoint. All
// failures are folded into the Result.
func (p *AcoustIDProvider) Recognize(ctx context.Context, pcm []byte) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	fingerprint, duration, err := p.generateFingerprint(ctx, pcm)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return p.finish(errorResult(acoustIDProviderName,
				fmt.Sprintf("recognition timed out after %s", p.timeout)), start)
		}
		return p.finish(errorResult(acoustIDProviderName,
			fmt.Sprintf("failed to generate audio fingerprint: %v", err)), start)
	}

	resp, raw, err := p.lookup(ctx, fingerprint, duration)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return p.finish(errorResult(acoustIDProviderName,
				fmt.Sprintf("recognition timed out after %s", p.timeout)), start)
		}
		return p.finish(errorResult(acoustIDProviderName,
			fmt.Sprintf("lookup request failed: %v", err)), start)
	}

	result := p.parseResponse(resp)
	result.RawResponse = string(raw)
	return p.finish(result, start)
}

func (p *AcoustIDProvider) finish(r Result, start time.Time) Result {
	r.LatencyMs = time.Since(start).Milliseconds()
	return r
}

// fpcalcOutput is the JSON emitted by fpcalc -json.
type fpcalcOutput struct {
	Duration    float64 `json:"duration"`
	Fingerprint string  `json:"fingerprint"`
}

// generateFingerprint frames the PCM to WAV in a temporary file and runs
// fpcalc on it. The file is removed before returning.
func (p *AcoustIDProvider) generateFingerprint(ctx context.Context, pcm []byte) (fingerprint string, duration float64, err error) {
	wavBytes, err := EncodeWAV(pcm)
	if err != nil {
		return "", 0, err
	}

	tmpFile, err := os.CreateTemp("", "tracktagger-*.wav")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(wavBytes); err != nil {
		tmpFile.Close()
		return "", 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.fpcalcPath, "-json", tmpPath)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", 0, fmt.Errorf("fpcalc failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", 0, fmt.Errorf("fpcalc failed: %w", err)
	}

	var parsed fpcalcOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return "", 0, fmt.Errorf("malformed fpcalc output: %w", err)
	}
	if parsed.Fingerprint == "" {
		return "", 0, fmt.Errorf("fpcalc returned no fingerprint")
	}

	return parsed.Fingerprint, parsed.Duration, nil
}

// acoustIDResponse mirrors the lookup endpoint's reply.
type acoustIDResponse struct {
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Results []acoustIDResult `json:"results"`
}

type acoustIDResult struct {
	ID         string              `json:"id"`
	Score      float64             `json:"score"`
	Recordings []acoustIDRecording `json:"recordings"`
}

type acoustIDRecording struct {
	Title   string `json:"title"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Releases []acoustIDRelease `json:"releases"`
}

type acoustIDRelease struct {
	Title   string          `json:"title"`
	Country string          `json:"country"`
	Date    json.RawMessage `json:"date,omitempty"`
}

func (r *acoustIDRelease) hasDate() bool {
	return len(r.Date) > 0 && string(r.Date) != "null" && string(r.Date) != "{}"
}

// lookup posts the fingerprint to the AcoustID endpoint as a form request
// and returns both the parsed reply and its raw body.
func (p *AcoustIDProvider) lookup(ctx context.Context, fingerprint string, duration float64) (*acoustIDResponse, []byte, error) {
	form := url.Values{
		"client":      {p.apiKey},
		"fingerprint": {fingerprint},
		"duration":    {strconv.Itoa(int(duration))},
		"meta":        {"recordings+releases+artists"},
		"format":      {"json"},
	}

	resp, err := p.client.Post(ctx, p.endpoint,
		"application/x-www-form-urlencoded", form.Encode())
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("lookup endpoint returned HTTP %d", resp.StatusCode)
	}

	var parsed acoustIDResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, fmt.Errorf("malformed response: %w", err)
	}
	return &parsed, body, nil
}

func (p *AcoustIDProvider) parseResponse(resp *acoustIDResponse) Result {
	if resp.Error != nil {
		msg := resp.Error.Message
		if msg == "" {
			msg = "unknown lookup error"
		}
		return errorResult(acoustIDProviderName, msg)
	}
	if resp.Status != "ok" {
		return errorResult(acoustIDProviderName,
			fmt.Sprintf("lookup returned status %q", resp.Status))
	}
	if len(resp.Results) == 0 {
		p.logger.Debug("No fingerprint match found")
		return noMatchResult(acoustIDProviderName)
	}

	// Highest score wins; a tie keeps the earlier entry, preserving the
	// service's own result ordering.
	best := resp.Results[0]
	for _, candidate := range resp.Results[1:] {
		if candidate.Score > best.Score {
			best = candidate
		}
	}

	result := Result{
		Provider:        acoustIDProviderName,
		ProviderTrackID: best.ID,
		Confidence:      best.Score,
		RecognizedAtUTC: time.Now().UTC(),
	}

	if len(best.Recordings) == 0 {
		return result
	}

	// The first recording is usually the canonical one.
	recording := best.Recordings[0]
	result.Title = recording.Title

	names := make([]string, 0, len(recording.Artists))
	for _, artist := range recording.Artists {
		if artist.Name != "" {
			names = append(names, artist.Name)
		}
	}
	result.Artist = strings.Join(names, ", ")

	if len(recording.Releases) > 0 {
		result.Album = selectBestRelease(recording.Releases).Title
	}

	return result
}

// selectBestRelease narrows candidate releases by preferring dated
// releases, then major-market countries, then the first remaining.
func selectBestRelease(releases []acoustIDRelease) acoustIDRelease {
	candidates := releases

	var dated []acoustIDRelease
	for i := range candidates {
		if candidates[i].hasDate() {
			dated = append(dated, candidates[i])
		}
	}
	if len(dated) > 0 {
		candidates = dated
	}

	var major []acoustIDRelease
	for i := range candidates {
		if majorMarketCountries[candidates[i].Country] {
			major = append(major, candidates[i])
		}
	}
	if len(major) > 0 {
		candidates = major
	}

	return candidates[0]
}
