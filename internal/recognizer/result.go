// Package recognizer holds the music recognition providers and the parallel
// dispatcher that fans audio windows out to them.
package recognizer

import "time"

// Result is the outcome of one recognition attempt. A populated
// ErrorMessage marks a failed attempt; an empty ProviderTrackID together
// with an empty ErrorMessage marks a clean no-match.
type Result struct {
	Provider        string
	ProviderTrackID string
	Title           string
	Artist          string
	Album           string
	ISRC            string
	ArtworkURL      string

	// Confidence is the provider's match quality in [0,1], 0 when unknown.
	Confidence float64

	RecognizedAtUTC time.Time
	LatencyMs       int64

	// RawResponse is the provider's reply body verbatim, kept for the
	// diagnostic trail and the track's metadata column. Empty when the
	// request never produced a body.
	RawResponse string

	ErrorMessage string
}

// IsMatch reports a successful identification.
func (r *Result) IsMatch() bool {
	return r.ErrorMessage == "" && r.ProviderTrackID != ""
}

// IsNoMatch reports that the provider answered but found nothing.
func (r *Result) IsNoMatch() bool {
	return r.ErrorMessage == "" && r.ProviderTrackID == ""
}

// IsError reports a failed attempt.
func (r *Result) IsError() bool {
	return r.ErrorMessage != ""
}

// Status returns the diagnostic status label for this result.
func (r *Result) Status() string {
	switch {
	case r.IsError():
		return "error"
	case r.IsMatch():
		return "match"
	default:
		return "no_match"
	}
}

func errorResult(provider, message string) Result {
	return Result{
		Provider:        provider,
		RecognizedAtUTC: time.Now().UTC(),
		ErrorMessage:    message,
	}
}

func noMatchResult(provider string) Result {
	return Result{
		Provider:        provider,
		RecognizedAtUTC: time.Now().UTC(),
	}
}
