// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
)

// Stream names end up in log lines, metrics labels, and database rows.
var validStreamName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateStreamSettings(settings.Realtime.Streams); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateRTSPSettings(&settings.Realtime.RTSP); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateWindowSettings(&settings.Realtime.Window); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateRecognitionSettings(&settings.Realtime.Recognition); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateConfirmationSettings(&settings.Realtime.Confirmation); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateAudioSettings(&settings.Realtime.Audio); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateOutputSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateStreamSettings validates per-stream name and URL rules
func validateStreamSettings(streams []StreamConfig) error {
	var errs []string

	seen := make(map[string]bool, len(streams))
	for i := range streams {
		stream := &streams[i]

		if !validStreamName.MatchString(stream.Name) {
			errs = append(errs, fmt.Sprintf("stream name %q must match [a-zA-Z0-9_-]{1,50}", stream.Name))
		}
		if seen[stream.Name] {
			errs = append(errs, fmt.Sprintf("duplicate stream name %q", stream.Name))
		}
		seen[stream.Name] = true

		if !strings.HasPrefix(stream.URL, "rtsp://") && !strings.HasPrefix(stream.URL, "rtsps://") {
			errs = append(errs, fmt.Sprintf("stream %q URL must start with rtsp:// or rtsps://", stream.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("stream settings errors: %v", errs)
	}
	return nil
}

// validateRTSPSettings validates the RTSP transport setting
func validateRTSPSettings(settings *RTSPSettings) error {
	switch settings.Transport {
	case "tcp", "udp":
		return nil
	default:
		return fmt.Errorf("RTSP transport must be tcp or udp, got %q", settings.Transport)
	}
}

// validateWindowSettings validates analysis window parameters
func validateWindowSettings(settings *WindowSettings) error {
	var errs []string

	if settings.WindowSeconds < 1 || settings.WindowSeconds > 300 {
		errs = append(errs, "window seconds must be between 1 and 300")
	}

	// Equal values would mean back-to-back windows with no idle gap,
	// which the two-hit confirmation timing is not defined for.
	if settings.HopSeconds <= settings.WindowSeconds {
		errs = append(errs, "hop seconds must be greater than window seconds")
	}

	if len(errs) > 0 {
		return fmt.Errorf("window settings errors: %v", errs)
	}
	return nil
}

// validateRecognitionSettings validates concurrency bounds and provider settings
func validateRecognitionSettings(settings *RecognitionSettings) error {
	var errs []string

	if settings.MaxInFlight < 1 {
		errs = append(errs, "recognition max in-flight must be at least 1")
	}

	if settings.PerProviderInFlight < 1 {
		errs = append(errs, "recognition per-provider in-flight must be at least 1")
	}

	if settings.Timeout < 1 {
		errs = append(errs, "recognition timeout must be at least 1 second")
	}

	if settings.AcoustID.Enabled && settings.AcoustID.APIKey == "" {
		log.Println("Error: AcoustID API key is required when enabled. Disabling AcoustID.")
		settings.AcoustID.Enabled = false
	}

	if len(errs) > 0 {
		return fmt.Errorf("recognition settings errors: %v", errs)
	}
	return nil
}

// validateConfirmationSettings validates two-hit confirmation parameters
func validateConfirmationSettings(settings *ConfirmationSettings) error {
	var errs []string

	if settings.ToleranceHops < 0 || settings.ToleranceHops > 10 {
		errs = append(errs, "confirmation tolerance hops must be between 0 and 10")
	}

	if settings.DedupSeconds < 1 {
		errs = append(errs, "confirmation dedup seconds must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("confirmation settings errors: %v", errs)
	}
	return nil
}

// validateAudioSettings resolves ffmpeg and fpcalc binary paths. Explicitly
// configured paths are kept as-is, empty ones are resolved from PATH.
func validateAudioSettings(settings *AudioSettings) error {
	if settings.FfmpegPath == "" {
		if IsFfmpegAvailable() {
			settings.FfmpegPath = GetFfmpegBinaryName()
		} else {
			log.Println("FFmpeg not found in system PATH")
		}
	}

	if settings.FpcalcPath == "" {
		if IsFpcalcAvailable() {
			settings.FpcalcPath = GetFpcalcBinaryName()
		} else {
			log.Println("fpcalc not found in system PATH")
		}
	}

	return nil
}

// validateOutputSettings ensures exactly one datastore backend is usable
func validateOutputSettings(settings *Settings) error {
	sqlite := settings.Output.SQLite.Enabled
	mysql := settings.Output.MySQL.Enabled

	if !sqlite && !mysql {
		return errors.New("at least one output backend (sqlite or mysql) must be enabled")
	}

	if sqlite && settings.Output.SQLite.Path == "" {
		return errors.New("sqlite output path must not be empty")
	}

	if mysql {
		if settings.Output.MySQL.Host == "" || settings.Output.MySQL.Database == "" {
			return errors.New("mysql output requires host and database")
		}
	}

	return nil
}
