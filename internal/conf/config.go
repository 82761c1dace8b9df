// config.go: settings struct and functions to load and save the application configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// StreamConfig identifies a single RTSP source to monitor.
type StreamConfig struct {
	Name    string // stream identifier, [A-Za-z0-9_-]{1,50}
	URL     string // rtsp:// or rtsps:// source URL
	Enabled bool   // true to start a worker for this stream
}

// RTSPSettings contains transport settings shared by all streams.
type RTSPSettings struct {
	Transport string // RTSP transport protocol: tcp or udp
}

// AudioSettings contains decoder settings.
type AudioSettings struct {
	FfmpegPath string // path to ffmpeg, runtime value resolved at validation
	FpcalcPath string // path to Chromaprint fpcalc, runtime value
}

// WindowSettings controls how decoded audio is sliced for recognition.
type WindowSettings struct {
	WindowSeconds int // length of each analysis window
	HopSeconds    int // spacing between window starts, must exceed WindowSeconds
}

// ShazamSettings configures the signal-matching provider.
type ShazamSettings struct {
	Endpoint string // override for the recognition endpoint, empty for default
}

// AcoustIDSettings configures the fingerprint lookup provider.
type AcoustIDSettings struct {
	Enabled  bool   // true to enable AcoustID lookups
	APIKey   string // AcoustID application API key
	Endpoint string // override for the lookup endpoint, empty for default
}

// RecognitionSettings bounds concurrent provider calls and configures providers.
type RecognitionSettings struct {
	MaxInFlight         int              // total concurrent recognition calls across all streams
	PerProviderInFlight int              // concurrent calls per provider
	Timeout             int              // per-call timeout in seconds
	Shazam              ShazamSettings   // signal-matching provider settings
	AcoustID            AcoustIDSettings // fingerprint provider settings
}

// ConfirmationSettings controls two-hit play confirmation and deduplication.
type ConfirmationSettings struct {
	ToleranceHops int // how many hops a second hit may lag the first
	DedupSeconds  int // play dedup bucket width in seconds
}

// TelemetrySettings contains settings for the metrics endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to enable Prometheus compatible telemetry endpoint
	Listen  string // IP address and port to listen on
}

// RealtimeSettings contains all settings related to realtime processing.
type RealtimeSettings struct {
	Streams      []StreamConfig       // RTSP streams to monitor
	RTSP         RTSPSettings         // RTSP transport settings
	Audio        AudioSettings        // decoder settings
	Window       WindowSettings       // analysis window settings
	Recognition  RecognitionSettings  // provider and concurrency settings
	Confirmation ConfirmationSettings // two-hit confirmation settings
	Telemetry    TelemetrySettings    // telemetry settings
}

// RetentionSettings controls periodic cleanup of persisted rows.
type RetentionSettings struct {
	PlaysDays        int // delete plays older than this many days, -1 keeps forever
	RecognitionsDays int // delete recognition diagnostics older than this many days, -1 keeps forever
}

// Settings contains all configuration options for the application.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"` // Version from build
	BuildDate string `yaml:"-"` // Build date from build

	Main struct {
		Name string    // name of this node, identifies the source of plays
		Log  LogConfig // logging configuration
	}

	Realtime RealtimeSettings // Realtime processing settings

	Output struct {
		SQLite struct {
			Enabled bool   // true to enable sqlite output
			Path    string // path to sqlite database
		}

		MySQL struct {
			Enabled  bool   // true to enable mysql output
			Username string // username for mysql database
			Password string // password for mysql database
			Database string // database name for mysql database
			Host     string // host for mysql database
			Port     string // port for mysql database
		}
	}

	Retention RetentionSettings // persisted row retention settings
}

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled     bool         // true to enable this log
	Path        string       // Path to the log file
	Rotation    RotationType // Type of log rotation
	MaxSize     int64        // Max size in bytes for RotationSize
	RotationDay string       // Day of the week for RotationWeekly
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first default config path.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveSettings saves the current settings to the configuration file.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	settingsCopy := *settingsInstance

	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	log.Printf("Settings saved successfully to %s", configPath)
	return nil
}

// SaveYAMLConfig updates the YAML configuration file with new settings.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write through a temp file in the same directory for an atomic replace
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// Rename can fail across filesystems, fall back to copy & delete
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}

// EnabledStreams returns the streams with Enabled set, in config order.
func (s *Settings) EnabledStreams() []StreamConfig {
	enabled := make([]StreamConfig, 0, len(s.Realtime.Streams))
	for _, stream := range s.Realtime.Streams {
		if stream.Enabled {
			enabled = append(enabled, stream)
		}
	}
	return enabled
}
