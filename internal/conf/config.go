// config.go: backend configuration settings and loading
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/go-cubeb/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g. CUBEB_LOG_LEVEL.
const EnvPrefix = "CUBEB"

// BackendSettings tunes the audio unit backend.
type BackendSettings struct {
	MinLatencyFrames uint32 `yaml:"minlatencyframes"` // Lower clamp for negotiated latency
	MaxLatencyFrames uint32 `yaml:"maxlatencyframes"` // Upper clamp for negotiated latency

	BufferSizeChange BufferSizeChangeSettings `yaml:"buffersizechange"`
	Aggregate        AggregateSettings        `yaml:"aggregate"`

	QuirksFile string          `yaml:"quirksfile"` // Optional standalone quirk table
	Quirks     []QuirkSettings `yaml:"quirks"`     // Device compatibility fixes

	Hardware string `yaml:"hardware"` // "malgo" or "sim"
}

// BufferSizeChangeSettings controls how long to wait for the hardware to confirm a
// buffer frame size change.
type BufferSizeChangeSettings struct {
	Polls    int           `yaml:"polls"`
	Interval time.Duration `yaml:"interval"`
}

// AggregateSettings controls synthetic duplex device creation.
type AggregateSettings struct {
	Name          string        `yaml:"name"`          // Base name, a timestamp suffix is appended
	UIDPrefix     string        `yaml:"uidprefix"`     // Reverse DNS prefix of the device UID
	CreateTimeout time.Duration `yaml:"createtimeout"` // Wait for the device to show up in the device list
	Enabled       bool          `yaml:"enabled"`       // Disable to always use two separate units
}

// QuirkSettings describes one entry of the device quirk table.
type QuirkSettings struct {
	Name   string `yaml:"name" mapstructure:"name"`
	Input  string `yaml:"input" mapstructure:"input"`   // Substring of the input device name
	Output string `yaml:"output" mapstructure:"output"` // Substring of the output device name
	Action string `yaml:"action" mapstructure:"action"`
}

// LogSettings configures the structured logger.
type LogSettings struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // Empty logs to stdout only
	MaxSizeMB  int    `yaml:"maxsizemb"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAgeDays int    `yaml:"maxagedays"`
	Compress   bool   `yaml:"compress"`
}

// DumpSettings configures the WAV tap of realtime audio.
type DumpSettings struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// MetricsSettings configures prometheus collection.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // Address of the /metrics endpoint
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	Enabled   bool   `yaml:"enabled"`
	SentryDSN string `yaml:"sentrydsn"`
}

// Settings is the root of the configuration tree.
type Settings struct {
	Debug     bool              `yaml:"debug"`
	Backend   BackendSettings   `yaml:"backend"`
	Log       LogSettings       `yaml:"log"`
	Dump      DumpSettings      `yaml:"dump"`
	Metrics   MetricsSettings   `yaml:"metrics"`
	Telemetry TelemetrySettings `yaml:"telemetry"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings
// instance. A missing config file is not an error, defaults apply.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, err
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("stage", "unmarshal").
			Build()
	}

	if settings.Backend.QuirksFile != "" {
		quirks, err := LoadQuirks(settings.Backend.QuirksFile)
		if err != nil {
			return nil, err
		}
		settings.Backend.Quirks = append(settings.Backend.Quirks, quirks...)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper registers defaults, config paths and environment bindings, then reads
// the config file if one exists.
func initViper() error {
	if viper.ConfigFileUsed() == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	setDefaultConfig()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := bindEnvVars(); err != nil {
		// Invalid overrides are reported but do not stop the backend
		fmt.Fprintln(os.Stderr, err)
	}

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return nil
		}
		return errors.Newf("read config file: %w", err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("file", viper.ConfigFileUsed()).
			Build()
	}

	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "go-cubeb"))
	}
	return paths
}

// GetSettings returns the most recently loaded settings, or nil before Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Default returns the settings used when no config file or overrides exist.
func Default() *Settings {
	return &Settings{
		Backend: BackendSettings{
			MinLatencyFrames: DefaultMinLatencyFrames,
			MaxLatencyFrames: DefaultMaxLatencyFrames,
			BufferSizeChange: BufferSizeChangeSettings{
				Polls:    DefaultBufferSizeChangePolls,
				Interval: DefaultBufferSizeChangeInterval,
			},
			Aggregate: AggregateSettings{
				Name:          DefaultAggregateName,
				UIDPrefix:     DefaultAggregateUIDPrefix,
				CreateTimeout: DefaultAggregateCreateTimeout,
				Enabled:       true,
			},
			Quirks:   DefaultQuirks(),
			Hardware: HardwareMalgo,
		},
		Log:     LogSettings{Level: "info"},
		Metrics: MetricsSettings{Listen: "localhost:9464"},
	}
}
