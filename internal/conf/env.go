// env.go: environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "CUBEB_DEBUG", validateEnvBool},

		// Backend
		{"backend.minlatencyframes", "CUBEB_BACKEND_MINLATENCYFRAMES", validateEnvFrames},
		{"backend.maxlatencyframes", "CUBEB_BACKEND_MAXLATENCYFRAMES", validateEnvFrames},
		{"backend.buffersizechange.polls", "CUBEB_BACKEND_BUFFERSIZECHANGE_POLLS", validateEnvPositiveInt},
		{"backend.buffersizechange.interval", "CUBEB_BACKEND_BUFFERSIZECHANGE_INTERVAL", validateEnvDuration},
		{"backend.aggregate.enabled", "CUBEB_BACKEND_AGGREGATE_ENABLED", validateEnvBool},
		{"backend.aggregate.createtimeout", "CUBEB_BACKEND_AGGREGATE_CREATETIMEOUT", validateEnvDuration},
		{"backend.quirksfile", "CUBEB_BACKEND_QUIRKSFILE", nil},
		{"backend.hardware", "CUBEB_BACKEND_HARDWARE", validateEnvHardware},

		// Logging
		{"log.level", "CUBEB_LOG_LEVEL", validateEnvLogLevel},
		{"log.file", "CUBEB_LOG_FILE", nil},

		{"dump.enabled", "CUBEB_DUMP_ENABLED", validateEnvBool},
		{"dump.dir", "CUBEB_DUMP_DIR", nil},
		{"metrics.enabled", "CUBEB_METRICS_ENABLED", validateEnvBool},
		{"metrics.listen", "CUBEB_METRICS_LISTEN", nil},
		{"telemetry.sentrydsn", "CUBEB_TELEMETRY_SENTRYDSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvFrames(value string) error {
	frames, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fmt.Errorf("must be a frame count")
	}
	if frames == 0 || frames > 96000 {
		return fmt.Errorf("must be between 1 and 96000 frames")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 100ms")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvHardware(value string) error {
	switch value {
	case HardwareMalgo, HardwareSim:
		return nil
	}
	return fmt.Errorf("must be %q or %q", HardwareMalgo, HardwareSim)
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "error", "fatal":
		return nil
	}
	return fmt.Errorf("unknown log level")
}
