// validate.go: settings validation
package conf

import (
	"strings"

	"github.com/tphakala/go-cubeb/internal/errors"
)

// ValidationError collects every problem found in a Settings value.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return "validation errors: " + strings.Join(ve.Errors, "; ")
}

// ValidateSettings checks the loaded settings for values the backend can not use.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	b := settings.Backend
	if b.MinLatencyFrames == 0 {
		ve.Errors = append(ve.Errors, "backend.minlatencyframes must be positive")
	}
	if b.MaxLatencyFrames < b.MinLatencyFrames {
		ve.Errors = append(ve.Errors, "backend.maxlatencyframes must not be below backend.minlatencyframes")
	}
	if b.BufferSizeChange.Polls <= 0 {
		ve.Errors = append(ve.Errors, "backend.buffersizechange.polls must be positive")
	}
	if b.BufferSizeChange.Interval <= 0 {
		ve.Errors = append(ve.Errors, "backend.buffersizechange.interval must be positive")
	}
	if b.Aggregate.Enabled && b.Aggregate.Name == "" {
		ve.Errors = append(ve.Errors, "backend.aggregate.name must not be empty")
	}
	if b.Hardware != HardwareMalgo && b.Hardware != HardwareSim {
		ve.Errors = append(ve.Errors, "backend.hardware must be malgo or sim")
	}
	for _, q := range b.Quirks {
		if err := validateQuirk(q); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if settings.Dump.Enabled && settings.Dump.Dir == "" {
		ve.Errors = append(ve.Errors, "dump.dir must be set when dump is enabled")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}
