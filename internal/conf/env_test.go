package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvValidators(t *testing.T) {
	tests := []struct {
		name     string
		validate func(string) error
		value    string
		valid    bool
	}{
		{"bool", validateEnvBool, "true", true},
		{"bool garbage", validateEnvBool, "yes please", false},
		{"frames", validateEnvFrames, "256", true},
		{"zero frames", validateEnvFrames, "0", false},
		{"duration", validateEnvDuration, "100ms", true},
		{"negative duration", validateEnvDuration, "-1s", false},
		{"hardware", validateEnvHardware, "sim", true},
		{"unknown hardware", validateEnvHardware, "jack", false},
		{"log level", validateEnvLogLevel, "TRACE", true},
		{"polls", validateEnvPositiveInt, "-3", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validate(tt.value)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadQuirksRejectsUnknownAction(t *testing.T) {
	path := t.TempDir() + "/quirks.yaml"
	err := SaveQuirks(path, []QuirkSettings{{Name: "bad", Input: "X", Action: "explode"}})
	assert.NoError(t, err)

	_, err = LoadQuirks(path)
	assert.ErrorContains(t, err, "unknown action")
}
