package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-cubeb/internal/errors"
)

// useConfigFile points viper at a temporary config file and resets it afterwards.
func useConfigFile(t *testing.T, content string) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	viper.SetConfigFile(path)
	return path
}

func TestLoadDefaults(t *testing.T) {
	useConfigFile(t, "debug: false\n")

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint32(DefaultMinLatencyFrames), settings.Backend.MinLatencyFrames)
	assert.Equal(t, uint32(DefaultMaxLatencyFrames), settings.Backend.MaxLatencyFrames)
	assert.Equal(t, DefaultBufferSizeChangePolls, settings.Backend.BufferSizeChange.Polls)
	assert.Equal(t, DefaultBufferSizeChangeInterval, settings.Backend.BufferSizeChange.Interval)
	assert.Equal(t, DefaultAggregateName, settings.Backend.Aggregate.Name)
	assert.True(t, settings.Backend.Aggregate.Enabled)
	assert.Equal(t, HardwareMalgo, settings.Backend.Hardware)
	require.Len(t, settings.Backend.Quirks, 1)
	assert.Equal(t, QuirkForceInputRate, settings.Backend.Quirks[0].Action)
	assert.Same(t, settings, GetSettings())
}

func TestLoadFromFile(t *testing.T) {
	useConfigFile(t, `
backend:
  minlatencyframes: 128
  maxlatencyframes: 1024
  buffersizechange:
    polls: 5
    interval: 20ms
  hardware: sim
log:
  level: debug
`)

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint32(128), settings.Backend.MinLatencyFrames)
	assert.Equal(t, uint32(1024), settings.Backend.MaxLatencyFrames)
	assert.Equal(t, 5, settings.Backend.BufferSizeChange.Polls)
	assert.Equal(t, 20*time.Millisecond, settings.Backend.BufferSizeChange.Interval)
	assert.Equal(t, HardwareSim, settings.Backend.Hardware)
	assert.Equal(t, "debug", settings.Log.Level)
}

func TestEnvironmentOverride(t *testing.T) {
	useConfigFile(t, "log:\n  level: info\n")
	t.Setenv("CUBEB_LOG_LEVEL", "trace")
	t.Setenv("CUBEB_BACKEND_BUFFERSIZECHANGE_POLLS", "3")

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "trace", settings.Log.Level)
	assert.Equal(t, 3, settings.Backend.BufferSizeChange.Polls)
}

func TestLoadRejectsInvertedLatencyBounds(t *testing.T) {
	useConfigFile(t, `
backend:
  minlatencyframes: 512
  maxlatencyframes: 256
`)

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Contains(t, err.Error(), "maxlatencyframes")
}

func TestLoadAppendsQuirkFile(t *testing.T) {
	quirkPath := filepath.Join(t.TempDir(), "quirks.yaml")
	require.NoError(t, SaveQuirks(quirkPath, []QuirkSettings{
		{Name: "headset", Input: "Headset", Output: "Headset", Action: QuirkForceInputRate},
	}))
	useConfigFile(t, "backend:\n  quirksfile: "+quirkPath+"\n")

	settings, err := Load()
	require.NoError(t, err)

	require.Len(t, settings.Backend.Quirks, 2)
	assert.Equal(t, "headset", settings.Backend.Quirks[1].Name)
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"defaults are valid", func(*Settings) {}, ""},
		{"zero polls", func(s *Settings) { s.Backend.BufferSizeChange.Polls = 0 }, "polls"},
		{"zero interval", func(s *Settings) { s.Backend.BufferSizeChange.Interval = 0 }, "interval"},
		{"unknown hardware", func(s *Settings) { s.Backend.Hardware = "alsa" }, "backend.hardware"},
		{"dump without dir", func(s *Settings) { s.Dump.Enabled = true }, "dump.dir"},
		{"quirk without action", func(s *Settings) {
			s.Backend.Quirks = []QuirkSettings{{Name: "x", Input: "X"}}
		}, "no action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := Default()
			tt.mutate(settings)
			err := ValidateSettings(settings)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
