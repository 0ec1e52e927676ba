// defaults.go: default configuration values
package conf

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultMinLatencyFrames         = 256
	DefaultMaxLatencyFrames         = 512
	DefaultBufferSizeChangePolls    = 30
	DefaultBufferSizeChangeInterval = 100 * time.Millisecond
	DefaultAggregateName            = "CubebAggregateDevice"
	DefaultAggregateUIDPrefix       = "org.mozilla.cubeb"
	DefaultAggregateCreateTimeout   = 5 * time.Second
)

// Hardware layer names accepted by backend.hardware.
const (
	HardwareMalgo = "malgo"
	HardwareSim   = "sim"
)

// QuirkForceInputRate sets the aggregate nominal rate to the input device rate.
const QuirkForceInputRate = "force-input-rate"

// DefaultQuirks returns the built-in device quirk table.
func DefaultQuirks() []QuirkSettings {
	return []QuirkSettings{
		{Name: "airpods", Input: "AirPods", Output: "AirPods", Action: QuirkForceInputRate},
	}
}

// setDefaultConfig sets default values for each configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Backend configuration
	viper.SetDefault("backend.minlatencyframes", DefaultMinLatencyFrames)
	viper.SetDefault("backend.maxlatencyframes", DefaultMaxLatencyFrames)
	viper.SetDefault("backend.buffersizechange.polls", DefaultBufferSizeChangePolls)
	viper.SetDefault("backend.buffersizechange.interval", DefaultBufferSizeChangeInterval)
	viper.SetDefault("backend.aggregate.enabled", true)
	viper.SetDefault("backend.aggregate.name", DefaultAggregateName)
	viper.SetDefault("backend.aggregate.uidprefix", DefaultAggregateUIDPrefix)
	viper.SetDefault("backend.aggregate.createtimeout", DefaultAggregateCreateTimeout)
	viper.SetDefault("backend.quirksfile", "")
	viper.SetDefault("backend.quirks", []map[string]string{
		{"name": "airpods", "input": "AirPods", "output": "AirPods", "action": QuirkForceInputRate},
	})
	viper.SetDefault("backend.hardware", HardwareMalgo)

	// Logging configuration
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.maxsizemb", 100)
	viper.SetDefault("log.maxbackups", 3)
	viper.SetDefault("log.maxagedays", 28)
	viper.SetDefault("log.compress", false)

	// Debug audio dump
	viper.SetDefault("dump.enabled", false)
	viper.SetDefault("dump.dir", "dump")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "localhost:9464")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.sentrydsn", "")
}
