// Package watch logs device collection and default device changes.
package watch

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-cubeb/internal/app"
	"github.com/tphakala/go-cubeb/internal/coreaudio"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/logging"
)

// Command creates the watch command.
func Command(open app.Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Log device changes until interrupted",
		Long:  "List the audio devices, then log every device list and default device change.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			return s.Run(cmd.Context(), func(ctx context.Context) error {
				return run(ctx, s)
			})
		},
	}
}

// LogDevices logs every enumerated device of devType.
func LogDevices(ctx *coreaudio.Context, devType coreaudio.DeviceType, logger *slog.Logger) error {
	devices, err := ctx.EnumerateDevices(devType)
	if err != nil {
		return err
	}
	for i := range devices {
		d := &devices[i]
		logger.Info("device",
			"type", d.Type.String(),
			"uid", d.DeviceID,
			"name", d.FriendlyName,
			"vendor", d.VendorName,
			"channels", d.MaxChannels,
			"rate", d.DefaultRate,
			"latency_lo", d.LatencyLo,
			"latency_hi", d.LatencyHi,
			"default", d.Preferred != coreaudio.DevicePrefNone)
	}
	return nil
}

func run(ctx context.Context, s *app.Session) error {
	// Device listings are for people; keep the JSON stream for the backend.
	logger := s.Logger
	if console := logging.Console(); console != nil {
		logger = console
	}
	all := coreaudio.DeviceTypeInput | coreaudio.DeviceTypeOutput
	if err := LogDevices(s.Context, all, logger); err != nil {
		return err
	}

	for _, devType := range []coreaudio.DeviceType{coreaudio.DeviceTypeInput, coreaudio.DeviceTypeOutput} {
		if err := s.Context.RegisterDeviceCollectionChanged(devType, func(c *coreaudio.Context) {
			logger.Info("device collection changed", "type", devType.String())
			if err := LogDevices(c, devType, logger); err != nil {
				logger.Warn("failed to enumerate devices", "error", err)
			}
		}); err != nil {
			return err
		}
	}
	defer func() {
		for _, devType := range []coreaudio.DeviceType{coreaudio.DeviceTypeInput, coreaudio.DeviceTypeOutput} {
			_ = s.Context.RegisterDeviceCollectionChanged(devType, nil)
		}
	}()

	tokens := make([]hal.ListenerToken, 0, 2)
	for _, sel := range []hal.Selector{hal.PropertyDefaultInputDevice, hal.PropertyDefaultOutputDevice} {
		token, err := s.Hardware.AddListener(hal.SystemObject,
			hal.Address{Selector: sel, Scope: hal.ScopeGlobal},
			func(_ hal.ObjectID, addrs []hal.Address) {
				for _, addr := range addrs {
					scope := hal.ScopeOutput
					if addr.Selector == hal.PropertyDefaultInputDevice {
						scope = hal.ScopeInput
					}
					id, _ := s.Hardware.DefaultDevice(scope)
					name, _ := s.Hardware.DeviceName(id)
					logger.Info("default device changed", "scope", scope.String(), "device", name)
				}
			})
		if err != nil {
			return err
		}
		tokens = append(tokens, token)
	}
	defer func() {
		for _, token := range tokens {
			_ = s.Hardware.RemoveListener(token)
		}
	}()

	logger.Info("watching devices, interrupt to stop")
	<-ctx.Done()
	return nil
}
