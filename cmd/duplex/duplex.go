// Package duplex passes captured audio straight to an output device.
package duplex

import (
	"context"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-cubeb/internal/app"
	"github.com/tphakala/go-cubeb/internal/coreaudio"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
	"github.com/tphakala/go-cubeb/internal/errors"
)

type options struct {
	duration time.Duration
	rate     uint32
	latency  uint32
	input    string
	output   string
	gain     float64
}

// Command creates the duplex command.
func Command(open app.Opener) *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "duplex",
		Short: "Loop input audio back to an output",
		Long: "Open a duplex stream and copy the mono input to every output channel. " +
			"Distinct input and output devices are joined by an aggregate device when possible.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open()
			if err != nil {
				return err
			}
			return s.Run(cmd.Context(), func(ctx context.Context) error {
				return run(ctx, s, opts)
			})
		},
	}
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "How long to run, 0 until interrupted")
	cmd.Flags().Uint32Var(&opts.rate, "rate", 48000, "Stream sample rate")
	cmd.Flags().Uint32Var(&opts.latency, "latency", 0, "Requested latency in frames, 0 for the minimum")
	cmd.Flags().StringVar(&opts.input, "input", "", "Input device UID, empty for the system default")
	cmd.Flags().StringVar(&opts.output, "output", "", "Output device UID, empty for the system default")
	cmd.Flags().Float64Var(&opts.gain, "gain", 1, "Gain applied to the input")
	return cmd
}

// Passthrough copies mono input to every output channel with a gain.
func Passthrough(input, output []byte, frames, channels int, gain float32) {
	for i := range frames {
		v := pcm.Float32At(input, i) * gain
		for c := range channels {
			pcm.PutFloat32(output, i*channels+c, v)
		}
	}
}

func resolve(hw hal.Hardware, uid string) (hal.ObjectID, error) {
	if uid == "" {
		return hal.Unknown, nil
	}
	id, err := hw.TranslateUID(uid)
	if err != nil {
		return hal.Unknown, errors.New(err).
			Component("cmd").
			Category(errors.CategoryNotFound).
			Context("device_uid", uid).
			Build()
	}
	return id, nil
}

func run(ctx context.Context, s *app.Session, opts options) error {
	input, err := resolve(s.Hardware, opts.input)
	if err != nil {
		return err
	}
	output, err := resolve(s.Hardware, opts.output)
	if err != nil {
		return err
	}
	if sim := s.Sim(); sim != nil {
		// A 220 Hz test signal stands in for a microphone.
		sim.SetInput(func(_ hal.ObjectID, frame int64, _ int) float32 {
			return 0.2 * float32(math.Sin(2*math.Pi*220*float64(frame)/float64(opts.rate)))
		})
	}

	outputChannels, err := s.Context.MaxChannelCount()
	if err != nil {
		return err
	}
	gain := float32(opts.gain)
	failed := make(chan struct{}, 1)
	stream, err := s.Context.NewStream(coreaudio.StreamOptions{
		Name:          "duplex",
		InputDevice:   input,
		Input:         &pcm.Params{Format: pcm.F32LE, Rate: opts.rate, Channels: 1, Layout: pcm.LayoutMono},
		OutputDevice:  output,
		Output:        &pcm.Params{Format: pcm.F32LE, Rate: opts.rate, Channels: outputChannels},
		LatencyFrames: opts.latency,
		DataCallback: func(_ *coreaudio.Stream, in, out []byte, frames int) int {
			Passthrough(in, out, frames, outputChannels, gain)
			return frames
		},
		StateCallback: func(_ *coreaudio.Stream, state coreaudio.State) {
			if state == coreaudio.StateError {
				select {
				case failed <- struct{}{}:
				default:
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer stream.Destroy()

	if err := stream.RegisterDeviceChangedCallback(func() {
		in, out := stream.Devices()
		s.Logger.Info("stream moved to new devices",
			"input_device", uint32(in.ID),
			"output_device", uint32(out.ID))
	}); err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		return err
	}
	current := stream.CurrentDevice()
	s.Logger.Info("duplex running",
		"latency_frames", stream.LatencyFrames(),
		"input_source", current.Input,
		"output_source", current.Output)

	var deadline <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-ctx.Done():
	case <-deadline:
	case <-failed:
		return errors.Newf("duplex stream failed").
			Component("cmd").
			Category(errors.CategoryFatalStream).
			Build()
	}
	return stream.Stop()
}
