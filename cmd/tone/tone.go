// Package tone plays a sine tone through an output stream.
package tone

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
	duration  time.Duration
	frequency float64
	amplitude float64
	channels  int
	rate      uint32
	latency   uint32
	device    string
}

// Command creates the tone command.
func Command(open app.Opener) *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "tone",
		Short: "Play a sine tone",
		Long:  "Open an output stream on the default or given device and play a sine tone.",
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
	cmd.Flags().DurationVar(&opts.duration, "duration", 5*time.Second, "How long to play")
	cmd.Flags().Float64Var(&opts.frequency, "frequency", 440, "Tone frequency in Hz")
	cmd.Flags().Float64Var(&opts.amplitude, "amplitude", 0.2, "Peak amplitude between 0 and 1")
	cmd.Flags().IntVar(&opts.channels, "channels", 2, "Stream channel count")
	cmd.Flags().Uint32Var(&opts.rate, "rate", 48000, "Stream sample rate")
	cmd.Flags().Uint32Var(&opts.latency, "latency", 0, "Requested latency in frames, 0 for the minimum")
	cmd.Flags().StringVar(&opts.device, "device", "", "Output device UID, empty for the system default")
	return cmd
}

// Oscillator writes a sine into interleaved float frames, keeping phase
// across calls.
type Oscillator struct {
	step      float64
	phase     float64
	amplitude float32
}

// NewOscillator returns an oscillator for frequency at rate.
func NewOscillator(frequency float64, rate uint32, amplitude float64) *Oscillator {
	return &Oscillator{
		step:      2 * math.Pi * frequency / float64(rate),
		amplitude: float32(amplitude),
	}
}

// Fill writes frames of channels interleaved samples to out.
func (o *Oscillator) Fill(out []byte, frames, channels int) {
	for i := range frames {
		v := o.amplitude * float32(math.Sin(o.phase))
		for c := range channels {
			pcm.PutFloat32(out, i*channels+c, v)
		}
		o.phase += o.step
		if o.phase >= 2*math.Pi {
			o.phase -= 2 * math.Pi
		}
	}
}

func run(ctx context.Context, s *app.Session, opts options) error {
	if opts.amplitude < 0 || opts.amplitude > 1 {
		return errors.Newf("amplitude %.2f out of range", opts.amplitude).
			Component("cmd").
			Category(errors.CategoryValidation).
			Build()
	}
	device := hal.Unknown
	if opts.device != "" {
		id, err := s.Hardware.TranslateUID(opts.device)
		if err != nil {
			return errors.New(err).
				Component("cmd").
				Category(errors.CategoryNotFound).
				Context("device_uid", opts.device).
				Build()
		}
		device = id
	}

	osc := NewOscillator(opts.frequency, opts.rate, opts.amplitude)
	done := make(chan coreaudio.State, 1)
	stream, err := s.Context.NewStream(coreaudio.StreamOptions{
		Name:          "tone",
		OutputDevice:  device,
		Output:        &pcm.Params{Format: pcm.F32LE, Rate: opts.rate, Channels: opts.channels},
		LatencyFrames: opts.latency,
		DataCallback: func(_ *coreaudio.Stream, _, output []byte, frames int) int {
			osc.Fill(output, frames, opts.channels)
			return frames
		},
		StateCallback: func(_ *coreaudio.Stream, state coreaudio.State) {
			if state == coreaudio.StateError || state == coreaudio.StateDrained {
				select {
				case done <- state:
				default:
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer stream.Destroy()

	if err := stream.Start(); err != nil {
		return err
	}
	s.Logger.Info("playing tone",
		"frequency", opts.frequency,
		"duration", opts.duration.String(),
		"latency_frames", stream.LatencyFrames())

	timer := time.NewTimer(opts.duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case state := <-done:
		if state == coreaudio.StateError {
			return errors.Newf("stream failed").
				Component("cmd").
				Category(errors.CategoryFatalStream).
				Build()
		}
	}
	if err := stream.Stop(); err != nil {
		return err
	}
	s.Logger.Info("tone finished", "frames_played", stream.Position())
	return nil
}
