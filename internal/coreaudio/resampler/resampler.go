// Package resampler adapts hardware input rates to the stream rate and drives
// the client data callback.
package resampler

import (
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
	"github.com/tphakala/go-cubeb/internal/errors"
)

// DataCallback receives input frames at the stream rate and fills output
// frames. It returns the number of frames produced. Either buffer may be nil.
type DataCallback func(input, output []byte, frames int) int

// Resampler is the service the realtime callbacks call once per period.
type Resampler interface {
	// Fill resamples inputFrames frames of input, hands them to the data
	// callback together with output sized for outputFrames frames, and
	// returns the frames produced by the callback and the input frames used.
	Fill(input []byte, inputFrames int, output []byte, outputFrames int) (produced, consumed int)
	// Reset drops interpolation history after a discontinuity.
	Reset()
}

// Config describes a resampler.
type Config struct {
	// Input is the captured input: hardware rate, stream channel count and format.
	Input *pcm.Params
	// Output is the stream output. Output is rendered at the stream rate.
	Output *pcm.Params
	// TargetRate is the stream rate handed to the data callback.
	TargetRate uint32
	Callback   DataCallback
}

// ErrInvalidConfig is returned when a Config can not be served.
var ErrInvalidConfig = errors.New(errors.NewStd("invalid resampler configuration")).
	Component("coreaudio.resampler").
	Category(errors.CategoryInvalidParameter).
	Build()

// New returns the default cubic resampler for cfg.
func New(cfg Config) (Resampler, error) {
	switch {
	case cfg.Callback == nil:
		return nil, errors.New(ErrInvalidConfig).Context("reason", "nil data callback").Build()
	case cfg.Input == nil && cfg.Output == nil:
		return nil, errors.New(ErrInvalidConfig).Context("reason", "no direction").Build()
	case cfg.TargetRate == 0:
		return nil, errors.New(ErrInvalidConfig).Context("reason", "zero target rate").Build()
	case cfg.Input != nil && (cfg.Input.Rate == 0 || cfg.Input.Channels <= 0):
		return nil, errors.New(ErrInvalidConfig).
			Context("reason", "bad input params").
			Context("rate", cfg.Input.Rate).
			Context("channels", cfg.Input.Channels).
			Build()
	}
	return newCubic(cfg), nil
}
