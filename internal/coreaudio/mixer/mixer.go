// Package mixer remixes interleaved frames from the stream channel layout to
// the hardware channel layout.
package mixer

import (
	"log/slog"
	"math"
	"slices"

	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
	"github.com/tphakala/go-cubeb/internal/errors"
	"github.com/tphakala/go-cubeb/internal/logging"
)

// Engine is the mixing service consumed by the output callback. Callers render
// into Buffer after UpdateBufferSize, then Mix into the hardware buffer.
type Engine interface {
	UpdateBufferSize(frames int) bool
	Buffer() []byte
	Mix(frames int, dst []byte) error
}

// ErrLayoutMismatch is returned when the input layout does not describe the
// input channel count.
var ErrLayoutMismatch = errors.New(errors.NewStd("mismatch between input channels and layout")).
	Component("coreaudio.mixer").
	Category(errors.CategoryInvalidParameter).
	Build()

// ErrBufferTooSmall is returned by Mix when a buffer can not hold the frames.
var ErrBufferTooSmall = errors.New(errors.NewStd("mixer buffer too small")).
	Component("coreaudio.mixer").
	Category(errors.CategoryMixer).
	Build()

const minusThreeDB = math.Sqrt2 / 2

// Mixer is the default channel matrix Engine.
type Mixer struct {
	format         pcm.SampleFormat
	inputChannels  []pcm.Channel
	outputChannels []pcm.Channel
	matrix         [][]float32 // [output][input]

	// Only touched from the output callback.
	buffer []byte
}

var _ Engine = (*Mixer)(nil)

// New builds a mixer from inChannels channels laid out as inLayout to
// outChannels channels ordered as outOrder. An undefined inLayout takes the
// default order for inChannels. One and two output channels are always treated
// as mono and stereo since some devices report a lone channel mapped to the
// right.
func New(format pcm.SampleFormat, inChannels int, inLayout pcm.ChannelLayout, outChannels int, outOrder []pcm.Channel) (*Mixer, error) {
	if inChannels <= 0 || outChannels <= 0 {
		return nil, errors.New(ErrLayoutMismatch).
			Context("input_channels", inChannels).
			Context("output_channels", outChannels).
			Build()
	}

	var input []pcm.Channel
	if inLayout == pcm.LayoutUndefined {
		input = DefaultChannelOrder(inChannels)
	} else {
		if inLayout.Channels() != inChannels {
			return nil, errors.New(ErrLayoutMismatch).
				Context("input_channels", inChannels).
				Context("layout_channels", inLayout.Channels()).
				Build()
		}
		input = ChannelOrder(inLayout)
	}

	output := slices.Clone(outOrder)
	switch outChannels {
	case 1:
		output = []pcm.Channel{pcm.FrontCenter}
	case 2:
		output = []pcm.Channel{pcm.FrontLeft, pcm.FrontRight}
	}
	if len(output) == 0 || len(output) != outChannels || allSilence(output) {
		logger().Debug("mismatch between output channels and layout, using default layout",
			"output_channels", outChannels,
			"reported_channels", len(output))
		output = DefaultChannelOrder(outChannels)
	}

	return &Mixer{
		format:         format.Native(),
		inputChannels:  input,
		outputChannels: output,
		matrix:         buildMatrix(input, output),
	}, nil
}

func allSilence(channels []pcm.Channel) bool {
	for _, c := range channels {
		if c != pcm.Silence {
			return false
		}
	}
	return true
}

func logger() *slog.Logger {
	l := logging.ForService("coreaudio")
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "mixer")
}

// InputChannels returns the input channel order.
func (m *Mixer) InputChannels() []pcm.Channel { return m.inputChannels }

// OutputChannels returns the output channel order.
func (m *Mixer) OutputChannels() []pcm.Channel { return m.outputChannels }

// Coefficient returns the gain applied from input channel in to output channel
// out, or 0 when either is absent.
func (m *Mixer) Coefficient(in, out pcm.Channel) float32 {
	i := slices.Index(m.inputChannels, in)
	o := slices.Index(m.outputChannels, out)
	if i < 0 || o < 0 {
		return 0
	}
	return m.matrix[o][i]
}

// UpdateBufferSize grows the scratch buffer to hold frames input frames and
// reports whether it had to grow.
func (m *Mixer) UpdateBufferSize(frames int) bool {
	need := frames * len(m.inputChannels) * m.format.BytesPerSample()
	if len(m.buffer) >= need {
		return false
	}
	m.buffer = make([]byte, need)
	return true
}

// Buffer returns the scratch buffer holding input frames.
func (m *Mixer) Buffer() []byte { return m.buffer }

// Mix remixes frames from the scratch buffer into dst.
func (m *Mixer) Mix(frames int, dst []byte) error {
	ss := m.format.BytesPerSample()
	inCh, outCh := len(m.inputChannels), len(m.outputChannels)
	if len(m.buffer) < frames*inCh*ss || len(dst) < frames*outCh*ss {
		return errors.New(ErrBufferTooSmall).
			Context("frames", frames).
			Context("src_len", len(m.buffer)).
			Context("dst_len", len(dst)).
			Build()
	}

	for f := range frames {
		in := f * inCh
		out := f * outCh
		for o, row := range m.matrix {
			var acc float32
			for i, gain := range row {
				if gain != 0 {
					acc += gain * pcm.SampleAt(m.format, m.buffer, in+i)
				}
			}
			pcm.PutSample(m.format, dst, out+o, acc)
		}
	}
	return nil
}
