// Package pcm defines sample formats, channel layouts and little-endian sample
// helpers shared by the buffer manager, mixer and resampler.
package pcm

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// SampleFormat is the encoding of one interleaved sample.
type SampleFormat int

const (
	S16LE SampleFormat = iota
	S16BE
	F32LE
	F32BE
)

// BytesPerSample returns 2 for integer formats and 4 for float formats.
func (f SampleFormat) BytesPerSample() int {
	if f.IsFloat() {
		return 4
	}
	return 2
}

// IsFloat reports whether samples are 32-bit floats.
func (f SampleFormat) IsFloat() bool {
	return f == F32LE || f == F32BE
}

// Native returns the little-endian format with the same sample type. Buffers
// handed to callbacks are always little-endian.
func (f SampleFormat) Native() SampleFormat {
	if f.IsFloat() {
		return F32LE
	}
	return S16LE
}

// Valid reports whether f is a known format.
func (f SampleFormat) Valid() bool {
	return f >= S16LE && f <= F32BE
}

func (f SampleFormat) String() string {
	switch f {
	case S16LE:
		return "s16le"
	case S16BE:
		return "s16be"
	case F32LE:
		return "f32le"
	case F32BE:
		return "f32be"
	default:
		return "unknown"
	}
}

// Channel is a single SMPTE channel position. The value is the bit index used
// in a ChannelLayout.
type Channel int

const (
	FrontLeft Channel = iota
	FrontRight
	FrontCenter
	LowFrequency
	BackLeft
	BackRight
	FrontLeftOfCenter
	FrontRightOfCenter
	BackCenter
	SideLeft
	SideRight
	TopCenter
	TopFrontLeft
	TopFrontCenter
	TopFrontRight
	TopBackLeft
	TopBackCenter
	TopBackRight
	Silence
)

// ChannelLayout is a bitmask of channel positions.
type ChannelLayout uint32

// Bit returns the layout containing only c.
func (c Channel) Bit() ChannelLayout {
	if c < FrontLeft || c >= Silence {
		return 0
	}
	return 1 << uint(c)
}

// Standard layouts.
const (
	LayoutUndefined ChannelLayout = 0

	LayoutMono       = ChannelLayout(1 << FrontCenter)
	LayoutMonoLFE    = LayoutMono | 1<<LowFrequency
	LayoutStereo     = ChannelLayout(1<<FrontLeft | 1<<FrontRight)
	LayoutStereoLFE  = LayoutStereo | 1<<LowFrequency
	Layout3F         = LayoutStereo | 1<<FrontCenter
	Layout3FLFE      = Layout3F | 1<<LowFrequency
	Layout2F1        = LayoutStereo | 1<<BackCenter
	Layout2F1LFE     = Layout2F1 | 1<<LowFrequency
	Layout3F1        = Layout3F | 1<<BackCenter
	Layout3F1LFE     = Layout3F1 | 1<<LowFrequency
	Layout2F2        = LayoutStereo | 1<<SideLeft | 1<<SideRight
	Layout2F2LFE     = Layout2F2 | 1<<LowFrequency
	LayoutQuad       = LayoutStereo | 1<<BackLeft | 1<<BackRight
	LayoutQuadLFE    = LayoutQuad | 1<<LowFrequency
	Layout3F2        = Layout3F | 1<<SideLeft | 1<<SideRight
	Layout3F2LFE     = Layout3F2 | 1<<LowFrequency
	Layout3F2Back    = Layout3F | 1<<BackLeft | 1<<BackRight
	Layout3F2LFEBack = Layout3F2Back | 1<<LowFrequency
	Layout3F3RLFE    = Layout3F2LFE | 1<<BackCenter
	Layout3F4LFE     = Layout3F2LFE | 1<<BackLeft | 1<<BackRight
)

// Channels returns the number of channels in the layout.
func (l ChannelLayout) Channels() int {
	return bits.OnesCount32(uint32(l))
}

// Params describes one direction of a stream.
type Params struct {
	Format   SampleFormat
	Rate     uint32
	Channels int
	Layout   ChannelLayout
	Prefs    StreamPrefs
}

// StreamPrefs are optional stream behaviors.
type StreamPrefs uint32

const (
	PrefNone     StreamPrefs = 0
	PrefLoopback StreamPrefs = 1 << 0
	PrefVoice    StreamPrefs = 1 << 2
)

// FrameSize returns the size in bytes of one interleaved frame.
func (p Params) FrameSize() int {
	return p.Channels * p.Format.BytesPerSample()
}

// Little-endian sample access. Buffers are byte slices so the same code path
// serves both sample types.

// Int16At reads the i-th 16-bit sample.
func Int16At(b []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(b[i*2:]))
}

// PutInt16 writes the i-th 16-bit sample.
func PutInt16(b []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
}

// Float32At reads the i-th float sample.
func Float32At(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

// PutFloat32 writes the i-th float sample.
func PutFloat32(b []byte, i int, v float32) {
	binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
}

// SampleAt reads the i-th sample of format f as a float in [-1, 1].
func SampleAt(f SampleFormat, b []byte, i int) float32 {
	if f.IsFloat() {
		return Float32At(b, i)
	}
	return float32(Int16At(b, i)) / 32768
}

// PutSample writes v as the i-th sample of format f, clamping integer output.
func PutSample(f SampleFormat, b []byte, i int, v float32) {
	if f.IsFloat() {
		PutFloat32(b, i, v)
		return
	}
	PutInt16(b, i, ClampInt16(v*32768))
}

// ClampInt16 rounds v and saturates it to the int16 range.
func ClampInt16(v float32) int16 {
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(float64(v)))
}

// Zero clears b.
func Zero(b []byte) {
	clear(b)
}
