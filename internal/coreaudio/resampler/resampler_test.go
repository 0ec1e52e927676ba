package resampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

func floatParams(rate uint32, channels int) *pcm.Params {
	return &pcm.Params{Format: pcm.F32LE, Rate: rate, Channels: channels}
}

func floats(values ...float32) []byte {
	b := make([]byte, len(values)*4)
	for i, v := range values {
		pcm.PutFloat32(b, i, v)
	}
	return b
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cb := func(_, _ []byte, frames int) int { return frames }
	tests := []struct {
		name string
		cfg  Config
	}{
		{"nil callback", Config{Output: floatParams(48000, 2), TargetRate: 48000}},
		{"no direction", Config{TargetRate: 48000, Callback: cb}},
		{"zero rate", Config{Output: floatParams(48000, 2), Callback: cb}},
		{"zero input channels", Config{Input: floatParams(48000, 0), TargetRate: 48000, Callback: cb}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestOutputOnlyCallsThrough(t *testing.T) {
	var gotFrames int
	r, err := New(Config{
		Output:     floatParams(48000, 2),
		TargetRate: 48000,
		Callback: func(in, out []byte, frames int) int {
			assert.Nil(t, in)
			gotFrames = frames
			return frames - 1
		},
	})
	require.NoError(t, err)

	out := make([]byte, 8*8)
	produced, consumed := r.Fill(nil, 0, out, 8)
	assert.Equal(t, 8, gotFrames)
	assert.Equal(t, 7, produced)
	assert.Zero(t, consumed)
}

func TestDuplexPassthroughPadsShortInput(t *testing.T) {
	var seen []byte
	r, err := New(Config{
		Input:      floatParams(48000, 1),
		Output:     floatParams(48000, 1),
		TargetRate: 48000,
		Callback: func(in, _ []byte, frames int) int {
			seen = append([]byte(nil), in...)
			return frames
		},
	})
	require.NoError(t, err)

	out := make([]byte, 4*4)
	produced, consumed := r.Fill(floats(0.5, 0.25), 2, out, 4)
	assert.Equal(t, 4, produced)
	assert.Equal(t, 2, consumed)
	require.Len(t, seen, 16)
	assert.Equal(t, floats(0.5, 0.25, 0, 0), seen)
}

func TestDuplexDownsampleConsumesAtRatio(t *testing.T) {
	var framesSeen int
	r, err := New(Config{
		Input:      floatParams(96000, 1),
		Output:     floatParams(48000, 1),
		TargetRate: 48000,
		Callback: func(in, _ []byte, frames int) int {
			framesSeen = frames
			assert.Len(t, in, frames*4)
			return frames
		},
	})
	require.NoError(t, err)

	in := make([]float32, 256)
	for i := range in {
		in[i] = 0.25
	}
	out := make([]byte, 128*4)
	totalConsumed := 0
	for range 4 {
		produced, consumed := r.Fill(floats(in...), len(in), out, 128)
		assert.Equal(t, 128, produced)
		totalConsumed += consumed
	}
	assert.Equal(t, 128, framesSeen)
	assert.Equal(t, 4*256, totalConsumed)
}

func TestConstantSignalSurvivesInterpolation(t *testing.T) {
	var last []byte
	r, err := New(Config{
		Input:      floatParams(44100, 2),
		Output:     floatParams(48000, 2),
		TargetRate: 48000,
		Callback: func(in, _ []byte, frames int) int {
			last = append(last[:0], in...)
			return frames
		},
	})
	require.NoError(t, err)

	in := make([]float32, 2*441)
	for i := 0; i < len(in); i += 2 {
		in[i], in[i+1] = 0.5, -0.5
	}
	out := make([]byte, 480*8)
	_, consumed := r.Fill(floats(in...), 441, out, 480)
	assert.InDelta(t, 441, consumed, 1)

	for i := 0; i < len(last)/4; i += 2 {
		assert.InDelta(t, 0.5, pcm.Float32At(last, i), 1e-5)
		assert.InDelta(t, -0.5, pcm.Float32At(last, i+1), 1e-5)
	}
}

func TestInputOnlyUpsampleAndShortCallback(t *testing.T) {
	var frames []int
	taken := 1 << 30
	r, err := New(Config{
		Input:      floatParams(24000, 1),
		TargetRate: 48000,
		Callback: func(in, out []byte, n int) int {
			assert.Nil(t, out)
			frames = append(frames, n)
			return min(n, taken)
		},
	})
	require.NoError(t, err)

	in := floats(make([]float32, 100)...)
	produced, consumed := r.Fill(in, 100, nil, 0)
	assert.Equal(t, 200, frames[0])
	assert.Equal(t, 200, produced)
	assert.Equal(t, 100, consumed)

	taken = 50
	r.Reset()
	produced, consumed = r.Fill(in, 100, nil, 0)
	assert.Equal(t, 50, produced)
	assert.Equal(t, 25, consumed)
}

func TestIntegerSamplesAreClamped(t *testing.T) {
	var got []byte
	r, err := New(Config{
		Input:      &pcm.Params{Format: pcm.S16LE, Rate: 32000, Channels: 1},
		Output:     &pcm.Params{Format: pcm.S16LE, Rate: 48000, Channels: 1},
		TargetRate: 48000,
		Callback: func(in, _ []byte, frames int) int {
			got = append(got[:0], in...)
			return frames
		},
	})
	require.NoError(t, err)

	// An overshooting edge must not wrap around.
	in := make([]byte, 8*2)
	for i, v := range []int16{-32768, 32767, -32768, 32767, -32768, 32767, -32768, 32767} {
		pcm.PutInt16(in, i, v)
	}
	out := make([]byte, 12*2)
	r.Fill(in, 8, out, 12)
	require.Len(t, got, 24)
	for i := range 12 {
		v := pcm.Int16At(got, i)
		assert.GreaterOrEqual(t, v, int16(-32767))
		assert.LessOrEqual(t, v, int16(32767))
	}
}
