package coreaudio

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-cubeb/internal/conf"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal/simhal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

func TestMinimumResamplingInputFrames(t *testing.T) {
	tests := []struct {
		name          string
		input, output float64
		frames, want  int64
	}{
		{"equal rates", 48000, 48000, 256, 256},
		{"upsampling", 44100, 48000, 256, 236},
		{"downsampling", 48000, 44100, 441, 480},
		{"exact ratio", 96000, 48000, 128, 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MinimumResamplingInputFrames(tt.input, tt.output, tt.frames))
		})
	}

	assert.Panics(t, func() { MinimumResamplingInputFrames(0, 48000, 1) })
	assert.Panics(t, func() { MinimumResamplingInputFrames(48000, 0, 1) })
}

func TestSkipLeadingChannels(t *testing.T) {
	assert.Equal(t, 0, skipLeadingChannels(2, 1), "stereo to mono is summed")
	assert.Equal(t, 0, skipLeadingChannels(1, 1))
	assert.Equal(t, 2, skipLeadingChannels(4, 2))
	assert.Equal(t, 0, skipLeadingChannels(1, 2))
}

// echo copies mono input to both channels of stereo output.
func echo(_ *Stream, in, out []byte, frames int) int {
	for f := range frames {
		v := pcm.Float32At(in, f)
		pcm.PutFloat32(out, 2*f, v)
		pcm.PutFloat32(out, 2*f+1, v)
	}
	return frames
}

func constantInput(v float32) func(hal.ObjectID, int64, int) float32 {
	return func(hal.ObjectID, int64, int) float32 { return v }
}

func TestDuplexThroughAggregate(t *testing.T) {
	env := newEnv(t, nil)
	env.hw.SetInput(constantInput(0.5))
	rec := &recorder{}
	s := env.newStream(t, StreamOptions{
		Input:         floatParams(1),
		Output:        floatParams(2),
		LatencyFrames: 256,
		DataCallback:  echo,
		StateCallback: rec.state,
	})
	require.NotNil(t, s.aggregate)
	require.Same(t, s.inputUnit, s.outputUnit)
	aggregateID := s.aggregate.ID()

	require.NoError(t, s.Start())
	for range 4 {
		env.hw.RunCycle(256)
	}

	out, rendered := env.hw.LastOutput(aggregateID)
	assert.Equal(t, int64(1024), rendered)
	assert.InDelta(t, 0.5, pcm.Float32At(out, 0), 1e-6)
	assert.InDelta(t, 0.5, pcm.Float32At(out, 511), 1e-6)
	assert.Zero(t, env.metric(t, "cubeb_dropouts_total"))
	assert.Equal(t, []State{StateStarted}, rec.States())
	assert.InDelta(t, 1, env.metric(t, "cubeb_aggregate_devices_total", "outcome", "created"), 0)
}

func TestDuplexWithSeparateUnitsPadsMissingInput(t *testing.T) {
	env := newEnv(t, func(s *conf.Settings) { s.Backend.Aggregate.Enabled = false })
	env.hw.SetInput(constantInput(0.5))
	s := env.newStream(t, StreamOptions{
		Input:         floatParams(1),
		Output:        floatParams(2),
		LatencyFrames: 256,
		DataCallback:  echo,
		StateCallback: func(*Stream, State) {},
	})
	require.Nil(t, s.aggregate)
	assert.Equal(t, 2, env.hw.Stats().UnitsCreated)
	speakers, _ := env.hw.DefaultDevice(hal.ScopeOutput)

	require.NoError(t, s.Start())

	// Output runs before any input arrived.
	env.hw.RunOutput(256)
	out, _ := env.hw.LastOutput(speakers)
	assert.Zero(t, pcm.Float32At(out, 0))
	assert.InDelta(t, 1, env.metric(t, "cubeb_dropouts_total"), 0)
	assert.InDelta(t, 256, env.metric(t, "cubeb_padded_frames_total"), 0)

	env.hw.RunCycle(256)
	out, _ = env.hw.LastOutput(speakers)
	assert.InDelta(t, 0.5, pcm.Float32At(out, 0), 1e-6)
	assert.InDelta(t, 0.5, pcm.Float32At(out, 511), 1e-6)
	assert.Equal(t, int64(512), s.framesRead.Load())
	assert.Equal(t, int64(512), s.framesWritten.Load())
}

func TestAggregateFailureFallsBackToSeparateUnits(t *testing.T) {
	env := newEnv(t, nil)
	env.hw.FailNext("CreateAggregate", hal.StatusUnspecified)
	s := env.newStream(t, StreamOptions{
		Input:         floatParams(1),
		Output:        floatParams(2),
		DataCallback:  echo,
		StateCallback: func(*Stream, State) {},
	})
	assert.Nil(t, s.aggregate)
	assert.Equal(t, 2, env.hw.Stats().UnitsCreated)
	assert.InDelta(t, 1, env.metric(t, "cubeb_aggregate_devices_total", "outcome", "failed"), 0)
}

func TestShortCallbackDrains(t *testing.T) {
	env := newEnv(t, nil)
	rec := &recorder{}
	var calls atomic.Int32
	s := env.newStream(t, StreamOptions{
		Output:        floatParams(2),
		LatencyFrames: 256,
		DataCallback: func(s *Stream, in, out []byte, frames int) int {
			n := frames
			if calls.Add(1) == 2 {
				n = frames / 2
			}
			return constantOutput(0.25, 2)(s, in, out, n)
		},
		StateCallback: rec.state,
	})
	speakers, _ := env.hw.DefaultDevice(hal.ScopeOutput)

	require.NoError(t, s.Start())
	env.hw.RunCycle(256)
	env.hw.RunCycle(256)
	out, _ := env.hw.LastOutput(speakers)
	assert.InDelta(t, 0.25, pcm.Float32At(out, 255), 0)
	assert.Zero(t, pcm.Float32At(out, 256), "tail after a short callback is silence")

	env.hw.RunCycle(256)
	env.hw.RunCycle(256)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []State{StateStarted, StateDrained}, rec.States())
	assert.Equal(t, uint64(256+128), s.Position())
}

func TestInvalidFrameCountStopsStream(t *testing.T) {
	env := newEnv(t, nil)
	rec := &recorder{}
	var calls atomic.Int32
	s := env.newStream(t, StreamOptions{
		Output: floatParams(2),
		DataCallback: func(_ *Stream, _, _ []byte, frames int) int {
			calls.Add(1)
			return frames + 1
		},
		StateCallback: rec.state,
	})
	speakers, _ := env.hw.DefaultDevice(hal.ScopeOutput)

	require.NoError(t, s.Start())
	env.hw.RunCycle(256)
	out, _ := env.hw.LastOutput(speakers)
	assert.Zero(t, pcm.Float32At(out, 0))

	env.hw.RunCycle(256)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []State{StateStarted, StateError}, rec.States())
}

func TestInputOnlyStream(t *testing.T) {
	env := newEnv(t, nil)
	env.hw.SetInput(constantInput(0.25))
	rec := &recorder{}
	var frames []int
	var first []float32
	s := env.newStream(t, StreamOptions{
		Input:         floatParams(1),
		LatencyFrames: 256,
		DataCallback: func(_ *Stream, in, out []byte, n int) int {
			assert.Nil(t, out)
			frames = append(frames, n)
			first = append(first, pcm.Float32At(in, 0))
			if len(frames) == 3 {
				return 0
			}
			return n
		},
		StateCallback: rec.state,
	})

	require.NoError(t, s.Start())
	env.hw.RunInput(256)
	assert.Equal(t, []int{256}, frames)
	assert.InDelta(t, 0.25, first[0], 0)

	// A profile switch yields silence instead of an error.
	mic, _ := env.hw.DefaultDevice(hal.ScopeInput)
	env.hw.SetRenderStatus(mic, hal.StatusCannotDoInCurrentContext, 1)
	env.hw.RunInput(256)
	require.Len(t, first, 2)
	assert.Zero(t, first[1])
	assert.InDelta(t, 1, env.metric(t, "cubeb_render_errors_total"), 0)

	env.hw.RunInput(256)
	env.hw.RunInput(256)
	assert.Len(t, frames, 3)
	assert.Equal(t, []State{StateStarted, StateDrained}, rec.States())
	assert.Equal(t, int64(768), s.framesRead.Load())
}

func TestInputRenderFailureIsReturned(t *testing.T) {
	env := newEnv(t, nil)
	var calls atomic.Int32
	s := env.newStream(t, StreamOptions{
		Input: floatParams(1),
		DataCallback: func(_ *Stream, _, _ []byte, n int) int {
			calls.Add(1)
			return n
		},
		StateCallback: func(*Stream, State) {},
	})
	mic, _ := env.hw.DefaultDevice(hal.ScopeInput)
	env.hw.SetRenderStatus(mic, hal.StatusUnspecified, 1)

	require.NoError(t, s.Start())
	env.hw.RunInput(256)
	assert.Zero(t, calls.Load())
	assert.Zero(t, s.framesRead.Load())

	env.hw.RunInput(256)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStereoInputFeedsMonoStream(t *testing.T) {
	env := newEnv(t, nil)
	usb := env.hw.AddDevice(simhal.DeviceSpec{Name: "USB Mic", InputChannels: 2})
	env.hw.SetInput(func(_ hal.ObjectID, _ int64, channel int) float32 {
		return float32(channel+1) * 0.1
	})
	var got float32
	s := env.newStream(t, StreamOptions{
		Input:       floatParams(1),
		InputDevice: usb,
		DataCallback: func(_ *Stream, in, _ []byte, n int) int {
			got = pcm.Float32At(in, 0)
			return n
		},
		StateCallback: func(*Stream, State) {},
	})
	require.NoError(t, s.Start())
	env.hw.RunInput(128)
	assert.InDelta(t, 0.3, got, 1e-6)
}
