package coreaudio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-cubeb/internal/conf"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal/simhal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

var defaultOutputChanged = hal.Address{Selector: hal.PropertyDefaultOutputDevice, Scope: hal.ScopeGlobal}

func newFollowingStream(t *testing.T, env *testEnv, rec *recorder) *Stream {
	t.Helper()
	s := env.newStream(t, StreamOptions{
		Output:        floatParams(2),
		LatencyFrames: 256,
		DataCallback:  constantOutput(0.25, 2),
		StateCallback: rec.state,
	})
	require.NoError(t, s.RegisterDeviceChangedCallback(rec.deviceChanged))
	return s
}

func TestDefaultOutputChangeMovesStream(t *testing.T) {
	env := newEnv(t, nil)
	rec := &recorder{}
	s := newFollowingStream(t, env, rec)
	require.NoError(t, s.Start())
	require.NoError(t, s.SetVolume(0.3))

	headphones := env.hw.AddDevice(simhal.DeviceSpec{Name: "Headphones", OutputChannels: 2, DataSource: hal.FourCC("hdpn")})
	env.hw.SetDefaultDevice(hal.ScopeOutput, headphones)
	env.sync(t)

	_, output := s.Devices()
	assert.Equal(t, headphones, output.ID)
	assert.True(t, output.Direction.SelectedDefault())
	assert.Equal(t, "hdpn", s.CurrentDevice().Output)
	assert.Equal(t, 1, rec.Changes())
	assert.False(t, s.reinitPending.Load())
	assert.False(t, s.switchingDevice.Load())

	volume, err := s.Volume()
	require.NoError(t, err)
	assert.InDelta(t, 0.3, volume, 1e-6)

	// Still running on the new device.
	env.hw.RunCycle(256)
	out, rendered := env.hw.LastOutput(headphones)
	assert.Equal(t, int64(256), rendered)
	assert.InDelta(t, 0.25, pcm.Float32At(out, 0), 0)

	assert.Equal(t, []State{StateStarted}, rec.States())
	assert.InDelta(t, 1, env.metric(t, "cubeb_reinit_total", "outcome", "ok"), 0)
	assert.Equal(t, 1, env.ctx.ActiveStreams())
}

func TestStoppedStreamStaysStoppedAfterReinit(t *testing.T) {
	env := newEnv(t, nil)
	rec := &recorder{}
	s := newFollowingStream(t, env, rec)

	speakers, _ := env.hw.DefaultDevice(hal.ScopeOutput)
	env.hw.SetDataSourceOf(speakers, hal.ScopeOutput, hal.FourCC("hdpn"))
	env.sync(t)

	_, output := s.Devices()
	assert.Equal(t, speakers, output.ID)
	assert.Equal(t, "hdpn", s.CurrentDevice().Output)
	assert.Equal(t, 1, rec.Changes())

	env.hw.RunCycle(256)
	_, rendered := env.hw.LastOutput(speakers)
	assert.Zero(t, rendered)
	assert.Equal(t, 2, env.hw.Stats().UnitsCreated)
}

func TestDeviceEventsCoalesce(t *testing.T) {
	env := newEnv(t, nil)
	rec := &recorder{}
	s := newFollowingStream(t, env, rec)
	created := env.hw.Stats().UnitsCreated

	release := make(chan struct{})
	require.NoError(t, env.ctx.queue.RunAsync(func() { <-release }))
	executed := env.ctx.queue.Executed()

	env.hw.Fire(hal.SystemObject, defaultOutputChanged)
	env.hw.Fire(hal.SystemObject, defaultOutputChanged)
	assert.True(t, s.reinitPending.Load())

	close(release)
	env.sync(t)

	// Blocker, one reinit and the sync barrier.
	assert.Equal(t, executed+3, env.ctx.queue.Executed())
	assert.Equal(t, created+1, env.hw.Stats().UnitsCreated)
	assert.Equal(t, 1, rec.Changes())
	assert.InDelta(t, 1, env.metric(t, "cubeb_device_events_coalesced_total"), 0)
	assert.InDelta(t, 1, env.metric(t, "cubeb_reinit_total"), 0)
}

func TestIrrelevantPropertyIsIgnored(t *testing.T) {
	env := newEnv(t, nil)
	rec := &recorder{}
	s := newFollowingStream(t, env, rec)

	s.propertyChanged(hal.SystemObject, []hal.Address{{Selector: hal.PropertyNominalSampleRate, Scope: hal.ScopeGlobal}})
	env.sync(t)

	assert.Zero(t, rec.Changes())
	assert.False(t, s.switchingDevice.Load())
	assert.Zero(t, env.metric(t, "cubeb_reinit_total"))
}

func TestUnpluggedInputFallsBackToDefault(t *testing.T) {
	env := newEnv(t, func(s *conf.Settings) { s.Backend.Aggregate.Enabled = false })
	rec := &recorder{}
	usb := env.hw.AddDevice(simhal.DeviceSpec{Name: "USB Mic", InputChannels: 1})
	s := env.newStream(t, StreamOptions{
		Input:         floatParams(1),
		InputDevice:   usb,
		Output:        floatParams(2),
		DataCallback:  echo,
		StateCallback: rec.state,
	})
	require.NoError(t, s.RegisterDeviceChangedCallback(rec.deviceChanged))
	require.NoError(t, s.Start())

	input, _ := s.Devices()
	require.Equal(t, usb, input.ID)
	assert.False(t, input.Direction.SelectedDefault())

	env.hw.RemoveDevice(usb)
	env.sync(t)

	mic, _ := env.hw.DefaultDevice(hal.ScopeInput)
	input, _ = s.Devices()
	assert.Equal(t, mic, input.ID)
	assert.True(t, input.Direction.SelectedDefault())
	assert.Equal(t, 1, rec.Changes())
	assert.Equal(t, []State{StateStarted}, rec.States())
}

func TestDefaultInputDeathWaitsForNewDefault(t *testing.T) {
	env := newEnv(t, nil)
	rec := &recorder{}
	usb := env.hw.AddDevice(simhal.DeviceSpec{Name: "USB Mic", InputChannels: 1})
	s := env.newStream(t, StreamOptions{
		Input:         floatParams(1),
		DataCallback:  func(_ *Stream, _, _ []byte, n int) int { return n },
		StateCallback: rec.state,
	})
	require.NoError(t, s.RegisterDeviceChangedCallback(rec.deviceChanged))

	mic, _ := env.hw.DefaultDevice(hal.ScopeInput)
	env.hw.RemoveDevice(mic)
	env.sync(t)

	input, _ := s.Devices()
	assert.Equal(t, usb, input.ID)
	assert.Equal(t, 1, rec.Changes(), "the dead default is reported through the default change only")
}

func TestContextErrorReinitsDuplexStream(t *testing.T) {
	env := newEnv(t, func(s *conf.Settings) { s.Backend.Aggregate.Enabled = false })
	env.hw.SetInput(constantInput(0.5))
	s := env.newStream(t, StreamOptions{
		Input:         floatParams(1),
		Output:        floatParams(2),
		DataCallback:  echo,
		StateCallback: func(*Stream, State) {},
	})
	require.NoError(t, s.Start())

	mic, _ := env.hw.DefaultDevice(hal.ScopeInput)
	env.hw.SetRenderStatus(mic, hal.StatusCannotDoInCurrentContext, 1)
	env.hw.RunInput(256)
	env.sync(t)

	assert.Equal(t, 4, env.hw.Stats().UnitsCreated)
	assert.InDelta(t, 1, env.metric(t, "cubeb_reinit_total", "outcome", "ok"), 0)

	env.hw.RunCycle(256)
	speakers, _ := env.hw.DefaultDevice(hal.ScopeOutput)
	out, _ := env.hw.LastOutput(speakers)
	assert.InDelta(t, 0.5, pcm.Float32At(out, 0), 1e-6)
}

func TestReinitFailureReportsError(t *testing.T) {
	env := newEnv(t, nil)
	rec := &recorder{}
	s := newFollowingStream(t, env, rec)
	require.NoError(t, s.Start())
	require.Equal(t, 2, env.hw.Stats().Listeners)

	env.hw.FailNext("NewUnit", hal.StatusUnspecified)
	speakers, _ := env.hw.DefaultDevice(hal.ScopeOutput)
	env.hw.SetDataSourceOf(speakers, hal.ScopeOutput, hal.FourCC("hdpn"))
	env.sync(t)

	assert.Equal(t, []State{StateStarted, StateError}, rec.States())
	assert.Zero(t, env.hw.Stats().Listeners, "system listeners go with a failed reinit")
	assert.InDelta(t, 1, env.metric(t, "cubeb_reinit_total", "outcome", "failed"), 0)

	// The broken stream can still be destroyed.
	s.Destroy()
	assert.Zero(t, env.ctx.ActiveStreams())
}

func TestDestroySuppressesQueuedReinit(t *testing.T) {
	env := newEnv(t, nil)
	rec := &recorder{}
	s := newFollowingStream(t, env, rec)
	created := env.hw.Stats().UnitsCreated

	release := make(chan struct{})
	require.NoError(t, env.ctx.queue.RunAsync(func() { <-release }))
	env.hw.Fire(hal.SystemObject, defaultOutputChanged)
	require.True(t, s.reinitPending.Load())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Destroy()
	}()
	require.Eventually(t, s.destroyPending.Load, time.Second, time.Millisecond)
	close(release)
	<-done

	assert.Equal(t, created, env.hw.Stats().UnitsCreated)
	assert.Zero(t, env.metric(t, "cubeb_reinit_total"))
	assert.Zero(t, env.hw.Stats().Listeners)
}

func TestOnlyStreamKeepsClampedLatencyAcrossReinit(t *testing.T) {
	env := newEnv(t, nil)
	rec := &recorder{}
	s := env.newStream(t, StreamOptions{
		Output:        floatParams(2),
		LatencyFrames: 512,
		DataCallback:  constantOutput(0.25, 2),
		StateCallback: rec.state,
	})
	require.Equal(t, uint32(512), s.LatencyFrames())

	small := env.hw.AddDevice(simhal.DeviceSpec{Name: "USB DAC", OutputChannels: 2, BufferFrameSize: 256})
	env.hw.SetDefaultDevice(hal.ScopeOutput, small)
	env.sync(t)

	_, output := s.Devices()
	require.Equal(t, small, output.ID)
	assert.Equal(t, 1, env.ctx.ActiveStreams())
	assert.Equal(t, uint32(512), s.LatencyFrames())
}
