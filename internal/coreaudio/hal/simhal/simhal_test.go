package simhal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

func TestDefaultsAndDeviceList(t *testing.T) {
	h := NewDefault()

	in, err := h.DefaultDevice(hal.ScopeInput)
	require.NoError(t, err)
	out, err := h.DefaultDevice(hal.ScopeOutput)
	require.NoError(t, err)
	assert.NotEqual(t, in, out)

	devices, err := h.Devices()
	require.NoError(t, err)
	assert.Equal(t, []hal.ObjectID{in, out}, devices)

	channels, err := h.ChannelCount(out, hal.ScopeOutput)
	require.NoError(t, err)
	assert.Equal(t, 2, channels)

	latency, err := h.Latency(out, hal.ScopeOutput)
	require.NoError(t, err)
	assert.Equal(t, uint32(168), latency)

	id, err := h.TranslateUID("BuiltInSpeakerDevice")
	require.NoError(t, err)
	assert.Equal(t, out, id)
}

func TestListenersFireOnChanges(t *testing.T) {
	h := NewDefault()
	headset := h.AddDevice(DeviceSpec{Name: "Headset", InputChannels: 1, OutputChannels: 2})

	var fired []hal.Address
	record := func(_ hal.ObjectID, addrs []hal.Address) { fired = append(fired, addrs...) }

	defaultOut := hal.Address{Selector: hal.PropertyDefaultOutputDevice, Scope: hal.ScopeGlobal}
	devices := hal.Address{Selector: hal.PropertyDevices, Scope: hal.ScopeGlobal}
	alive := hal.Address{Selector: hal.PropertyDeviceIsAlive, Scope: hal.ScopeGlobal}

	_, err := h.AddListener(hal.SystemObject, defaultOut, record)
	require.NoError(t, err)
	_, err = h.AddListener(hal.SystemObject, devices, record)
	require.NoError(t, err)
	token, err := h.AddListener(headset, alive, record)
	require.NoError(t, err)

	h.SetDefaultDevice(hal.ScopeOutput, headset)
	assert.Equal(t, []hal.Address{defaultOut}, fired)

	fired = nil
	h.RemoveDevice(headset)
	assert.Equal(t, []hal.Address{alive, devices, defaultOut}, fired)

	isAlive, err := h.IsAlive(headset)
	require.NoError(t, err)
	assert.False(t, isAlive)

	require.NoError(t, h.RemoveListener(token))
	assert.Error(t, h.RemoveListener(token))
	assert.Equal(t, 2, h.Stats().Listeners)
}

func TestFailNextQueuesErrors(t *testing.T) {
	h := NewDefault()
	h.FailNext("Devices", hal.StatusUnspecified)

	_, err := h.Devices()
	require.ErrorIs(t, err, hal.StatusUnspecified)
	_, err = h.Devices()
	assert.NoError(t, err)
}

func TestAggregateLifecycle(t *testing.T) {
	h := New()
	a1 := h.AddDevice(DeviceSpec{UID: "a1", InputChannels: 1})
	h.AddDevice(DeviceSpec{UID: "a2", InputChannels: 1})
	h.AddDevice(DeviceSpec{UID: "b", OutputChannels: 2, SampleRate: 44100})

	plugin, err := h.PluginForBundleID(CoreAudioBundleID)
	require.NoError(t, err)
	_, err = h.PluginForBundleID("com.example.nope")
	require.Error(t, err)

	agg, err := h.CreateAggregate(plugin, hal.AggregateDescription{Name: "agg", UID: "agg-uid", Private: true})
	require.NoError(t, err)
	class, err := h.Class(agg)
	require.NoError(t, err)
	assert.Equal(t, hal.ClassAggregateDevice, class)
	assert.True(t, h.IsPrivate(agg))

	require.NoError(t, h.SetSubDeviceList(agg, []string{"b", "a1", "a2"}))
	members, err := h.ActiveSubDevices(agg)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, a1, members[1])

	rate, err := h.NominalSampleRate(agg)
	require.NoError(t, err)
	assert.InDelta(t, 44100.0, rate, 0)

	in, err := h.ChannelCount(agg, hal.ScopeInput)
	require.NoError(t, err)
	assert.Equal(t, 2, in)

	owned, err := h.OwnedSubDevices(agg)
	require.NoError(t, err)
	require.Len(t, owned, 3)
	assert.Equal(t, "b", h.SubDeviceUID(owned[0]))
	require.NoError(t, h.SetMasterSubDevice(agg, "b"))
	assert.Equal(t, "b", h.MasterSubDevice(agg))
	require.NoError(t, h.SetDriftCompensation(owned[2], true))
	drift, err := h.DriftCompensation(owned[2])
	require.NoError(t, err)
	assert.True(t, drift)

	_, err = h.ActiveSubDevices(a1)
	require.ErrorIs(t, err, hal.StatusUnknownProperty)

	require.NoError(t, h.DestroyAggregate(plugin, agg))
	assert.Error(t, h.DestroyAggregate(plugin, agg))
	stats := h.Stats()
	assert.Equal(t, 1, stats.AggregatesCreated)
	assert.Equal(t, 1, stats.AggregatesDestroyed)
}

func configuredUnit(t *testing.T, h *Hardware, dev hal.ObjectID, input bool) *Unit {
	t.Helper()
	unit, err := h.NewUnit()
	require.NoError(t, err)
	u := unit.(*Unit)
	scope := hal.ScopeOutput
	if input {
		scope = hal.ScopeInput
		require.NoError(t, u.EnableIO(hal.ScopeInput, true))
		require.NoError(t, u.EnableIO(hal.ScopeOutput, false))
	}
	require.NoError(t, u.SetCurrentDevice(dev))
	require.NoError(t, u.SetStreamFormat(scope, hal.StreamFormat{SampleRate: 48000, Format: pcm.F32LE, Channels: 1}))
	return u
}

func TestBufferFrameSizeNotifiesUnitsOnDevice(t *testing.T) {
	h := NewDefault()
	out, _ := h.DefaultDevice(hal.ScopeOutput)
	a := configuredUnit(t, h, out, false)
	b := configuredUnit(t, h, out, false)

	calls := 0
	token, err := b.AddPropertyListener(hal.PropertyBufferFrameSize, func() { calls++ })
	require.NoError(t, err)

	require.NoError(t, a.SetBufferFrameSize(256))
	assert.Equal(t, 1, calls)
	size, err := b.BufferFrameSize()
	require.NoError(t, err)
	assert.Equal(t, uint32(256), size)

	assert.Error(t, a.SetBufferFrameSize(1<<20))
	require.NoError(t, b.RemovePropertyListener(token))
}

func TestRunCycleCapturesAndRenders(t *testing.T) {
	h := NewDefault()
	in, _ := h.DefaultDevice(hal.ScopeInput)
	out, _ := h.DefaultDevice(hal.ScopeOutput)
	h.SetInput(func(_ hal.ObjectID, frame int64, _ int) float32 { return float32(frame) / 100 })

	mic := configuredUnit(t, h, in, true)
	var captured []byte
	require.NoError(t, mic.SetInputCallback(func(frames int) hal.Status {
		buf := make([]byte, frames*4)
		st := mic.Render(frames, buf)
		captured = append(captured, buf...)
		return st
	}))
	spk := configuredUnit(t, h, out, false)
	require.NoError(t, spk.SetRenderCallback(func(buf []byte, frames int) hal.Status {
		for i := range frames {
			pcm.PutFloat32(buf, i, 0.5)
		}
		return hal.StatusOK
	}))

	for _, u := range []*Unit{mic, spk} {
		require.NoError(t, u.Initialize())
		require.NoError(t, u.Start())
	}
	h.RunCycle(4)
	h.RunCycle(4)

	require.Len(t, captured, 32)
	assert.InDelta(t, 0.07, pcm.Float32At(captured, 7), 1e-6)

	last, rendered := h.LastOutput(out)
	assert.Equal(t, int64(8), rendered)
	assert.InDelta(t, 0.5, pcm.Float32At(last, 3), 0)

	h.SetRenderStatus(in, hal.StatusCannotDoInCurrentContext, 1)
	var status hal.Status
	require.NoError(t, mic.SetInputCallback(func(frames int) hal.Status {
		status = mic.Render(frames, make([]byte, frames*4))
		return status
	}))
	h.RunInput(4)
	assert.Equal(t, hal.StatusCannotDoInCurrentContext, status)

	require.NoError(t, mic.Stop())
	require.NoError(t, mic.Dispose())
	assert.Error(t, mic.Dispose())
	assert.Equal(t, 1, h.Stats().UnitsDisposed)
}
