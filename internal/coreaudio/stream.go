package coreaudio

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/go-cubeb/internal/coreaudio/aggregate"
	"github.com/tphakala/go-cubeb/internal/coreaudio/buffer"
	"github.com/tphakala/go-cubeb/internal/coreaudio/dump"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/mixer"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
	"github.com/tphakala/go-cubeb/internal/coreaudio/resampler"
	"github.com/tphakala/go-cubeb/internal/errors"
)

// deviceSnapshot is the device configuration published for lock free readers.
type deviceSnapshot struct {
	input, output DeviceInfo
}

// Stream is one realtime audio session.
type Stream struct {
	id     uuid.UUID
	name   string
	ctx    *Context
	logger *slog.Logger

	dataCallback  DataCallback
	stateCallback StateCallback

	deviceChangedMu sync.Mutex
	deviceChanged   DeviceChangedCallback

	// Stream side parameters with little-endian formats, nil when the side is
	// unused. Fixed for the stream's life.
	inputParams  *pcm.Params
	outputParams *pcm.Params

	mu sync.Mutex // taken after Context.mu

	// Guarded by mu and replaced only while the units are stopped.
	inputDevice      DeviceInfo
	outputDevice     DeviceInfo
	inputUnit        hal.Unit
	outputUnit       hal.Unit
	aggregate        *aggregate.Device
	inputHWRate      float64
	outputHWRate     float64
	inputHWChannels  int
	outputHWChannels int
	inputBuffer      *buffer.Manager
	inputScratch     []byte
	resampler        resampler.Resampler
	mixer            *mixer.Mixer
	listeners        listenerSet
	inputDump        *dump.Writer
	outputDump       *dump.Writer

	devices atomic.Pointer[deviceSnapshot]

	latencyFrames uint32 // requested
	negotiated    atomic.Uint32
	counted       bool // in Context.activeStreams, guarded by Context.mu

	framesRead    atomic.Int64
	framesWritten atomic.Int64
	framesPlayed  atomic.Int64
	framesQueued  atomic.Int64

	shutdown              atomic.Bool
	draining              atomic.Bool
	drained               atomic.Bool
	reinitPending         atomic.Bool
	destroyPending        atomic.Bool
	switchingDevice       atomic.Bool
	bufferSizeChangeState atomic.Bool
	destroyed             atomic.Bool

	// Realtime only.
	shortCallback  bool
	dropoutLimiter *rate.Limiter
	metrics        *streamMetrics
}

// NewStream validates opts, configures audio units for the requested sides
// and returns a stopped stream.
func (c *Context) NewStream(opts StreamOptions) (*Stream, error) {
	if c.destroyed.Load() {
		return nil, errors.New(ErrInvalidParameter).
			Component(component).
			Context("operation", "init stream").
			Context("reason", "context destroyed").
			Build()
	}
	if err := validateOptions(&opts); err != nil {
		return nil, err
	}

	s := &Stream{
		id:             uuid.New(),
		name:           opts.Name,
		ctx:            c,
		dataCallback:   opts.DataCallback,
		stateCallback:  opts.StateCallback,
		inputParams:    nativeParams(opts.Input),
		outputParams:   nativeParams(opts.Output),
		latencyFrames:  opts.LatencyFrames,
		dropoutLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		metrics:        c.metrics.bindStream(),
	}
	s.logger = c.logger.With("component", "stream", "stream", s.id.String())
	s.shutdown.Store(true)
	s.devices.Store(&deviceSnapshot{})

	c.register(s)

	c.mu.Lock()
	s.mu.Lock()
	err := s.initDevices(opts.InputDevice, opts.OutputDevice)
	if err == nil {
		err = s.setupWithFallback()
	}
	if err == nil {
		c.addStreamLocked()
		s.counted = true
	}
	s.mu.Unlock()
	c.mu.Unlock()

	if err != nil {
		c.unregister(s.id)
		s.logger.Error("stream init failed", "error", err)
		return nil, err
	}

	s.logger.Info("stream initialized",
		"name", s.name,
		"input", s.inputParams != nil,
		"output", s.outputParams != nil,
		"latency_frames", s.negotiated.Load())
	return s, nil
}

func nativeParams(p *pcm.Params) *pcm.Params {
	if p == nil {
		return nil
	}
	n := *p
	n.Format = p.Format.Native()
	return &n
}

func validateOptions(opts *StreamOptions) error {
	if opts.Input == nil && opts.Output == nil {
		return errors.New(ErrInvalidParameter).
			Component(component).
			Context("reason", "stream has neither input nor output").
			Build()
	}
	if opts.DataCallback == nil || opts.StateCallback == nil {
		return errors.New(ErrInvalidParameter).
			Component(component).
			Context("reason", "missing callback").
			Build()
	}
	for _, side := range []struct {
		name   string
		params *pcm.Params
	}{{"input", opts.Input}, {"output", opts.Output}} {
		if err := validateParams(side.name, side.params); err != nil {
			return err
		}
	}
	if opts.Input != nil && opts.Output != nil && opts.Input.Rate != opts.Output.Rate {
		return errors.New(ErrInvalidParameter).
			Component(component).
			Context("reason", "duplex rates differ").
			Context("input_rate", opts.Input.Rate).
			Context("output_rate", opts.Output.Rate).
			Build()
	}
	return nil
}

func validateParams(side string, p *pcm.Params) error {
	if p == nil {
		return nil
	}
	if p.Prefs&pcm.PrefLoopback != 0 {
		return errors.New(ErrNotSupported).
			Component(component).
			Context("side", side).
			Context("reason", "loopback streams").
			Build()
	}
	if !p.Format.Valid() {
		return errors.New(ErrInvalidFormat).
			Component(component).
			Context("side", side).
			Context("format", int(p.Format)).
			Build()
	}
	if p.Rate < MinSampleRate || p.Rate > MaxSampleRate || p.Channels < 1 || p.Channels > MaxChannels {
		return errors.New(ErrInvalidParameter).
			Component(component).
			Context("side", side).
			Context("rate", p.Rate).
			Context("channels", p.Channels).
			Build()
	}
	if p.Layout != pcm.LayoutUndefined && mixer.ChannelLayoutChannels(p.Layout) != p.Channels {
		return errors.New(ErrInvalidParameter).
			Component(component).
			Context("side", side).
			Context("reason", "layout does not match channel count").
			Build()
	}
	return nil
}

// initDevices resolves the requested devices. Caller holds both locks.
func (s *Stream) initDevices(input, output hal.ObjectID) error {
	if s.inputParams != nil {
		info, err := s.ctx.resolveDevice(input, hal.ScopeInput)
		if err != nil {
			return err
		}
		s.inputDevice = info
	}
	if s.outputParams != nil {
		info, err := s.ctx.resolveDevice(output, hal.ScopeOutput)
		if err != nil {
			return err
		}
		s.outputDevice = info
	}
	s.publishDevices()
	return nil
}

func (s *Stream) publishDevices() {
	s.devices.Store(&deviceSnapshot{input: s.inputDevice, output: s.outputDevice})
}

// ID returns the stream id.
func (s *Stream) ID() uuid.UUID { return s.id }

// Name returns the name given at creation.
func (s *Stream) Name() string { return s.name }

func (s *Stream) hasInput() bool  { return s.inputParams != nil }
func (s *Stream) hasOutput() bool { return s.outputParams != nil }
func (s *Stream) duplex() bool    { return s.hasInput() && s.hasOutput() }

// Start starts the audio units and reports StateStarted.
func (s *Stream) Start() error {
	s.ctx.mu.Lock()
	s.mu.Lock()
	s.shutdown.Store(false)
	s.draining.Store(false)
	s.drained.Store(false)
	err := s.startUnits()
	s.mu.Unlock()
	s.ctx.mu.Unlock()
	if err != nil {
		return err
	}
	s.notifyState(StateStarted)
	s.logger.Debug("stream started")
	return nil
}

// Stop stops the audio units and reports StateStopped.
func (s *Stream) Stop() error {
	s.ctx.mu.Lock()
	s.mu.Lock()
	s.shutdown.Store(true)
	s.stopUnits()
	s.mu.Unlock()
	s.ctx.mu.Unlock()
	s.notifyState(StateStopped)
	s.logger.Debug("stream stopped")
	return nil
}

// Destroy stops the stream and releases its hardware resources. Teardown runs
// on the serial queue so it cannot interleave with a pending reinit. Calling
// Destroy again is a no-op.
func (s *Stream) Destroy() {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	c := s.ctx

	c.mu.Lock()
	s.mu.Lock()
	s.shutdown.Store(true)
	s.stopUnits()
	s.destroyPending.Store(true)
	s.mu.Unlock()
	c.mu.Unlock()

	teardown := func() {
		c.mu.Lock()
		s.mu.Lock()
		s.close()
		c.removeStreamLocked()
		s.counted = false
		s.mu.Unlock()
		c.mu.Unlock()
		c.unregister(s.id)
	}
	if err := c.queue.RunSync(teardown); err != nil {
		s.logger.Debug("serial queue closed, tearing down inline", "error", err)
		teardown()
	}
	s.logger.Info("stream destroyed")
}

// Position returns the number of frames played.
func (s *Stream) Position() uint64 {
	return uint64(max(s.framesPlayed.Load(), 0))
}

// LatencyFrames returns the negotiated buffer size in frames.
func (s *Stream) LatencyFrames() uint32 {
	return s.negotiated.Load()
}

// Latency returns the output presentation latency in frames: audio unit,
// device and stream latency. Input-only streams are not supported.
func (s *Stream) Latency() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasOutput() || s.outputUnit == nil {
		return 0, errors.New(ErrNotSupported).
			Component(component).
			Context("operation", "output latency").
			Build()
	}
	return s.sideLatency(s.outputUnit, s.outputDevice.ID, hal.ScopeOutput, s.outputHWRate)
}

// InputLatency returns the capture latency in frames.
func (s *Stream) InputLatency() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasInput() || s.inputUnit == nil {
		return 0, errors.New(ErrNotSupported).
			Component(component).
			Context("operation", "input latency").
			Build()
	}
	return s.sideLatency(s.inputUnit, s.inputDevice.ID, hal.ScopeInput, s.inputHWRate)
}

func (s *Stream) sideLatency(unit hal.Unit, device hal.ObjectID, scope hal.Scope, hwRate float64) (uint32, error) {
	seconds, err := unit.Latency()
	if err != nil {
		return 0, unitError("get unit latency", scope, err)
	}
	frames := uint32(math.Round(seconds * hwRate))
	if l, err := s.ctx.hw.Latency(device, scope); err == nil {
		frames += l
	}
	if l, err := s.ctx.hw.StreamLatency(device, scope); err == nil {
		frames += l
	}
	return frames, nil
}

// SetVolume sets the output unit volume in [0, 1].
func (s *Stream) SetVolume(volume float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outputUnit == nil {
		return errors.New(ErrNotSupported).
			Component(component).
			Context("operation", "set volume").
			Build()
	}
	if err := s.outputUnit.SetVolume(volume); err != nil {
		return unitError("set volume", hal.ScopeOutput, err)
	}
	return nil
}

// Volume returns the output unit volume.
func (s *Stream) Volume() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outputUnit == nil {
		return 0, errors.New(ErrNotSupported).
			Component(component).
			Context("operation", "get volume").
			Build()
	}
	v, err := s.outputUnit.Volume()
	if err != nil {
		return 0, unitError("get volume", hal.ScopeOutput, err)
	}
	return v, nil
}

// CurrentDevice returns the data source names of the devices in use. Names
// that can not be read are left empty.
func (s *Stream) CurrentDevice() StreamDevice {
	snap := s.devices.Load()
	var d StreamDevice
	if s.hasInput() {
		d.Input = s.ctx.dataSourceName(snap.input.ID, hal.ScopeInput)
	}
	if s.hasOutput() {
		d.Output = s.ctx.dataSourceName(snap.output.ID, hal.ScopeOutput)
	}
	return d
}

// Devices returns the devices the stream currently uses.
func (s *Stream) Devices() (input, output DeviceInfo) {
	snap := s.devices.Load()
	return snap.input, snap.output
}

// RegisterDeviceChangedCallback sets the callback invoked when a device used
// by the stream changes. A nil callback clears it; replacing a set callback
// fails with ErrAlreadyRegistered.
func (s *Stream) RegisterDeviceChangedCallback(cb DeviceChangedCallback) error {
	s.deviceChangedMu.Lock()
	defer s.deviceChangedMu.Unlock()
	if cb != nil && s.deviceChanged != nil {
		return errors.New(ErrAlreadyRegistered).
			Component(component).
			Context("operation", "register device changed callback").
			Build()
	}
	s.deviceChanged = cb
	return nil
}

// ResetDefaultDevice is not supported; default changes are followed
// automatically.
func (s *Stream) ResetDefaultDevice() error {
	return ErrNotSupported
}

func (s *Stream) notifyState(state State) {
	s.ctx.metrics.stateTransition(state)
	s.stateCallback(s, state)
}

func (s *Stream) notifyDeviceChanged() {
	s.deviceChangedMu.Lock()
	defer s.deviceChangedMu.Unlock()
	if s.deviceChanged != nil {
		s.deviceChanged()
	}
}
