package coreaudio

import (
	"fmt"
	"time"

	"github.com/tphakala/go-cubeb/internal/coreaudio/aggregate"
	"github.com/tphakala/go-cubeb/internal/coreaudio/buffer"
	"github.com/tphakala/go-cubeb/internal/coreaudio/dump"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/mixer"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
	"github.com/tphakala/go-cubeb/internal/coreaudio/resampler"
	"github.com/tphakala/go-cubeb/internal/errors"
)

// Input buffer capacity in multiples of the negotiated latency. Duplex input
// may arrive in bursts of several callbacks before output catches up.
const (
	duplexBufferPeriods    = 8
	inputOnlyBufferPeriods = 1
)

// setupWithFallback runs setup and, for a duplex stream on a non-default
// input, retries once with the default input device.
func (s *Stream) setupWithFallback() error {
	err := s.setup()
	if err == nil || !s.duplex() || s.inputDevice.Direction.SystemDefault() {
		return err
	}
	s.logger.Warn("duplex setup failed, retrying with the default input device",
		"input_device", uint32(s.inputDevice.ID),
		"error", err)
	info, resolveErr := s.ctx.resolveDevice(hal.Unknown, hal.ScopeInput)
	if resolveErr != nil {
		return err
	}
	s.inputDevice = info
	s.publishDevices()
	return s.setup()
}

// setup configures everything the stream needs to run. On failure all that
// was configured is torn down again. Caller holds Context.mu and Stream.mu.
func (s *Stream) setup() error {
	s.ctx.mu.AssertCurrentOwner()
	start := time.Now()

	if err := s.configure(); err != nil {
		s.close()
		return err
	}

	kind := "output"
	switch {
	case s.duplex():
		kind = "duplex"
	case s.hasInput():
		kind = "input"
	}
	s.ctx.metrics.setupDuration(kind, time.Since(start))
	return nil
}

func (s *Stream) configure() error {
	inputID, outputID := s.inputDevice.ID, s.outputDevice.ID
	if s.duplex() && inputID != outputID && s.ctx.settings.Aggregate.Enabled {
		if id, ok := s.createAggregate(); ok {
			inputID, outputID = id, id
		}
	}

	if err := s.createUnits(inputID, outputID); err != nil {
		return err
	}
	if s.hasInput() {
		if err := s.configureInput(inputID); err != nil {
			return err
		}
	}
	if s.hasOutput() {
		if err := s.configureOutput(outputID); err != nil {
			return err
		}
	}

	latency := s.negotiateLatency()
	s.negotiated.Store(latency)
	if err := s.applyBufferFrameSize(latency); err != nil {
		return err
	}

	if s.hasInput() {
		periods := inputOnlyBufferPeriods
		if s.duplex() {
			periods = duplexBufferPeriods
		}
		s.inputBuffer = buffer.New(s.inputParams.Format, s.inputParams.Channels, int(latency)*periods)
		s.inputScratch = make([]byte, int(latency)*s.inputHWChannels*s.inputParams.Format.BytesPerSample())
	}
	if s.mixer != nil {
		s.mixer.UpdateBufferSize(int(latency))
	}
	if err := s.createResampler(); err != nil {
		return err
	}
	if err := s.openDumps(); err != nil {
		s.logger.Warn("audio dump disabled", "error", err)
	}

	for _, u := range s.units() {
		if err := u.Initialize(); err != nil {
			return unitError("initialize", hal.ScopeGlobal, err)
		}
	}

	s.installListeners()
	s.publishDevices()
	return nil
}

// createAggregate builds an aggregate device for the duplex pair. Failure is
// not fatal, the stream then drives two units.
func (s *Stream) createAggregate() (hal.ObjectID, bool) {
	opts := aggregate.OptionsFromSettings(&s.ctx.settings)
	opts.Quirks = s.ctx.quirks
	opts.Logger = s.logger
	d, err := aggregate.New(s.ctx.hw, s.inputDevice.ID, s.outputDevice.ID, opts)
	if err != nil {
		s.ctx.metrics.aggregateDevice("failed")
		s.logger.Warn("aggregate device creation failed, using separate units",
			"input_device", uint32(s.inputDevice.ID),
			"output_device", uint32(s.outputDevice.ID),
			"error", err)
		return hal.Unknown, false
	}
	s.ctx.metrics.aggregateDevice("created")
	s.aggregate = d
	return d.ID(), true
}

// createUnits creates one unit per side, or a single unit serving both when
// the sides share a device.
func (s *Stream) createUnits(inputID, outputID hal.ObjectID) error {
	if s.hasInput() {
		u, err := s.newUnit(inputID, hal.ScopeInput)
		if err != nil {
			return err
		}
		s.inputUnit = u
	}
	if !s.hasOutput() {
		return nil
	}
	if s.inputUnit != nil && inputID == outputID {
		if err := s.inputUnit.EnableIO(hal.ScopeOutput, true); err != nil {
			return unitError("enable output", hal.ScopeOutput, err)
		}
		s.outputUnit = s.inputUnit
		return nil
	}
	u, err := s.newUnit(outputID, hal.ScopeOutput)
	if err != nil {
		return err
	}
	s.outputUnit = u
	return nil
}

func (s *Stream) newUnit(device hal.ObjectID, scope hal.Scope) (hal.Unit, error) {
	u, err := s.ctx.hw.NewUnit()
	if err != nil {
		return nil, unitError("create unit", scope, err)
	}
	if scope == hal.ScopeInput {
		if err := u.EnableIO(hal.ScopeInput, true); err != nil {
			_ = u.Dispose()
			return nil, unitError("enable input", scope, err)
		}
		if err := u.EnableIO(hal.ScopeOutput, false); err != nil {
			_ = u.Dispose()
			return nil, unitError("disable output", scope, err)
		}
	}
	if err := u.SetCurrentDevice(device); err != nil {
		_ = u.Dispose()
		return nil, errors.New(ErrDeviceUnavailable).
			Component(component).
			Context("operation", "set current device").
			Context("cause", err.Error()).
			DeviceContext(uint32(device), scope.String()).
			Build()
	}
	return u, nil
}

// configureInput sets the client format to the hardware rate and channel
// count in the stream sample format. Rate conversion happens in the resampler.
func (s *Stream) configureInput(device hal.ObjectID) error {
	hw, err := s.inputUnit.HardwareFormat(hal.ScopeInput)
	if err != nil {
		return unitError("get input hardware format", hal.ScopeInput, err)
	}
	if hw.Channels <= 0 || hw.SampleRate <= 0 {
		return errors.New(ErrDeviceUnavailable).
			Component(component).
			Context("operation", "get input hardware format").
			DeviceContext(uint32(device), hal.ScopeInput.String()).
			Build()
	}
	s.inputHWRate = hw.SampleRate
	s.inputHWChannels = hw.Channels

	client := hal.StreamFormat{SampleRate: hw.SampleRate, Format: s.inputParams.Format, Channels: hw.Channels}
	if err := s.inputUnit.SetStreamFormat(hal.ScopeInput, client); err != nil {
		return unitError("set input stream format", hal.ScopeInput, err)
	}
	if err := s.inputUnit.SetInputCallback(s.inputCallback); err != nil {
		return unitError("set input callback", hal.ScopeInput, err)
	}
	s.logger.Debug("input configured",
		"device_id", uint32(device),
		"hw_rate", hw.SampleRate,
		"hw_channels", hw.Channels,
		"stream_channels", s.inputParams.Channels)
	return nil
}

// configureOutput sets the client format to the stream rate. A mixer is added
// when the stream channels or layout differ from the device, in which case
// the unit exchanges the device channel count.
func (s *Stream) configureOutput(device hal.ObjectID) error {
	hw, err := s.outputUnit.HardwareFormat(hal.ScopeOutput)
	if err != nil {
		return unitError("get output hardware format", hal.ScopeOutput, err)
	}
	if hw.Channels <= 0 || hw.SampleRate <= 0 {
		return errors.New(ErrDeviceUnavailable).
			Component(component).
			Context("operation", "get output hardware format").
			DeviceContext(uint32(device), hal.ScopeOutput.String()).
			Build()
	}
	s.outputHWRate = hw.SampleRate
	s.outputHWChannels = hw.Channels

	order, layout := s.ctx.outputChannelOrder(device, hw.Channels)
	s.ctx.outputChannels = hw.Channels
	s.ctx.outputLayout = layout

	clientChannels := s.outputParams.Channels
	needsMixer := s.outputParams.Channels != hw.Channels ||
		(s.outputParams.Layout != pcm.LayoutUndefined && layout != pcm.LayoutUndefined && s.outputParams.Layout != layout)
	if needsMixer {
		m, err := mixer.New(s.outputParams.Format, s.outputParams.Channels, s.outputParams.Layout, hw.Channels, order)
		if err != nil {
			return err
		}
		s.mixer = m
		clientChannels = hw.Channels
	}

	client := hal.StreamFormat{
		SampleRate: float64(s.outputParams.Rate),
		Format:     s.outputParams.Format,
		Channels:   clientChannels,
	}
	if err := s.outputUnit.SetStreamFormat(hal.ScopeOutput, client); err != nil {
		return unitError("set output stream format", hal.ScopeOutput, err)
	}
	if err := s.outputUnit.SetRenderCallback(s.outputCallback); err != nil {
		return unitError("set render callback", hal.ScopeOutput, err)
	}
	s.logger.Debug("output configured",
		"device_id", uint32(device),
		"hw_rate", hw.SampleRate,
		"hw_channels", hw.Channels,
		"stream_channels", s.outputParams.Channels,
		"mixer", needsMixer)
	return nil
}

// negotiateLatency clamps the requested latency. The only active stream
// sets the shared latency, also when it is rebuilt after a device change.
// Other streams are further limited by the current buffer sizes of their
// units and by the shared latency.
func (s *Stream) negotiateLatency() uint32 {
	c := s.ctx
	latency := c.clampLatency(s.latencyFrames)
	others := c.activeStreams
	if s.counted {
		others--
	}
	if others == 0 || c.globalLatencyFrames == 0 {
		c.globalLatencyFrames = latency
		return latency
	}

	ceiling := c.maxLatency()
	for _, side := range []struct {
		unit  hal.Unit
		scope hal.Scope
	}{{s.outputUnit, hal.ScopeOutput}, {s.inputUnit, hal.ScopeInput}} {
		size := c.maxLatency()
		if side.unit != nil {
			if v, err := side.unit.BufferFrameSize(); err == nil {
				size = c.clampLatency(v)
			} else {
				s.logger.Debug("buffer frame size unavailable, using the maximum",
					"scope", side.scope.String(),
					"error", err)
			}
		}
		ceiling = min(ceiling, size)
	}
	ceiling = min(ceiling, c.globalLatencyFrames)
	return max(min(latency, ceiling), c.minLatency())
}

// applyBufferFrameSize sets the buffer size of every unit and waits for the
// hardware to confirm it through the unit property listener.
func (s *Stream) applyBufferFrameSize(frames uint32) error {
	for _, side := range []struct {
		unit  hal.Unit
		scope hal.Scope
	}{{s.outputUnit, hal.ScopeOutput}, {s.inputUnit, hal.ScopeInput}} {
		if side.unit == nil || (side.scope == hal.ScopeInput && side.unit == s.outputUnit) {
			continue
		}
		if err := s.setBufferFrameSize(side.unit, side.scope, frames); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) setBufferFrameSize(unit hal.Unit, scope hal.Scope, frames uint32) error {
	if current, err := unit.BufferFrameSize(); err == nil && current == frames {
		return nil
	}

	s.bufferSizeChangeState.Store(false)
	token, err := unit.AddPropertyListener(hal.PropertyBufferFrameSize, func() {
		s.bufferSizeChangeState.Store(true)
	})
	if err != nil {
		return unitError("add buffer size listener", scope, err)
	}
	defer func() {
		if err := unit.RemovePropertyListener(token); err != nil {
			s.logger.Debug("failed to remove buffer size listener", "error", err)
		}
	}()

	if err := unit.SetBufferFrameSize(frames); err != nil {
		return unitError(fmt.Sprintf("set buffer frame size %d", frames), scope, err)
	}

	polls := s.ctx.settings.BufferSizeChange.Polls
	interval := s.ctx.settings.BufferSizeChange.Interval
	for range polls {
		if s.bufferSizeChangeState.Load() {
			return nil
		}
		time.Sleep(interval)
	}
	if s.bufferSizeChangeState.Load() {
		return nil
	}
	return errors.New(ErrBufferSizeTimeout).
		Component(component).
		Context("scope", scope.String()).
		Context("frames", frames).
		Context("timeout", (time.Duration(polls) * interval).String()).
		Build()
}

// createResampler converts from the hardware input rate to the stream rate.
// Output is always produced at the stream rate.
func (s *Stream) createResampler() error {
	cfg := resampler.Config{Output: s.outputParams, Callback: s.resamplerCallback}
	if s.hasInput() {
		in := *s.inputParams
		in.Rate = uint32(s.inputHWRate)
		cfg.Input = &in
		cfg.TargetRate = s.inputParams.Rate
	} else {
		cfg.TargetRate = s.outputParams.Rate
	}
	r, err := resampler.New(cfg)
	if err != nil {
		return err
	}
	s.resampler = r
	return nil
}

// openDumps starts the WAV taps when enabled.
func (s *Stream) openDumps() error {
	if !s.ctx.dumpCfg.Enabled {
		return nil
	}
	prefix := s.id.String()[:8]
	if s.hasInput() {
		w, err := dump.New(s.ctx.dumpCfg.Dir, prefix+"-input", s.inputParams.Format, s.inputParams.Rate, s.inputParams.Channels)
		if err != nil {
			return err
		}
		s.inputDump = w
	}
	if s.hasOutput() {
		w, err := dump.New(s.ctx.dumpCfg.Dir, prefix+"-output", s.outputParams.Format, s.outputParams.Rate, s.outputParams.Channels)
		if err != nil {
			return err
		}
		s.outputDump = w
	}
	return nil
}

// units returns the distinct units of the stream.
func (s *Stream) units() []hal.Unit {
	var units []hal.Unit
	if s.inputUnit != nil {
		units = append(units, s.inputUnit)
	}
	if s.outputUnit != nil && s.outputUnit != s.inputUnit {
		units = append(units, s.outputUnit)
	}
	return units
}

func (s *Stream) startUnits() error {
	for _, u := range s.units() {
		if err := u.Start(); err != nil {
			return unitError("start", hal.ScopeGlobal, err)
		}
	}
	return nil
}

func (s *Stream) stopUnits() {
	for _, u := range s.units() {
		if err := u.Stop(); err != nil {
			s.logger.Warn("failed to stop audio unit", "error", err)
		}
	}
}

// close releases units, listeners, the aggregate device and the buffers.
// Caller holds Stream.mu.
func (s *Stream) close() {
	s.uninstallListeners()
	for _, u := range s.units() {
		if err := u.Stop(); err != nil {
			s.logger.Debug("failed to stop audio unit", "error", err)
		}
		if err := u.Dispose(); err != nil {
			s.logger.Warn("failed to dispose audio unit", "error", err)
		}
	}
	s.inputUnit, s.outputUnit = nil, nil

	if s.aggregate != nil {
		if err := s.aggregate.Destroy(); err != nil {
			s.ctx.metrics.aggregateDevice("destroy_failed")
			s.logger.Warn("failed to destroy aggregate device", "error", err)
		} else {
			s.ctx.metrics.aggregateDevice("destroyed")
		}
		s.aggregate = nil
	}

	if s.inputBuffer != nil {
		s.metrics.overflow(s.inputBuffer.Dropped())
	}
	s.inputBuffer = nil
	s.resampler = nil
	s.mixer = nil
	for _, w := range []*dump.Writer{s.inputDump, s.outputDump} {
		if err := w.Close(); err != nil {
			s.logger.Warn("failed to close audio dump", "path", w.Path(), "error", err)
		}
	}
	s.inputDump, s.outputDump = nil, nil
}
