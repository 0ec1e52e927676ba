package malgohal

import (
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

// Unit is a hal.Unit backed by one miniaudio device. Enabling both scopes
// opens a duplex device whose input and output share a clock.
type Unit struct {
	hw *Hardware

	mu          sync.Mutex
	input       bool
	output      bool
	device      hal.ObjectID
	formats     map[hal.Scope]hal.StreamFormat
	bufferSize  uint32
	inputProc   hal.InputProc
	renderProc  hal.RenderProc
	listeners   map[hal.ListenerToken]func()
	nextToken   hal.ListenerToken
	dev         *malgo.Device
	initialized bool
	disposed    bool

	volume     atomic.Uint32 // float32 bits
	running    atomic.Bool
	inCallback atomic.Bool
	pending    []byte
}

var _ hal.Unit = (*Unit)(nil)

func newUnit(h *Hardware) *Unit {
	u := &Unit{
		hw:         h,
		output:     true,
		formats:    make(map[hal.Scope]hal.StreamFormat),
		bufferSize: 512,
		listeners:  make(map[hal.ListenerToken]func()),
	}
	u.volume.Store(float32bits(1))
	return u
}

func (u *Unit) configurable() error {
	if u.disposed {
		return hal.StatusBadObject
	}
	if u.initialized {
		return hal.StatusIllegalOperation
	}
	return nil
}

// EnableIO implements hal.Unit.
func (u *Unit) EnableIO(scope hal.Scope, enable bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.configurable(); err != nil {
		return err
	}
	switch scope {
	case hal.ScopeInput:
		u.input = enable
	case hal.ScopeOutput:
		u.output = enable
	default:
		return hal.StatusInvalidParameter
	}
	return nil
}

// SetCurrentDevice implements hal.Unit.
func (u *Unit) SetCurrentDevice(id hal.ObjectID) error {
	if alive, err := u.hw.IsAlive(id); err != nil || !alive {
		return hal.StatusBadObject
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.configurable(); err != nil {
		return err
	}
	u.device = id
	return nil
}

// HardwareFormat implements hal.Unit. miniaudio hands out float samples
// when asked, so the hardware side is always F32LE.
func (u *Unit) HardwareFormat(scope hal.Scope) (hal.StreamFormat, error) {
	u.mu.Lock()
	id := u.device
	u.mu.Unlock()
	rate, err := u.hw.NominalSampleRate(id)
	if err != nil {
		return hal.StreamFormat{}, err
	}
	channels, err := u.hw.ChannelCount(id, scope)
	if err != nil {
		return hal.StreamFormat{}, err
	}
	return hal.StreamFormat{SampleRate: rate, Format: pcm.F32LE, Channels: channels}, nil
}

// SetStreamFormat implements hal.Unit.
func (u *Unit) SetStreamFormat(scope hal.Scope, format hal.StreamFormat) error {
	if format.Channels <= 0 || format.SampleRate <= 0 || !format.Format.Valid() {
		return hal.StatusInvalidParameter
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.configurable(); err != nil {
		return err
	}
	u.formats[scope] = format
	return nil
}

// BufferFrameSize implements hal.Unit.
func (u *Unit) BufferFrameSize() (uint32, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bufferSize, nil
}

// SetBufferFrameSize implements hal.Unit. The size becomes the miniaudio
// period and takes effect on Initialize.
func (u *Unit) SetBufferFrameSize(frames uint32) error {
	if frames < minBufferFrames || frames > maxBufferFrames {
		return hal.StatusInvalidParameter
	}
	u.mu.Lock()
	if err := u.configurable(); err != nil {
		u.mu.Unlock()
		return err
	}
	u.bufferSize = frames
	fns := make([]func(), 0, len(u.listeners))
	for _, fn := range u.listeners {
		fns = append(fns, fn)
	}
	u.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

// AddPropertyListener implements hal.Unit. Only the buffer frame size
// property ever changes.
func (u *Unit) AddPropertyListener(sel hal.Selector, fn func()) (hal.ListenerToken, error) {
	if sel != hal.PropertyBufferFrameSize {
		return 0, hal.StatusUnknownProperty
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nextToken++
	u.listeners[u.nextToken] = fn
	return u.nextToken, nil
}

// RemovePropertyListener implements hal.Unit.
func (u *Unit) RemovePropertyListener(token hal.ListenerToken) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.listeners[token]; !ok {
		return hal.StatusBadObject
	}
	delete(u.listeners, token)
	return nil
}

// SetInputCallback implements hal.Unit.
func (u *Unit) SetInputCallback(fn hal.InputProc) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.configurable(); err != nil {
		return err
	}
	u.inputProc = fn
	return nil
}

// SetRenderCallback implements hal.Unit.
func (u *Unit) SetRenderCallback(fn hal.RenderProc) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.configurable(); err != nil {
		return err
	}
	u.renderProc = fn
	return nil
}

// Render implements hal.Unit.
func (u *Unit) Render(frames int, buf []byte) hal.Status {
	n := frames * u.formats[hal.ScopeInput].FrameSize()
	if n > len(buf) || n > len(u.pending) {
		return hal.StatusInvalidParameter
	}
	copy(buf, u.pending[:n])
	if u.formats[hal.ScopeInput].Format == pcm.S16BE || u.formats[hal.ScopeInput].Format == pcm.F32BE {
		swapEndian(buf[:n], u.formats[hal.ScopeInput].Format.BytesPerSample())
	}
	return hal.StatusOK
}

// Latency implements hal.Unit.
func (u *Unit) Latency() (float64, error) {
	return 0, nil
}

// Volume implements hal.Unit.
func (u *Unit) Volume() (float32, error) {
	return float32frombits(u.volume.Load()), nil
}

// SetVolume implements hal.Unit. The gain is applied in software on the
// render path.
func (u *Unit) SetVolume(volume float32) error {
	if volume < 0 || volume > 1 {
		return hal.StatusInvalidParameter
	}
	u.volume.Store(float32bits(volume))
	return nil
}

// Initialize implements hal.Unit.
func (u *Unit) Initialize() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.configurable(); err != nil {
		return err
	}
	if u.device == hal.Unknown || (!u.input && !u.output) {
		return hal.StatusIllegalOperation
	}

	u.hw.mu.Lock()
	d, err := u.hw.deviceLocked(u.device)
	var capture, playback *malgo.DeviceID
	if err == nil {
		capture, playback = d.capture, d.playback
	}
	u.hw.mu.Unlock()
	if err != nil {
		return err
	}

	cfg, err := u.deviceConfig(capture, playback)
	if err != nil {
		return err
	}
	id := u.device
	dev, err := malgo.InitDevice(u.hw.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: u.onData,
		Stop: func() {
			if u.running.Load() {
				go u.hw.deviceLost(id)
			}
		},
	})
	if err != nil {
		u.hw.logger.Warn("failed to initialize device", "device_id", uint32(id), "error", err)
		return hal.StatusUnspecified
	}
	u.dev = dev
	u.initialized = true
	return nil
}

func (u *Unit) deviceConfig(capture, playback *malgo.DeviceID) (malgo.DeviceConfig, error) {
	var cfg malgo.DeviceConfig
	switch {
	case u.input && u.output:
		cfg = malgo.DefaultDeviceConfig(malgo.Duplex)
	case u.input:
		cfg = malgo.DefaultDeviceConfig(malgo.Capture)
	default:
		cfg = malgo.DefaultDeviceConfig(malgo.Playback)
	}
	cfg.PeriodSizeInFrames = u.bufferSize
	cfg.Alsa.NoMMap = 1

	if u.input {
		if capture == nil {
			return cfg, hal.StatusBadObject
		}
		f, ok := u.formats[hal.ScopeInput]
		if !ok {
			return cfg, hal.StatusIllegalOperation
		}
		cfg.Capture.DeviceID = capture.Pointer()
		cfg.Capture.Format = sampleFormat(f.Format)
		cfg.Capture.Channels = uint32(f.Channels)
		cfg.SampleRate = uint32(f.SampleRate)
		u.pending = make([]byte, 0, int(u.bufferSize)*f.FrameSize()*2)
	}
	if u.output {
		if playback == nil {
			return cfg, hal.StatusBadObject
		}
		f, ok := u.formats[hal.ScopeOutput]
		if !ok {
			return cfg, hal.StatusIllegalOperation
		}
		cfg.Playback.DeviceID = playback.Pointer()
		cfg.Playback.Format = sampleFormat(f.Format)
		cfg.Playback.Channels = uint32(f.Channels)
		// A duplex device runs at the output rate; miniaudio converts input.
		cfg.SampleRate = uint32(f.SampleRate)
	}
	return cfg, nil
}

// onData is the miniaudio data callback. Input is delivered before output,
// as a duplex audio unit does.
func (u *Unit) onData(out, in []byte, frames uint32) {
	u.inCallback.Store(true)
	defer u.inCallback.Store(false)

	if !u.running.Load() {
		pcm.Zero(out)
		return
	}
	if u.input && u.inputProc != nil && len(in) > 0 {
		u.pending = append(u.pending[:0], in...)
		if st := u.inputProc(int(frames)); st != hal.StatusOK {
			u.hw.logger.Debug("input callback failed", "status", st.Error())
		}
	}
	if !u.output || u.renderProc == nil || len(out) == 0 {
		return
	}
	if st := u.renderProc(out, int(frames)); st != hal.StatusOK {
		pcm.Zero(out)
		return
	}
	f := u.formats[hal.ScopeOutput]
	if v := float32frombits(u.volume.Load()); v != 1 {
		applyGain(out, f.Format.Native(), v)
	}
	if f.Format == pcm.S16BE || f.Format == pcm.F32BE {
		swapEndian(out, f.Format.BytesPerSample())
	}
}

// Start implements hal.Unit.
func (u *Unit) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.initialized || u.disposed {
		return hal.StatusNotRunning
	}
	u.running.Store(true)
	if u.dev.IsStarted() {
		return nil
	}
	if err := u.dev.Start(); err != nil {
		u.running.Store(false)
		u.hw.logger.Warn("failed to start device", "device_id", uint32(u.device), "error", err)
		return hal.StatusUnspecified
	}
	return nil
}

// Stop implements hal.Unit. Called from the data callback it only silences
// the unit, because miniaudio deadlocks when a device is stopped from its
// own callback; the device is stopped later by a helper goroutine.
func (u *Unit) Stop() error {
	u.running.Store(false)
	if u.inCallback.Load() {
		go u.stopDevice()
		return nil
	}
	u.stopDevice()
	return nil
}

func (u *Unit) stopDevice() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.dev == nil || u.running.Load() || !u.dev.IsStarted() {
		return
	}
	if err := u.dev.Stop(); err != nil {
		u.hw.logger.Debug("failed to stop device", "device_id", uint32(u.device), "error", err)
	}
}

// Dispose implements hal.Unit.
func (u *Unit) Dispose() error {
	u.running.Store(false)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.disposed {
		return hal.StatusIllegalOperation
	}
	u.disposed = true
	u.initialized = false
	if u.dev != nil {
		u.dev.Uninit()
		u.dev = nil
	}
	clear(u.listeners)
	return nil
}
