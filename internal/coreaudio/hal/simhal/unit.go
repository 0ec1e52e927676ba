package simhal

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

// Unit is a simulated audio unit.
type Unit struct {
	hw *Hardware

	mu          sync.Mutex
	device      hal.ObjectID
	input       bool
	output      bool
	formats     map[hal.Scope]hal.StreamFormat
	inputProc   hal.InputProc
	renderProc  hal.RenderProc
	listeners   map[hal.ListenerToken]unitListener
	volume      float32
	latency     float64
	initialized bool
	started     bool
	disposed    bool

	// Realtime state, only touched from RunCycle.
	pending    []byte
	rendered   int64
	lastOutput []byte
}

type unitListener struct {
	sel hal.Selector
	fn  func()
}

var _ hal.Unit = (*Unit)(nil)

// NewUnit implements hal.Hardware. Like the platform output unit, a new unit
// has output enabled and input disabled.
func (h *Hardware) NewUnit() (hal.Unit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked("NewUnit"); err != nil {
		return nil, err
	}
	u := &Unit{
		hw:        h,
		output:    true,
		formats:   make(map[hal.Scope]hal.StreamFormat),
		listeners: make(map[hal.ListenerToken]unitListener),
		volume:    1,
		latency:   0.0001,
	}
	h.units = append(h.units, u)
	h.stats.UnitsCreated++
	return u, nil
}

func (u *Unit) fail(method string) error {
	return u.hw.takeFailure(method)
}

// EnableIO implements hal.Unit.
func (u *Unit) EnableIO(scope hal.Scope, enable bool) error {
	if err := u.fail("EnableIO"); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
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
	if err := u.fail("SetCurrentDevice"); err != nil {
		return err
	}
	if alive, _ := u.hw.IsAlive(id); !alive {
		return hal.StatusBadObject
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.device = id
	return nil
}

// Device returns the device the unit is bound to.
func (u *Unit) Device() hal.ObjectID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.device
}

// HardwareFormat implements hal.Unit.
func (u *Unit) HardwareFormat(scope hal.Scope) (hal.StreamFormat, error) {
	if err := u.fail("HardwareFormat"); err != nil {
		return hal.StreamFormat{}, err
	}
	id := u.Device()
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
	if err := u.fail("SetStreamFormat"); err != nil {
		return err
	}
	if format.Channels <= 0 || format.SampleRate <= 0 || !format.Format.Valid() {
		return hal.StatusInvalidParameter
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.formats[scope] = format
	return nil
}

// BufferFrameSize implements hal.Unit. The size is a property of the bound
// device, shared by every unit on it.
func (u *Unit) BufferFrameSize() (uint32, error) {
	if err := u.fail("BufferFrameSize"); err != nil {
		return 0, err
	}
	id := u.Device()
	u.hw.mu.Lock()
	defer u.hw.mu.Unlock()
	d, err := u.hw.deviceLocked(id)
	if err != nil {
		return 0, err
	}
	return d.bufferFrameSize, nil
}

// SetBufferFrameSize implements hal.Unit. Listeners of every unit bound to the
// device are notified.
func (u *Unit) SetBufferFrameSize(frames uint32) error {
	if err := u.fail("SetBufferFrameSize"); err != nil {
		return err
	}
	id := u.Device()
	u.hw.mu.Lock()
	d, err := u.hw.deviceLocked(id)
	if err != nil {
		u.hw.mu.Unlock()
		return err
	}
	if float64(frames) < d.spec.BufferRange.Min || float64(frames) > d.spec.BufferRange.Max {
		u.hw.mu.Unlock()
		return hal.StatusInvalidParameter
	}
	d.bufferFrameSize = frames
	units := slices.Clone(u.hw.units)
	u.hw.mu.Unlock()

	for _, other := range units {
		if other.Device() == id {
			other.notify(hal.PropertyBufferFrameSize)
		}
	}
	return nil
}

func (u *Unit) notify(sel hal.Selector) {
	u.mu.Lock()
	var fns []func()
	for _, l := range u.listeners {
		if l.sel == sel {
			fns = append(fns, l.fn)
		}
	}
	u.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// AddPropertyListener implements hal.Unit.
func (u *Unit) AddPropertyListener(sel hal.Selector, fn func()) (hal.ListenerToken, error) {
	if err := u.fail("AddPropertyListener"); err != nil {
		return 0, err
	}
	u.hw.mu.Lock()
	u.hw.nextToken++
	token := u.hw.nextToken
	u.hw.mu.Unlock()

	u.mu.Lock()
	defer u.mu.Unlock()
	u.listeners[token] = unitListener{sel: sel, fn: fn}
	return token, nil
}

// RemovePropertyListener implements hal.Unit.
func (u *Unit) RemovePropertyListener(token hal.ListenerToken) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.listeners[token]; !ok {
		return hal.StatusIllegalOperation
	}
	delete(u.listeners, token)
	return nil
}

// SetInputCallback implements hal.Unit.
func (u *Unit) SetInputCallback(fn hal.InputProc) error {
	if err := u.fail("SetInputCallback"); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inputProc = fn
	return nil
}

// SetRenderCallback implements hal.Unit.
func (u *Unit) SetRenderCallback(fn hal.RenderProc) error {
	if err := u.fail("SetRenderCallback"); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.renderProc = fn
	return nil
}

// Render implements hal.Unit.
func (u *Unit) Render(frames int, buf []byte) hal.Status {
	id := u.Device()
	u.hw.mu.Lock()
	if f, ok := u.hw.renders[id]; ok && f.count > 0 {
		f.count--
		u.hw.mu.Unlock()
		return f.status
	}
	u.hw.mu.Unlock()

	n := min(len(buf), len(u.pending))
	if frames*u.inputFrameSize() > n {
		return hal.StatusInvalidParameter
	}
	copy(buf, u.pending[:n])
	return hal.StatusOK
}

func (u *Unit) inputFrameSize() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.formats[hal.ScopeInput].FrameSize()
}

// Latency implements hal.Unit.
func (u *Unit) Latency() (float64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.latency, nil
}

// Volume implements hal.Unit.
func (u *Unit) Volume() (float32, error) {
	if err := u.fail("Volume"); err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.volume, nil
}

// SetVolume implements hal.Unit.
func (u *Unit) SetVolume(volume float32) error {
	if err := u.fail("SetVolume"); err != nil {
		return err
	}
	if volume < 0 || volume > 1 {
		return hal.StatusInvalidParameter
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.volume = volume
	return nil
}

// Initialize implements hal.Unit.
func (u *Unit) Initialize() error {
	if err := u.fail("Initialize"); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.device == hal.Unknown || (!u.input && !u.output) {
		return hal.StatusIllegalOperation
	}
	u.initialized = true
	return nil
}

// Start implements hal.Unit.
func (u *Unit) Start() error {
	if err := u.fail("Start"); err != nil {
		return err
	}
	u.mu.Lock()
	if !u.initialized || u.disposed {
		u.mu.Unlock()
		return hal.StatusNotRunning
	}
	u.started = true
	u.mu.Unlock()

	u.hw.mu.Lock()
	u.hw.stats.UnitsStarted++
	u.hw.mu.Unlock()
	return nil
}

// Stop implements hal.Unit.
func (u *Unit) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.started = false
	return nil
}

// Started reports whether the unit is running.
func (u *Unit) Started() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.started
}

// Dispose implements hal.Unit.
func (u *Unit) Dispose() error {
	u.mu.Lock()
	if u.disposed {
		u.mu.Unlock()
		return hal.StatusIllegalOperation
	}
	u.disposed = true
	u.started = false
	u.initialized = false
	u.mu.Unlock()

	u.hw.mu.Lock()
	defer u.hw.mu.Unlock()
	u.hw.units = slices.DeleteFunc(u.hw.units, func(o *Unit) bool { return o == u })
	u.hw.stats.UnitsDisposed++
	return nil
}

// RunCycle runs one audio period of frames on every started unit: all input
// units capture first, then all output units render.
func (h *Hardware) RunCycle(frames int) {
	h.RunInput(frames)
	h.RunOutput(frames)
}

func (h *Hardware) startedUnits(input bool) []*Unit {
	h.mu.Lock()
	units := slices.Clone(h.units)
	h.mu.Unlock()

	var out []*Unit
	for _, u := range units {
		u.mu.Lock()
		ok := u.started && ((input && u.input && u.inputProc != nil) || (!input && u.output && u.renderProc != nil))
		u.mu.Unlock()
		if ok {
			out = append(out, u)
		}
	}
	return out
}

// RunInput delivers one period of captured input to every started input unit.
func (h *Hardware) RunInput(frames int) {
	for _, u := range h.startedUnits(true) {
		u.capture(frames)
	}
}

// RunOutput asks every started output unit to render one period.
func (h *Hardware) RunOutput(frames int) {
	for _, u := range h.startedUnits(false) {
		u.render(frames)
	}
}

func (u *Unit) capture(frames int) {
	u.mu.Lock()
	format := u.formats[hal.ScopeInput]
	proc := u.inputProc
	id := u.device
	u.mu.Unlock()
	if format.Channels == 0 {
		return
	}

	u.hw.mu.Lock()
	signal := u.hw.input
	var start int64
	if d, ok := u.hw.devices[id]; ok {
		start = d.captured
		d.captured += int64(frames)
	}
	u.hw.mu.Unlock()

	need := frames * format.FrameSize()
	if cap(u.pending) < need {
		u.pending = make([]byte, need)
	}
	u.pending = u.pending[:need]
	clear(u.pending)
	if signal != nil {
		for f := range frames {
			for c := range format.Channels {
				pcm.PutSample(format.Format.Native(), u.pending, f*format.Channels+c, signal(id, start+int64(f), c))
			}
		}
	}
	proc(frames)
}

func (u *Unit) render(frames int) {
	u.mu.Lock()
	format := u.formats[hal.ScopeOutput]
	proc := u.renderProc
	u.mu.Unlock()
	if format.Channels == 0 {
		return
	}
	need := frames * format.FrameSize()
	if cap(u.lastOutput) < need {
		u.lastOutput = make([]byte, need)
	}
	u.lastOutput = u.lastOutput[:need]
	if proc(u.lastOutput, frames) == hal.StatusOK {
		u.rendered += int64(frames)
	}
}

// LastOutput returns a copy of the most recent period rendered for device and
// the total frames rendered by its unit.
func (h *Hardware) LastOutput(device hal.ObjectID) ([]byte, int64) {
	h.mu.Lock()
	units := slices.Clone(h.units)
	h.mu.Unlock()
	for _, u := range units {
		u.mu.Lock()
		renders := u.device == device && u.renderProc != nil
		u.mu.Unlock()
		if renders {
			return slices.Clone(u.lastOutput), u.rendered
		}
	}
	return nil, 0
}

// Run drives RunCycle every period until ctx is done. The frame count per
// cycle follows the nominal rate of the default output device.
func (h *Hardware) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rate := 48000.0
			if out, err := h.DefaultDevice(hal.ScopeOutput); err == nil {
				if r, err := h.NominalSampleRate(out); err == nil {
					rate = r
				}
			}
			h.RunCycle(int(rate * period.Seconds()))
		}
	}
}
