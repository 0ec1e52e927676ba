// Package simhal is a deterministic in-memory implementation of hal.Hardware.
// Devices, default device changes, hot-plug events and render failures are
// driven explicitly by the caller, and audio periods run when RunCycle is
// called.
package simhal

import (
	"slices"
	"strconv"
	"sync"

	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
)

// CoreAudioBundleID is the bundle id of the plugin that owns aggregate devices.
const CoreAudioBundleID = "com.apple.audio.CoreAudio"

const (
	pluginID    hal.ObjectID = 2
	firstObject hal.ObjectID = 100
)

// DeviceSpec describes a simulated device.
type DeviceSpec struct {
	UID          string
	Name         string
	Model        string
	Manufacturer string

	InputChannels  int
	OutputChannels int
	InputLayout    []hal.ChannelLabel
	OutputLayout   []hal.ChannelLabel

	// SampleRate is the nominal rate, 48000 when zero.
	SampleRate float64
	// SampleRates lists the available rates, the nominal rate when empty.
	SampleRates []hal.Range

	// BufferFrameSize is the current I/O buffer size, 512 when zero.
	BufferFrameSize uint32
	// BufferRange bounds BufferFrameSize, 14..4096 when zero.
	BufferRange hal.Range

	Latency       uint32
	SafetyOffset  uint32
	StreamLatency uint32
	DataSource    uint32
}

// Stats counts hardware operations for assertions.
type Stats struct {
	UnitsCreated        int
	UnitsDisposed       int
	UnitsStarted        int
	AggregatesCreated   int
	AggregatesDestroyed int
	Listeners           int
}

// InputFunc produces the sample of channel at the given absolute frame of a
// capture device.
type InputFunc func(device hal.ObjectID, frame int64, channel int) float32

type device struct {
	id    hal.ObjectID
	spec  DeviceSpec
	alive bool
	class hal.ClassID

	rate            float64
	bufferFrameSize uint32

	// Aggregate state.
	plugin    hal.ObjectID
	private   bool
	members   []hal.ObjectID
	owned     []hal.ObjectID
	masterUID string

	captured int64
}

type subDevice struct {
	id        hal.ObjectID
	aggregate hal.ObjectID
	uid       string
	drift     bool
}

type listener struct {
	id   hal.ObjectID
	addr hal.Address
	fn   hal.ListenerFunc
}

type renderFailure struct {
	status hal.Status
	count  int
}

// Hardware is a simulated hardware system. The zero value is not usable, use New.
type Hardware struct {
	mu sync.Mutex

	nextID     hal.ObjectID
	devices    map[hal.ObjectID]*device
	order      []hal.ObjectID
	subDevices map[hal.ObjectID]*subDevice
	defaultIn  hal.ObjectID
	defaultOut hal.ObjectID

	nextToken hal.ListenerToken
	listeners map[hal.ListenerToken]listener

	units    []*Unit
	failures map[string][]error
	renders  map[hal.ObjectID]*renderFailure
	input    InputFunc
	stats    Stats
}

var _ hal.Hardware = (*Hardware)(nil)

// New returns an empty simulated system.
func New() *Hardware {
	return &Hardware{
		nextID:     firstObject,
		devices:    make(map[hal.ObjectID]*device),
		subDevices: make(map[hal.ObjectID]*subDevice),
		listeners:  make(map[hal.ListenerToken]listener),
		failures:   make(map[string][]error),
		renders:    make(map[hal.ObjectID]*renderFailure),
	}
}

// NewDefault returns a system with one built-in microphone and one pair of
// built-in speakers set as the defaults.
func NewDefault() *Hardware {
	h := New()
	mic := h.AddDevice(DeviceSpec{
		UID:           "BuiltInMicrophoneDevice",
		Name:          "MacBook Pro Microphone",
		Model:         "Digital Mic",
		Manufacturer:  "Apple Inc.",
		InputChannels: 1,
		DataSource:    hal.FourCC("imic"),
	})
	spk := h.AddDevice(DeviceSpec{
		UID:            "BuiltInSpeakerDevice",
		Name:           "MacBook Pro Speakers",
		Model:          "Codec Output",
		Manufacturer:   "Apple Inc.",
		OutputChannels: 2,
		Latency:        24,
		SafetyOffset:   144,
		DataSource:     hal.FourCC("ispk"),
	})
	h.SetDefaultDevice(hal.ScopeInput, mic)
	h.SetDefaultDevice(hal.ScopeOutput, spk)
	return h
}

func (h *Hardware) allocID() hal.ObjectID {
	id := h.nextID
	h.nextID++
	return id
}

// AddDevice plugs in a device and fires the device list listeners. The first
// device with channels in a scope becomes the default for that scope.
func (h *Hardware) AddDevice(spec DeviceSpec) hal.ObjectID {
	if spec.SampleRate == 0 {
		spec.SampleRate = 48000
	}
	if spec.BufferFrameSize == 0 {
		spec.BufferFrameSize = 512
	}
	if spec.BufferRange == (hal.Range{}) {
		spec.BufferRange = hal.Range{Min: 14, Max: 4096}
	}

	h.mu.Lock()
	id := h.allocID()
	if spec.UID == "" {
		spec.UID = "sim-device-" + strconv.Itoa(int(id))
	}
	if spec.Name == "" {
		spec.Name = spec.UID
	}
	h.devices[id] = &device{
		id:              id,
		spec:            spec,
		alive:           true,
		class:           hal.ClassDevice,
		rate:            spec.SampleRate,
		bufferFrameSize: spec.BufferFrameSize,
	}
	h.order = append(h.order, id)
	if h.defaultIn == hal.Unknown && spec.InputChannels > 0 {
		h.defaultIn = id
	}
	if h.defaultOut == hal.Unknown && spec.OutputChannels > 0 {
		h.defaultOut = id
	}
	h.mu.Unlock()

	h.fire(hal.SystemObject, hal.Address{Selector: hal.PropertyDevices, Scope: hal.ScopeGlobal})
	return id
}

// RemoveDevice unplugs a device. It fires is-alive on the device, then the
// device list, then a default device change if the device was a default.
func (h *Hardware) RemoveDevice(id hal.ObjectID) {
	h.mu.Lock()
	d, ok := h.devices[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	d.alive = false
	h.removeLocked(id)
	var changed []hal.Address
	if h.defaultIn == id {
		h.defaultIn = h.firstWithChannelsLocked(hal.ScopeInput)
		changed = append(changed, hal.Address{Selector: hal.PropertyDefaultInputDevice, Scope: hal.ScopeGlobal})
	}
	if h.defaultOut == id {
		h.defaultOut = h.firstWithChannelsLocked(hal.ScopeOutput)
		changed = append(changed, hal.Address{Selector: hal.PropertyDefaultOutputDevice, Scope: hal.ScopeGlobal})
	}
	h.mu.Unlock()

	h.fire(id, hal.Address{Selector: hal.PropertyDeviceIsAlive, Scope: hal.ScopeGlobal})
	h.fire(hal.SystemObject, hal.Address{Selector: hal.PropertyDevices, Scope: hal.ScopeGlobal})
	for _, addr := range changed {
		h.fire(hal.SystemObject, addr)
	}
}

func (h *Hardware) removeLocked(id hal.ObjectID) {
	delete(h.devices, id)
	h.order = slices.DeleteFunc(h.order, func(o hal.ObjectID) bool { return o == id })
}

func (h *Hardware) firstWithChannelsLocked(scope hal.Scope) hal.ObjectID {
	for _, id := range h.order {
		d := h.devices[id]
		if d.class == hal.ClassDevice && h.channelsLocked(d, scope) > 0 {
			return id
		}
	}
	return hal.Unknown
}

// SetDefaultDevice changes the system default device for a scope and fires
// the default device listeners.
func (h *Hardware) SetDefaultDevice(scope hal.Scope, id hal.ObjectID) {
	h.mu.Lock()
	sel := hal.PropertyDefaultOutputDevice
	if scope == hal.ScopeInput {
		h.defaultIn = id
		sel = hal.PropertyDefaultInputDevice
	} else {
		h.defaultOut = id
	}
	h.mu.Unlock()
	h.fire(hal.SystemObject, hal.Address{Selector: sel, Scope: hal.ScopeGlobal})
}

// SetDataSourceOf changes a device data source, as plugging headphones into
// a jack does, and fires the data source listeners for scope.
func (h *Hardware) SetDataSourceOf(id hal.ObjectID, scope hal.Scope, source uint32) {
	h.mu.Lock()
	if d, ok := h.devices[id]; ok {
		d.spec.DataSource = source
	}
	h.mu.Unlock()
	h.fire(id, hal.Address{Selector: hal.PropertyDataSource, Scope: scope})
}

// NotifyDevicesChanged fires the device list listeners without changing anything.
func (h *Hardware) NotifyDevicesChanged() {
	h.fire(hal.SystemObject, hal.Address{Selector: hal.PropertyDevices, Scope: hal.ScopeGlobal})
}

// Fire delivers a property change on id to its listeners.
func (h *Hardware) Fire(id hal.ObjectID, addr hal.Address) {
	h.fire(id, addr)
}

// FailNext makes the next call of the named Hardware or Unit method return err.
// Calls queue up.
func (h *Hardware) FailNext(method string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[method] = append(h.failures[method], err)
}

// SetRenderStatus makes the next count input renders of device return status.
func (h *Hardware) SetRenderStatus(id hal.ObjectID, status hal.Status, count int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.renders[id] = &renderFailure{status: status, count: count}
}

// SetInput installs the capture signal. Silence is captured without one.
func (h *Hardware) SetInput(fn InputFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.input = fn
}

// Stats returns operation counters.
func (h *Hardware) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	s.Listeners = len(h.listeners)
	return s
}

func (h *Hardware) takeFailure(method string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.takeFailureLocked(method)
}

func (h *Hardware) takeFailureLocked(method string) error {
	queue := h.failures[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	h.failures[method] = queue[1:]
	return err
}

func (h *Hardware) fire(id hal.ObjectID, addr hal.Address) {
	h.mu.Lock()
	var fns []hal.ListenerFunc
	tokens := make([]hal.ListenerToken, 0, len(h.listeners))
	for token := range h.listeners {
		tokens = append(tokens, token)
	}
	slices.Sort(tokens)
	for _, token := range tokens {
		l := h.listeners[token]
		if l.id == id && l.addr == addr {
			fns = append(fns, l.fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(id, []hal.Address{addr})
	}
}

func (h *Hardware) deviceLocked(id hal.ObjectID) (*device, error) {
	d, ok := h.devices[id]
	if !ok {
		return nil, hal.StatusBadObject
	}
	return d, nil
}

func (h *Hardware) channelsLocked(d *device, scope hal.Scope) int {
	if d.class == hal.ClassAggregateDevice {
		total := 0
		for _, m := range d.members {
			if md, ok := h.devices[m]; ok {
				total += h.channelsLocked(md, scope)
			}
		}
		return total
	}
	switch scope {
	case hal.ScopeInput:
		return d.spec.InputChannels
	case hal.ScopeOutput:
		return d.spec.OutputChannels
	}
	return d.spec.InputChannels + d.spec.OutputChannels
}

// Devices implements hal.Hardware.
func (h *Hardware) Devices() ([]hal.ObjectID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked("Devices"); err != nil {
		return nil, err
	}
	return slices.Clone(h.order), nil
}

// DefaultDevice implements hal.Hardware.
func (h *Hardware) DefaultDevice(scope hal.Scope) (hal.ObjectID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked("DefaultDevice"); err != nil {
		return hal.Unknown, err
	}
	id := h.defaultOut
	if scope == hal.ScopeInput {
		id = h.defaultIn
	}
	if id == hal.Unknown {
		return hal.Unknown, hal.StatusBadObject
	}
	return id, nil
}

// TranslateUID implements hal.Hardware.
func (h *Hardware) TranslateUID(uid string) (hal.ObjectID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range h.order {
		if h.devices[id].spec.UID == uid {
			return id, nil
		}
	}
	return hal.Unknown, hal.StatusBadObject
}

// Class implements hal.Hardware.
func (h *Hardware) Class(id hal.ObjectID) (hal.ClassID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id == pluginID {
		return hal.ClassPlugin, nil
	}
	if _, ok := h.subDevices[id]; ok {
		return hal.ClassSubDevice, nil
	}
	d, err := h.deviceLocked(id)
	if err != nil {
		return 0, err
	}
	return d.class, nil
}

func (h *Hardware) deviceString(id hal.ObjectID, method string, get func(*device) string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked(method); err != nil {
		return "", err
	}
	d, err := h.deviceLocked(id)
	if err != nil {
		return "", err
	}
	return get(d), nil
}

// DeviceUID implements hal.Hardware.
func (h *Hardware) DeviceUID(id hal.ObjectID) (string, error) {
	return h.deviceString(id, "DeviceUID", func(d *device) string { return d.spec.UID })
}

// DeviceName implements hal.Hardware.
func (h *Hardware) DeviceName(id hal.ObjectID) (string, error) {
	return h.deviceString(id, "DeviceName", func(d *device) string { return d.spec.Name })
}

// ModelUID implements hal.Hardware.
func (h *Hardware) ModelUID(id hal.ObjectID) (string, error) {
	return h.deviceString(id, "ModelUID", func(d *device) string { return d.spec.Model })
}

// Manufacturer implements hal.Hardware.
func (h *Hardware) Manufacturer(id hal.ObjectID) (string, error) {
	return h.deviceString(id, "Manufacturer", func(d *device) string { return d.spec.Manufacturer })
}

// IsAlive implements hal.Hardware. Unplugged devices are not alive.
func (h *Hardware) IsAlive(id hal.ObjectID) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[id]
	return ok && d.alive, nil
}

// ChannelCount implements hal.Hardware.
func (h *Hardware) ChannelCount(id hal.ObjectID, scope hal.Scope) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked("ChannelCount"); err != nil {
		return 0, err
	}
	d, err := h.deviceLocked(id)
	if err != nil {
		return 0, err
	}
	return h.channelsLocked(d, scope), nil
}

// ChannelLayout implements hal.Hardware.
func (h *Hardware) ChannelLayout(id hal.ObjectID, scope hal.Scope) ([]hal.ChannelLabel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, err := h.deviceLocked(id)
	if err != nil {
		return nil, err
	}
	layout := d.spec.OutputLayout
	if scope == hal.ScopeInput {
		layout = d.spec.InputLayout
	}
	if layout != nil {
		return slices.Clone(layout), nil
	}
	return defaultLabels(h.channelsLocked(d, scope)), nil
}

var defaultLabelOrder = []hal.ChannelLabel{
	hal.LabelLeft, hal.LabelRight, hal.LabelCenter, hal.LabelLFEScreen,
	hal.LabelLeftSurround, hal.LabelRightSurround,
	hal.LabelLeftSurroundDirect, hal.LabelRightSurroundDirect,
}

func defaultLabels(channels int) []hal.ChannelLabel {
	if channels == 1 {
		return []hal.ChannelLabel{hal.LabelMono}
	}
	labels := make([]hal.ChannelLabel, channels)
	for i := range labels {
		labels[i] = hal.LabelUnknown
		if i < len(defaultLabelOrder) {
			labels[i] = defaultLabelOrder[i]
		}
	}
	return labels
}

// NominalSampleRate implements hal.Hardware.
func (h *Hardware) NominalSampleRate(id hal.ObjectID) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked("NominalSampleRate"); err != nil {
		return 0, err
	}
	d, err := h.deviceLocked(id)
	if err != nil {
		return 0, err
	}
	return d.rate, nil
}

// SetNominalSampleRate implements hal.Hardware.
func (h *Hardware) SetNominalSampleRate(id hal.ObjectID, rate float64) error {
	h.mu.Lock()
	if err := h.takeFailureLocked("SetNominalSampleRate"); err != nil {
		h.mu.Unlock()
		return err
	}
	d, err := h.deviceLocked(id)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	d.rate = rate
	h.mu.Unlock()
	h.fire(id, hal.Address{Selector: hal.PropertyNominalSampleRate, Scope: hal.ScopeGlobal})
	return nil
}

// AvailableSampleRates implements hal.Hardware.
func (h *Hardware) AvailableSampleRates(id hal.ObjectID, _ hal.Scope) ([]hal.Range, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, err := h.deviceLocked(id)
	if err != nil {
		return nil, err
	}
	if len(d.spec.SampleRates) > 0 {
		return slices.Clone(d.spec.SampleRates), nil
	}
	return []hal.Range{{Min: d.rate, Max: d.rate}}, nil
}

// BufferFrameSizeRange implements hal.Hardware.
func (h *Hardware) BufferFrameSizeRange(id hal.ObjectID, _ hal.Scope) (hal.Range, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked("BufferFrameSizeRange"); err != nil {
		return hal.Range{}, err
	}
	d, err := h.deviceLocked(id)
	if err != nil {
		return hal.Range{}, err
	}
	return d.spec.BufferRange, nil
}

// Latency implements hal.Hardware.
func (h *Hardware) Latency(id hal.ObjectID, _ hal.Scope) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, err := h.deviceLocked(id)
	if err != nil {
		return 0, err
	}
	return d.spec.Latency + d.spec.SafetyOffset, nil
}

// StreamLatency implements hal.Hardware.
func (h *Hardware) StreamLatency(id hal.ObjectID, _ hal.Scope) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, err := h.deviceLocked(id)
	if err != nil {
		return 0, err
	}
	return d.spec.StreamLatency, nil
}

// DataSource implements hal.Hardware.
func (h *Hardware) DataSource(id hal.ObjectID, _ hal.Scope) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked("DataSource"); err != nil {
		return 0, err
	}
	d, err := h.deviceLocked(id)
	if err != nil {
		return 0, err
	}
	if d.spec.DataSource == 0 {
		return 0, hal.StatusUnknownProperty
	}
	return d.spec.DataSource, nil
}

// AddListener implements hal.Hardware.
func (h *Hardware) AddListener(id hal.ObjectID, addr hal.Address, fn hal.ListenerFunc) (hal.ListenerToken, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked("AddListener"); err != nil {
		return 0, err
	}
	if fn == nil {
		return 0, hal.StatusInvalidParameter
	}
	h.nextToken++
	h.listeners[h.nextToken] = listener{id: id, addr: addr, fn: fn}
	return h.nextToken, nil
}

// RemoveListener implements hal.Hardware.
func (h *Hardware) RemoveListener(token hal.ListenerToken) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked("RemoveListener"); err != nil {
		return err
	}
	if _, ok := h.listeners[token]; !ok {
		return hal.StatusIllegalOperation
	}
	delete(h.listeners, token)
	return nil
}

// IsPrivate reports whether id is a private aggregate device.
func (h *Hardware) IsPrivate(id hal.ObjectID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[id]
	return ok && d.private
}
