// Package malgohal implements hal.Hardware on top of miniaudio through malgo.
//
// miniaudio exposes devices, formats and a data callback but no property
// notifications and no aggregate devices. Device list and default device
// changes are detected by polling (see Watch), and aggregate creation reports
// StatusUnsupported so duplex streams on distinct devices fall back to two
// units.
package malgohal

import (
	"context"
	"encoding/hex"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/errors"
	"github.com/tphakala/go-cubeb/internal/logging"
)

const (
	firstDeviceID hal.ObjectID = 100

	defaultSampleRate = 48000
	minBufferFrames   = 32
	maxBufferFrames   = 4096
)

// nativeFormat is the first native format miniaudio reports for a device side.
type nativeFormat struct {
	channels int
	rate     float64
}

type device struct {
	id    hal.ObjectID
	uid   string
	name  string
	alive bool

	capture  *malgo.DeviceID
	playback *malgo.DeviceID
	formats  map[hal.Scope]nativeFormat
}

type listener struct {
	id   hal.ObjectID
	addr hal.Address
	fn   hal.ListenerFunc
}

// Hardware is a hal.Hardware backed by a miniaudio context.
type Hardware struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger

	mu        sync.Mutex
	devices   map[hal.ObjectID]*device
	byUID     map[string]hal.ObjectID
	order     []hal.ObjectID
	defaults  map[hal.Scope]hal.ObjectID
	listeners map[hal.ListenerToken]listener
	nextID    hal.ObjectID
	nextToken hal.ListenerToken
}

var _ hal.Hardware = (*Hardware)(nil)

// Backend returns the miniaudio backend for the running platform.
func Backend() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "darwin":
		return malgo.BackendCoreaudio, nil
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	default:
		return malgo.BackendNull, errors.New(nil).
			Component("coreaudio.malgohal").
			Category(errors.CategoryNotSupported).
			Context("error", "unsupported operating system").
			Context("os", runtime.GOOS).
			Build()
	}
}

// New opens a miniaudio context on the platform backend and enumerates the
// devices once.
func New(logger *slog.Logger) (*Hardware, error) {
	backend, err := Backend()
	if err != nil {
		return nil, err
	}
	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("coreaudio.malgohal").
			Category(errors.CategoryHardware).
			Context("operation", "init_context").
			Context("backend", runtime.GOOS).
			Build()
	}
	if logger == nil {
		logger = logging.ForService("coreaudio")
		if logger == nil {
			logger = slog.Default()
		}
	}
	h := &Hardware{
		ctx:       ctx,
		logger:    logger.With("component", "malgohal"),
		devices:   make(map[hal.ObjectID]*device),
		byUID:     make(map[string]hal.ObjectID),
		defaults:  make(map[hal.Scope]hal.ObjectID),
		listeners: make(map[hal.ListenerToken]listener),
		nextID:    firstDeviceID,
	}
	if err := h.Refresh(); err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	return h, nil
}

// Close releases the miniaudio context. Units must be disposed first.
func (h *Hardware) Close() error {
	if err := h.ctx.Uninit(); err != nil {
		return errors.New(err).
			Component("coreaudio.malgohal").
			Category(errors.CategoryHardware).
			Context("operation", "uninit_context").
			Build()
	}
	h.ctx.Free()
	return nil
}

// Watch re-enumerates devices every interval until ctx is done, firing the
// listeners of whatever changed.
func (h *Hardware) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.Refresh(); err != nil {
				h.logger.Warn("device enumeration failed", "error", err)
			}
		}
	}
}

// enumeration is one snapshot of the miniaudio device lists.
type enumeration struct {
	capture  []malgo.DeviceInfo
	playback []malgo.DeviceInfo
}

func (h *Hardware) enumerate() (enumeration, error) {
	var e enumeration
	var err error
	if e.capture, err = h.ctx.Devices(malgo.Capture); err != nil {
		return e, h.enumerationError(err, "capture")
	}
	if e.playback, err = h.ctx.Devices(malgo.Playback); err != nil {
		return e, h.enumerationError(err, "playback")
	}
	return e, nil
}

func (h *Hardware) enumerationError(err error, kind string) error {
	return errors.New(err).
		Component("coreaudio.malgohal").
		Category(errors.CategoryDeviceEnumeration).
		Context("operation", "enumerate_devices").
		Context("kind", kind).
		Build()
}

// Refresh re-enumerates devices and fires device-is-alive, devices and
// default device listeners for the differences.
func (h *Hardware) Refresh() error {
	e, err := h.enumerate()
	if err != nil {
		return err
	}

	var fired []listenerCall
	h.mu.Lock()
	seen := make(map[hal.ObjectID]bool)
	listChanged := false
	newDefaults := make(map[hal.Scope]hal.ObjectID)

	merge := func(infos []malgo.DeviceInfo, scope hal.Scope) {
		for i := range infos {
			info := &infos[i]
			if strings.Contains(info.Name(), "Discard all samples") {
				continue
			}
			uid := deviceUID(info.ID)
			id, ok := h.byUID[uid]
			if !ok {
				id = h.nextID
				h.nextID++
				h.byUID[uid] = id
				h.devices[id] = &device{id: id, uid: uid, formats: make(map[hal.Scope]nativeFormat)}
			}
			d := h.devices[id]
			if !d.alive || !slices.Contains(h.order, id) {
				listChanged = true
			}
			d.alive = true
			d.name = info.Name()
			devID := info.ID
			if scope == hal.ScopeInput {
				d.capture = &devID
			} else {
				d.playback = &devID
			}
			seen[id] = true
			if info.IsDefault == 1 {
				newDefaults[scope] = id
			}
		}
	}
	merge(e.capture, hal.ScopeInput)
	merge(e.playback, hal.ScopeOutput)

	order := make([]hal.ObjectID, 0, len(seen))
	for _, id := range h.order {
		if seen[id] {
			order = append(order, id)
			continue
		}
		listChanged = true
		d := h.devices[id]
		d.alive = false
		fired = h.collectLocked(fired, id, hal.Address{Selector: hal.PropertyDeviceIsAlive, Scope: hal.ScopeGlobal})
	}
	for id := range seen {
		if !slices.Contains(order, id) {
			order = append(order, id)
		}
	}
	slices.Sort(order)
	h.order = order

	if listChanged {
		fired = h.collectLocked(fired, hal.SystemObject, hal.Address{Selector: hal.PropertyDevices, Scope: hal.ScopeGlobal})
	}
	for scope, sel := range map[hal.Scope]hal.Selector{
		hal.ScopeInput:  hal.PropertyDefaultInputDevice,
		hal.ScopeOutput: hal.PropertyDefaultOutputDevice,
	} {
		if h.defaults[scope] != newDefaults[scope] {
			h.defaults[scope] = newDefaults[scope]
			fired = h.collectLocked(fired, hal.SystemObject, hal.Address{Selector: sel, Scope: hal.ScopeGlobal})
		}
	}
	h.mu.Unlock()

	for _, c := range fired {
		c.fn(c.id, []hal.Address{c.addr})
	}
	return nil
}

// deviceUID renders a miniaudio device id as a stable printable string.
func deviceUID(id malgo.DeviceID) string {
	raw := strings.TrimRight(string(id[:]), "\x00")
	if raw != "" && strings.IndexFunc(raw, func(r rune) bool { return r < 0x20 || r > 0x7e }) < 0 {
		return raw
	}
	return hex.EncodeToString(id[:])
}

type listenerCall struct {
	id   hal.ObjectID
	addr hal.Address
	fn   hal.ListenerFunc
}

func (h *Hardware) collectLocked(calls []listenerCall, id hal.ObjectID, addr hal.Address) []listenerCall {
	tokens := make([]hal.ListenerToken, 0, len(h.listeners))
	for token := range h.listeners {
		tokens = append(tokens, token)
	}
	slices.Sort(tokens)
	for _, token := range tokens {
		l := h.listeners[token]
		if l.id == id && l.addr == addr {
			calls = append(calls, listenerCall{id: id, addr: addr, fn: l.fn})
		}
	}
	return calls
}

// deviceLost is called when miniaudio stops a device behind our back.
func (h *Hardware) deviceLost(id hal.ObjectID) {
	h.logger.Info("device stopped unexpectedly", "device_id", uint32(id))
	if err := h.Refresh(); err != nil {
		h.logger.Warn("device enumeration failed", "error", err)
	}
}

func (h *Hardware) deviceLocked(id hal.ObjectID) (*device, error) {
	d, ok := h.devices[id]
	if !ok {
		return nil, hal.StatusBadObject
	}
	return d, nil
}

func (h *Hardware) lookup(id hal.ObjectID) (device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, err := h.deviceLocked(id)
	if err != nil {
		return device{}, err
	}
	return *d, nil
}

// Devices implements hal.Hardware.
func (h *Hardware) Devices() ([]hal.ObjectID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.order), nil
}

// DefaultDevice implements hal.Hardware.
func (h *Hardware) DefaultDevice(scope hal.Scope) (hal.ObjectID, error) {
	if scope != hal.ScopeInput && scope != hal.ScopeOutput {
		return hal.Unknown, hal.StatusInvalidParameter
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if id := h.defaults[scope]; id != hal.Unknown {
		return id, nil
	}
	// miniaudio does not always flag a default; the first device stands in.
	for _, id := range h.order {
		d := h.devices[id]
		if (scope == hal.ScopeInput && d.capture != nil) || (scope == hal.ScopeOutput && d.playback != nil) {
			return id, nil
		}
	}
	return hal.Unknown, nil
}

// TranslateUID implements hal.Hardware.
func (h *Hardware) TranslateUID(uid string) (hal.ObjectID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.byUID[uid]; ok && h.devices[id].alive {
		return id, nil
	}
	return hal.Unknown, hal.StatusBadObject
}

// Class implements hal.Hardware.
func (h *Hardware) Class(id hal.ObjectID) (hal.ClassID, error) {
	if _, err := h.lookup(id); err != nil {
		return 0, err
	}
	return hal.ClassDevice, nil
}

// DeviceUID implements hal.Hardware.
func (h *Hardware) DeviceUID(id hal.ObjectID) (string, error) {
	d, err := h.lookup(id)
	return d.uid, err
}

// DeviceName implements hal.Hardware.
func (h *Hardware) DeviceName(id hal.ObjectID) (string, error) {
	d, err := h.lookup(id)
	return d.name, err
}

// ModelUID implements hal.Hardware. miniaudio does not report one.
func (h *Hardware) ModelUID(id hal.ObjectID) (string, error) {
	if _, err := h.lookup(id); err != nil {
		return "", err
	}
	return "", hal.StatusUnknownProperty
}

// Manufacturer implements hal.Hardware. miniaudio does not report one.
func (h *Hardware) Manufacturer(id hal.ObjectID) (string, error) {
	if _, err := h.lookup(id); err != nil {
		return "", err
	}
	return "", hal.StatusUnknownProperty
}

// IsAlive implements hal.Hardware.
func (h *Hardware) IsAlive(id hal.ObjectID) (bool, error) {
	d, err := h.lookup(id)
	return d.alive, err
}

// native queries and caches the first native format of a device side.
func (h *Hardware) native(id hal.ObjectID, scope hal.Scope) (nativeFormat, error) {
	h.mu.Lock()
	d, err := h.deviceLocked(id)
	if err != nil {
		h.mu.Unlock()
		return nativeFormat{}, err
	}
	if f, ok := d.formats[scope]; ok {
		h.mu.Unlock()
		return f, nil
	}
	kind, devID := malgo.Playback, d.playback
	if scope == hal.ScopeInput {
		kind, devID = malgo.Capture, d.capture
	}
	h.mu.Unlock()

	if devID == nil {
		return nativeFormat{}, nil
	}
	info, err := h.ctx.DeviceInfo(kind, *devID, malgo.Shared)
	if err != nil {
		return nativeFormat{}, errors.New(err).
			Component("coreaudio.malgohal").
			Category(errors.CategoryHardware).
			Context("operation", "device_info").
			Context("device_id", uint32(id)).
			Context("scope", scope.String()).
			Build()
	}
	f := nativeFormat{channels: 2, rate: defaultSampleRate}
	if scope == hal.ScopeInput {
		f.channels = 1
	}
	if min(int(info.FormatCount), len(info.Formats)) > 0 {
		native := info.Formats[0]
		if native.Channels > 0 {
			f.channels = int(native.Channels)
		}
		if native.SampleRate > 0 {
			f.rate = float64(native.SampleRate)
		}
	}

	h.mu.Lock()
	if d, ok := h.devices[id]; ok {
		d.formats[scope] = f
	}
	h.mu.Unlock()
	return f, nil
}

// ChannelCount implements hal.Hardware.
func (h *Hardware) ChannelCount(id hal.ObjectID, scope hal.Scope) (int, error) {
	f, err := h.native(id, scope)
	return f.channels, err
}

// ChannelLayout implements hal.Hardware. Devices are assumed to follow the
// platform default order.
func (h *Hardware) ChannelLayout(id hal.ObjectID, scope hal.Scope) ([]hal.ChannelLabel, error) {
	f, err := h.native(id, scope)
	if err != nil {
		return nil, err
	}
	switch f.channels {
	case 0:
		return nil, nil
	case 1:
		return []hal.ChannelLabel{hal.LabelMono}, nil
	}
	labels := make([]hal.ChannelLabel, f.channels)
	for i := range labels {
		labels[i] = hal.ChannelLabel(i + 1)
	}
	return labels, nil
}

// NominalSampleRate implements hal.Hardware.
func (h *Hardware) NominalSampleRate(id hal.ObjectID) (float64, error) {
	d, err := h.lookup(id)
	if err != nil {
		return 0, err
	}
	scope := hal.ScopeOutput
	if d.playback == nil {
		scope = hal.ScopeInput
	}
	f, err := h.native(id, scope)
	if err != nil {
		return 0, err
	}
	if f.rate == 0 {
		return defaultSampleRate, nil
	}
	return f.rate, nil
}

// SetNominalSampleRate implements hal.Hardware. miniaudio converts rates in
// software instead.
func (h *Hardware) SetNominalSampleRate(id hal.ObjectID, _ float64) error {
	if _, err := h.lookup(id); err != nil {
		return err
	}
	return hal.StatusUnsupported
}

// AvailableSampleRates implements hal.Hardware.
func (h *Hardware) AvailableSampleRates(id hal.ObjectID, scope hal.Scope) ([]hal.Range, error) {
	f, err := h.native(id, scope)
	if err != nil {
		return nil, err
	}
	rate := f.rate
	if rate == 0 {
		rate = defaultSampleRate
	}
	return []hal.Range{{Min: rate, Max: rate}}, nil
}

// BufferFrameSizeRange implements hal.Hardware.
func (h *Hardware) BufferFrameSizeRange(id hal.ObjectID, _ hal.Scope) (hal.Range, error) {
	if _, err := h.lookup(id); err != nil {
		return hal.Range{}, err
	}
	return hal.Range{Min: minBufferFrames, Max: maxBufferFrames}, nil
}

// Latency implements hal.Hardware. miniaudio hides device latency.
func (h *Hardware) Latency(id hal.ObjectID, _ hal.Scope) (uint32, error) {
	_, err := h.lookup(id)
	return 0, err
}

// StreamLatency implements hal.Hardware.
func (h *Hardware) StreamLatency(id hal.ObjectID, _ hal.Scope) (uint32, error) {
	_, err := h.lookup(id)
	return 0, err
}

// DataSource implements hal.Hardware.
func (h *Hardware) DataSource(id hal.ObjectID, _ hal.Scope) (uint32, error) {
	if _, err := h.lookup(id); err != nil {
		return 0, err
	}
	return 0, hal.StatusUnknownProperty
}

// PluginForBundleID implements hal.Hardware. There are no plugins.
func (h *Hardware) PluginForBundleID(string) (hal.ObjectID, error) {
	return hal.Unknown, hal.StatusUnsupported
}

// CreateAggregate implements hal.Hardware.
func (h *Hardware) CreateAggregate(hal.ObjectID, hal.AggregateDescription) (hal.ObjectID, error) {
	return hal.Unknown, hal.StatusUnsupported
}

// DestroyAggregate implements hal.Hardware.
func (h *Hardware) DestroyAggregate(_, _ hal.ObjectID) error { return hal.StatusUnsupported }

// ActiveSubDevices implements hal.Hardware.
func (h *Hardware) ActiveSubDevices(hal.ObjectID) ([]hal.ObjectID, error) {
	return nil, hal.StatusUnknownProperty
}

// SetSubDeviceList implements hal.Hardware.
func (h *Hardware) SetSubDeviceList(hal.ObjectID, []string) error { return hal.StatusUnsupported }

// SetMasterSubDevice implements hal.Hardware.
func (h *Hardware) SetMasterSubDevice(hal.ObjectID, string) error { return hal.StatusUnsupported }

// OwnedSubDevices implements hal.Hardware.
func (h *Hardware) OwnedSubDevices(hal.ObjectID) ([]hal.ObjectID, error) {
	return nil, hal.StatusUnknownProperty
}

// DriftCompensation implements hal.Hardware.
func (h *Hardware) DriftCompensation(hal.ObjectID) (bool, error) {
	return false, hal.StatusUnknownProperty
}

// SetDriftCompensation implements hal.Hardware.
func (h *Hardware) SetDriftCompensation(hal.ObjectID, bool) error { return hal.StatusUnsupported }

// AddListener implements hal.Hardware.
func (h *Hardware) AddListener(id hal.ObjectID, addr hal.Address, fn hal.ListenerFunc) (hal.ListenerToken, error) {
	if fn == nil {
		return 0, hal.StatusInvalidParameter
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if id != hal.SystemObject {
		if _, err := h.deviceLocked(id); err != nil {
			return 0, err
		}
	}
	h.nextToken++
	h.listeners[h.nextToken] = listener{id: id, addr: addr, fn: fn}
	return h.nextToken, nil
}

// RemoveListener implements hal.Hardware.
func (h *Hardware) RemoveListener(token hal.ListenerToken) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[token]; !ok {
		return hal.StatusBadObject
	}
	delete(h.listeners, token)
	return nil
}

// NewUnit implements hal.Hardware.
func (h *Hardware) NewUnit() (hal.Unit, error) {
	return newUnit(h), nil
}
