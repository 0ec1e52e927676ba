package hal

import (
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

// ListenerFunc receives the addresses that changed on an object. It runs on a
// hardware notification goroutine and must not block.
type ListenerFunc func(id ObjectID, addrs []Address)

// ListenerToken identifies a registered listener.
type ListenerToken uint64

// Range is an inclusive numeric range.
type Range struct {
	Min, Max float64
}

// ChannelLabel is the platform label of one device channel.
type ChannelLabel uint32

// Channel labels, numbered as the platform numbers them.
const (
	LabelUnknown              ChannelLabel = 0xFFFFFFFF
	LabelUnused               ChannelLabel = 0
	LabelLeft                 ChannelLabel = 1
	LabelRight                ChannelLabel = 2
	LabelCenter               ChannelLabel = 3
	LabelLFEScreen            ChannelLabel = 4
	LabelLeftSurround         ChannelLabel = 5
	LabelRightSurround        ChannelLabel = 6
	LabelLeftCenter           ChannelLabel = 7
	LabelRightCenter          ChannelLabel = 8
	LabelCenterSurround       ChannelLabel = 9
	LabelLeftSurroundDirect   ChannelLabel = 10
	LabelRightSurroundDirect  ChannelLabel = 11
	LabelTopCenterSurround    ChannelLabel = 12
	LabelVerticalHeightLeft   ChannelLabel = 13
	LabelVerticalHeightCenter ChannelLabel = 14
	LabelVerticalHeightRight  ChannelLabel = 15
	LabelTopBackLeft          ChannelLabel = 16
	LabelTopBackCenter        ChannelLabel = 17
	LabelTopBackRight         ChannelLabel = 18
	LabelMono                 ChannelLabel = 42
)

// AggregateDescription describes an aggregate device to create.
type AggregateDescription struct {
	Name    string
	UID     string
	Private bool
	Stacked bool
}

// Hardware is the hardware-object interface: device queries, property
// listeners, aggregate devices and audio unit construction. All methods are
// safe for concurrent use.
type Hardware interface {
	// Devices lists every device known to the system.
	Devices() ([]ObjectID, error)
	// DefaultDevice returns the system default device for ScopeInput or ScopeOutput.
	DefaultDevice(scope Scope) (ObjectID, error)
	// TranslateUID resolves a device UID.
	TranslateUID(uid string) (ObjectID, error)

	Class(id ObjectID) (ClassID, error)
	DeviceUID(id ObjectID) (string, error)
	DeviceName(id ObjectID) (string, error)
	ModelUID(id ObjectID) (string, error)
	Manufacturer(id ObjectID) (string, error)
	IsAlive(id ObjectID) (bool, error)
	// ChannelCount is the number of channels the device has in scope.
	ChannelCount(id ObjectID, scope Scope) (int, error)
	// ChannelLayout returns the preferred channel labels in scope.
	ChannelLayout(id ObjectID, scope Scope) ([]ChannelLabel, error)
	NominalSampleRate(id ObjectID) (float64, error)
	SetNominalSampleRate(id ObjectID, rate float64) error
	AvailableSampleRates(id ObjectID, scope Scope) ([]Range, error)
	BufferFrameSizeRange(id ObjectID, scope Scope) (Range, error)
	// Latency is the device latency plus its safety offset in frames.
	Latency(id ObjectID, scope Scope) (uint32, error)
	// StreamLatency is the latency of the first stream in scope, in frames.
	StreamLatency(id ObjectID, scope Scope) (uint32, error)
	DataSource(id ObjectID, scope Scope) (uint32, error)

	// PluginForBundleID resolves an audio plugin.
	PluginForBundleID(bundleID string) (ObjectID, error)
	CreateAggregate(plugin ObjectID, desc AggregateDescription) (ObjectID, error)
	DestroyAggregate(plugin, device ObjectID) error
	// ActiveSubDevices lists the active sub-devices of an aggregate device.
	ActiveSubDevices(id ObjectID) ([]ObjectID, error)
	// SetSubDeviceList replaces the sub-devices of an aggregate device.
	SetSubDeviceList(aggregate ObjectID, uids []string) error
	SetMasterSubDevice(aggregate ObjectID, uid string) error
	// OwnedSubDevices lists the sub-device objects an aggregate owns, in order.
	OwnedSubDevices(aggregate ObjectID) ([]ObjectID, error)
	DriftCompensation(sub ObjectID) (bool, error)
	SetDriftCompensation(sub ObjectID, enabled bool) error

	AddListener(id ObjectID, addr Address, fn ListenerFunc) (ListenerToken, error)
	RemoveListener(token ListenerToken) error

	// NewUnit creates an unconfigured audio unit.
	NewUnit() (Unit, error)
}

// StreamFormat is the client side format of an audio unit scope.
type StreamFormat struct {
	SampleRate float64
	Format     pcm.SampleFormat
	Channels   int
}

// FrameSize returns the bytes per frame.
func (f StreamFormat) FrameSize() int {
	return f.Channels * f.Format.BytesPerSample()
}

// InputProc is invoked on the realtime goroutine when frames of input are
// ready. It calls Unit.Render to fetch them.
type InputProc func(frames int) Status

// RenderProc fills out with frames of output for the hardware.
type RenderProc func(out []byte, frames int) Status

// Unit is one audio unit bound to a single device direction. Configuration
// methods must not be called while the unit is started.
type Unit interface {
	// EnableIO enables or disables a direction on the unit.
	EnableIO(scope Scope, enable bool) error
	SetCurrentDevice(id ObjectID) error
	// HardwareFormat is the format the device runs at in scope.
	HardwareFormat(scope Scope) (StreamFormat, error)
	// SetStreamFormat sets the client format exchanged in scope.
	SetStreamFormat(scope Scope, format StreamFormat) error
	BufferFrameSize() (uint32, error)
	SetBufferFrameSize(frames uint32) error
	// AddPropertyListener watches a unit property such as
	// PropertyBufferFrameSize.
	AddPropertyListener(sel Selector, fn func()) (ListenerToken, error)
	RemovePropertyListener(token ListenerToken) error
	SetInputCallback(fn InputProc) error
	SetRenderCallback(fn RenderProc) error
	// Render copies the pending input frames into buf. Only valid from
	// within an InputProc.
	Render(frames int, buf []byte) Status
	// Latency is the unit processing latency in seconds.
	Latency() (float64, error)
	Volume() (float32, error)
	SetVolume(volume float32) error
	Initialize() error
	Start() error
	Stop() error
	Dispose() error
}
