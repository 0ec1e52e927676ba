package coreaudio

import (
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

// BackendID identifies this backend to clients.
const BackendID = "audiounit-go"

// Latency bounds in frames applied to every stream.
const (
	SafeMinLatencyFrames uint32 = 256
	SafeMaxLatencyFrames uint32 = 512
)

// Stream parameter limits.
const (
	MinSampleRate = 1000
	MaxSampleRate = 768000
	MaxChannels   = 32
)

// State is reported through the StateCallback.
type State int

const (
	StateStarted State = iota
	StateStopped
	StateDrained
	StateError
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateDrained:
		return "drained"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DeviceType selects devices by direction. Values combine as a bitmask.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = 0
	DeviceTypeInput   DeviceType = 1 << 0
	DeviceTypeOutput  DeviceType = 1 << 1
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeInput:
		return "input"
	case DeviceTypeOutput:
		return "output"
	case DeviceTypeInput | DeviceTypeOutput:
		return "input|output"
	default:
		return "unknown"
	}
}

// scopes returns the hardware scopes covered by t, input first.
func (t DeviceType) scopes() []hal.Scope {
	var scopes []hal.Scope
	if t&DeviceTypeInput != 0 {
		scopes = append(scopes, hal.ScopeInput)
	}
	if t&DeviceTypeOutput != 0 {
		scopes = append(scopes, hal.ScopeOutput)
	}
	return scopes
}

func deviceTypeOf(scope hal.Scope) DeviceType {
	if scope == hal.ScopeInput {
		return DeviceTypeInput
	}
	return DeviceTypeOutput
}

// Direction tags a DeviceInfo as the input or the output side. It is
// implemented by Input and Output only.
type Direction interface {
	Scope() hal.Scope
	// SelectedDefault reports that no device was requested, so the system
	// default was chosen and the stream follows default changes.
	SelectedDefault() bool
	// SystemDefault reports that the device was the system default when
	// resolved.
	SystemDefault() bool
	direction()
}

// Input is the capture side of a stream.
type Input struct {
	IsSelectedDefault bool
	IsSystemDefault   bool
}

func (Input) Scope() hal.Scope        { return hal.ScopeInput }
func (d Input) SelectedDefault() bool { return d.IsSelectedDefault }
func (d Input) SystemDefault() bool   { return d.IsSystemDefault }
func (Input) direction()              {}

// Output is the playback side of a stream.
type Output struct {
	IsSelectedDefault bool
	IsSystemDefault   bool
}

func (Output) Scope() hal.Scope        { return hal.ScopeOutput }
func (d Output) SelectedDefault() bool { return d.IsSelectedDefault }
func (d Output) SystemDefault() bool   { return d.IsSystemDefault }
func (Output) direction()              {}

// DeviceInfo is a resolved device and the side it serves.
type DeviceInfo struct {
	ID        hal.ObjectID
	Direction Direction
}

// Valid reports whether the info names a device.
func (d DeviceInfo) Valid() bool {
	return d.ID != hal.Unknown && d.Direction != nil
}

// DeviceState is the availability of an enumerated device.
type DeviceState int

const (
	DeviceStateDisabled DeviceState = iota
	DeviceStateUnplugged
	DeviceStateEnabled
)

// DevicePref marks the roles a device is the default for.
type DevicePref int

const (
	DevicePrefNone         DevicePref = 0
	DevicePrefMultimedia   DevicePref = 1 << 0
	DevicePrefVoice        DevicePref = 1 << 1
	DevicePrefNotification DevicePref = 1 << 2
	DevicePrefAll          DevicePref = DevicePrefMultimedia | DevicePrefVoice | DevicePrefNotification
)

// DeviceDescription is one enumerated device.
type DeviceDescription struct {
	Devid         hal.ObjectID
	DeviceID      string // device UID
	FriendlyName  string
	GroupID       string // model UID, shared by the halves of one physical device
	VendorName    string
	Type          DeviceType
	State         DeviceState
	Preferred     DevicePref
	Formats       []pcm.SampleFormat
	DefaultFormat pcm.SampleFormat
	MaxChannels   int
	DefaultRate   uint32
	MinRate       uint32
	MaxRate       uint32
	LatencyLo     uint32 // frames
	LatencyHi     uint32 // frames
}

// StreamDevice holds the data source names of the devices a stream uses.
type StreamDevice struct {
	Input  string
	Output string
}

// DataCallback exchanges interleaved little-endian audio with the client.
// input is nil for output-only streams and output nil for input-only streams.
// It returns the frames produced; fewer than frames drains the stream.
type DataCallback func(s *Stream, input, output []byte, frames int) int

// StateCallback reports stream state changes.
type StateCallback func(s *Stream, state State)

// DeviceChangedCallback is invoked when a device used by a stream changes.
type DeviceChangedCallback func()

// CollectionChangedCallback is invoked when devices are added or removed.
type CollectionChangedCallback func(ctx *Context)

// StreamOptions describes a stream to open. A nil Input or Output disables
// that side. A zero device id selects the system default device.
type StreamOptions struct {
	Name          string
	InputDevice   hal.ObjectID
	Input         *pcm.Params
	OutputDevice  hal.ObjectID
	Output        *pcm.Params
	LatencyFrames uint32
	DataCallback  DataCallback
	StateCallback StateCallback
}
