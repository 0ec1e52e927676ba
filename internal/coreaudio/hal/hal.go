// Package hal defines the primitive hardware-object and audio-unit interface
// the CoreAudio backend is written against. Implementations live in the
// simhal and malgohal subpackages.
package hal

import (
	"fmt"
	"strconv"
)

// ObjectID identifies a hardware object: the system object, a device, a
// sub-device or a plugin.
type ObjectID uint32

const (
	// Unknown is the id of no object.
	Unknown ObjectID = 0
	// SystemObject is the id of the hardware system object.
	SystemObject ObjectID = 1
)

// Selector names a hardware object property. Selectors are four character
// codes packed big-endian into a uint32.
type Selector uint32

// FourCC packs a four character code.
func FourCC(code string) uint32 {
	if len(code) != 4 {
		panic("hal: four character code must have 4 bytes: " + strconv.Quote(code))
	}
	return uint32(code[0])<<24 | uint32(code[1])<<16 | uint32(code[2])<<8 | uint32(code[3])
}

// Property selectors used by the backend.
var (
	PropertyDevices             = Selector(FourCC("dev#"))
	PropertyDefaultInputDevice  = Selector(FourCC("dIn "))
	PropertyDefaultOutputDevice = Selector(FourCC("dOut"))
	PropertyDeviceIsAlive       = Selector(FourCC("livn"))
	PropertyDataSource          = Selector(FourCC("ssrc"))
	PropertyBufferFrameSize     = Selector(FourCC("fsiz"))
	PropertyNominalSampleRate   = Selector(FourCC("nsrt"))
	PropertySubDeviceList       = Selector(FourCC("grup"))
	PropertyMasterSubDevice     = Selector(FourCC("amst"))
	PropertyDriftCompensation   = Selector(FourCC("drft"))
)

var selectorNames = map[Selector]string{
	PropertyDevices:             "devices",
	PropertyDefaultInputDevice:  "default-input-device",
	PropertyDefaultOutputDevice: "default-output-device",
	PropertyDeviceIsAlive:       "device-is-alive",
	PropertyDataSource:          "data-source",
	PropertyBufferFrameSize:     "buffer-frame-size",
	PropertyNominalSampleRate:   "nominal-sample-rate",
	PropertySubDeviceList:       "sub-device-list",
	PropertyMasterSubDevice:     "master-sub-device",
	PropertyDriftCompensation:   "drift-compensation",
}

func (s Selector) String() string {
	if name, ok := selectorNames[s]; ok {
		return name
	}
	return fourCCString(uint32(s))
}

// Scope restricts a property to the global, input or output side of an object.
type Scope uint32

var (
	ScopeGlobal = Scope(FourCC("glob"))
	ScopeInput  = Scope(FourCC("inpt"))
	ScopeOutput = Scope(FourCC("outp"))
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeInput:
		return "input"
	case ScopeOutput:
		return "output"
	}
	return fourCCString(uint32(s))
}

// Address is a property selector within a scope.
type Address struct {
	Selector Selector
	Scope    Scope
}

func (a Address) String() string {
	return a.Selector.String() + "/" + a.Scope.String()
}

// ClassID is the class of a hardware object.
type ClassID uint32

var (
	ClassDevice          = ClassID(FourCC("adev"))
	ClassAggregateDevice = ClassID(FourCC("aagg"))
	ClassSubDevice       = ClassID(FourCC("asub"))
	ClassPlugin          = ClassID(FourCC("aplg"))
)

// Status is a platform status code. Zero means success.
type Status int32

const (
	StatusOK Status = 0
	// StatusCannotDoInCurrentContext is returned by a render while the device
	// switches profile, for example a Bluetooth headset moving between A2DP
	// and HFP.
	StatusCannotDoInCurrentContext Status = -10863
	StatusInvalidProperty          Status = -10879
	StatusInvalidParameter         Status = -50
)

// Status codes that are four character codes.
var (
	StatusUnspecified      = Status(FourCC("what"))
	StatusUnknownProperty  = Status(FourCC("who?"))
	StatusBadObject        = Status(FourCC("!obj"))
	StatusIllegalOperation = Status(FourCC("nope"))
	StatusUnsupported      = Status(FourCC("unop"))
	StatusNotRunning       = Status(FourCC("stop"))
)

func (s Status) Error() string {
	if s > 0 {
		if code := fourCCString(uint32(s)); code != "" {
			return fmt.Sprintf("hal status '%s'", code)
		}
	}
	return "hal status " + strconv.Itoa(int(s))
}

// fourCCString renders v as four printable characters, or the empty string.
func fourCCString(v uint32) string {
	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return ""
		}
	}
	return string(b)
}

// FourCCString renders a four character code, falling back to decimal.
func FourCCString(v uint32) string {
	if s := fourCCString(v); s != "" {
		return s
	}
	return strconv.FormatUint(uint64(v), 10)
}
