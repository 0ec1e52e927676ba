package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFourCC(t *testing.T) {
	assert.Equal(t, uint32(0x64657623), FourCC("dev#"))
	assert.Equal(t, "dev#", FourCCString(FourCC("dev#")))
	assert.Equal(t, "7", FourCCString(7))
	assert.Panics(t, func() { FourCC("abc") })
}

func TestSelectorAndScopeNames(t *testing.T) {
	assert.Equal(t, "default-output-device", PropertyDefaultOutputDevice.String())
	assert.Equal(t, "lvol", Selector(FourCC("lvol")).String())
	assert.Equal(t, "input", ScopeInput.String())
	assert.Equal(t, "device-is-alive/global", Address{PropertyDeviceIsAlive, ScopeGlobal}.String())
}

func TestStatusError(t *testing.T) {
	assert.Equal(t, "hal status -10863", StatusCannotDoInCurrentContext.Error())
	assert.Equal(t, "hal status 'who?'", StatusUnknownProperty.Error())

	var err error = StatusBadObject
	assert.ErrorIs(t, err, StatusBadObject)
}

func TestStreamFormatFrameSize(t *testing.T) {
	f := StreamFormat{SampleRate: 48000, Channels: 2}
	assert.Equal(t, 4, f.FrameSize()) // zero value is 16 bit
}
