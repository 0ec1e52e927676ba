package pcm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleFormat(t *testing.T) {
	tests := []struct {
		format SampleFormat
		size   int
		native SampleFormat
	}{
		{S16LE, 2, S16LE},
		{S16BE, 2, S16LE},
		{F32LE, 4, F32LE},
		{F32BE, 4, F32LE},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			assert.Equal(t, tt.size, tt.format.BytesPerSample())
			assert.Equal(t, tt.native, tt.format.Native())
			assert.True(t, tt.format.Valid())
		})
	}
	assert.False(t, SampleFormat(9).Valid())
}

func TestLayoutChannels(t *testing.T) {
	assert.Equal(t, 0, LayoutUndefined.Channels())
	assert.Equal(t, 1, LayoutMono.Channels())
	assert.Equal(t, 2, LayoutStereo.Channels())
	assert.Equal(t, 6, Layout3F2LFE.Channels())
	assert.Equal(t, 8, Layout3F4LFE.Channels())
	assert.Equal(t, ChannelLayout(0), Silence.Bit())
	assert.Equal(t, LayoutMono, FrontCenter.Bit())
}

func TestSampleAccess(t *testing.T) {
	buf := make([]byte, 8)
	PutInt16(buf, 1, -1234)
	assert.Equal(t, int16(-1234), Int16At(buf, 1))
	assert.Equal(t, []byte{0, 0, 0x2e, 0xfb}, buf[:4])

	PutFloat32(buf, 1, 0.5)
	assert.InDelta(t, 0.5, Float32At(buf, 1), 0)

	PutSample(S16LE, buf, 0, 2.0)
	assert.Equal(t, int16(32767), Int16At(buf, 0))
	PutSample(S16LE, buf, 0, -0.5)
	assert.InDelta(t, -0.5, SampleAt(S16LE, buf, 0), 1e-4)
}

func TestParamsFrameSize(t *testing.T) {
	assert.Equal(t, 8, Params{Format: F32LE, Channels: 2}.FrameSize())
	assert.Equal(t, 12, Params{Format: S16LE, Channels: 6}.FrameSize())
}
