package malgohal

import (
	"math"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

// sampleFormat maps a client format onto the miniaudio format with the same
// sample type. miniaudio only speaks little-endian; big-endian formats are
// swapped in the data callback.
func sampleFormat(f pcm.SampleFormat) malgo.FormatType {
	if f.IsFloat() {
		return malgo.FormatF32
	}
	return malgo.FormatS16
}

// swapEndian reverses the byte order of every size byte sample in b.
func swapEndian(b []byte, size int) {
	for i := 0; i+size <= len(b); i += size {
		switch size {
		case 2:
			b[i], b[i+1] = b[i+1], b[i]
		case 4:
			b[i], b[i+1], b[i+2], b[i+3] = b[i+3], b[i+2], b[i+1], b[i]
		}
	}
}

// applyGain scales little-endian samples of format f in place.
func applyGain(b []byte, f pcm.SampleFormat, gain float32) {
	n := len(b) / f.BytesPerSample()
	for i := range n {
		pcm.PutSample(f, b, i, pcm.SampleAt(f, b, i)*gain)
	}
}

func float32bits(v float32) uint32 { return math.Float32bits(v) }

func float32frombits(v uint32) float32 { return math.Float32frombits(v) }
