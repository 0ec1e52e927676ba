package tone

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

func TestOscillatorKeepsPhaseAcrossCalls(t *testing.T) {
	whole := NewOscillator(1000, 48000, 0.5)
	split := NewOscillator(1000, 48000, 0.5)

	a := make([]byte, 96*2*4)
	whole.Fill(a, 96, 2)

	b := make([]byte, 96*2*4)
	split.Fill(b[:40*2*4], 40, 2)
	split.Fill(b[40*2*4:], 56, 2)

	assert.Equal(t, a, b)
}

func TestOscillatorWritesEveryChannel(t *testing.T) {
	o := NewOscillator(12000, 48000, 1)
	out := make([]byte, 4*3*4)
	o.Fill(out, 4, 3)

	// A quarter of the rate hits the peak on the second frame.
	for c := range 3 {
		assert.InDelta(t, 0, pcm.Float32At(out, c), 1e-6)
		assert.InDelta(t, 1, pcm.Float32At(out, 3+c), 1e-6)
	}
	assert.InDelta(t, math.Sin(math.Pi), float64(pcm.Float32At(out, 6)), 1e-6)
}
