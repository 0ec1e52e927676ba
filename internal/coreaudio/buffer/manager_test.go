package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

func int16Frames(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm.PutInt16(b, i, s)
	}
	return b
}

func readInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = pcm.Int16At(b, i)
	}
	return out
}

func TestRoundTripPreservesOrder(t *testing.T) {
	m := New(pcm.S16LE, 2, 16)

	pushed := m.PushData(int16Frames(1, 2, 3, 4, 5, 6), 3, 2, 0)
	require.Equal(t, 3, pushed)
	assert.Equal(t, 6, m.AvailableSamples())

	got := m.GetLinearData(6)
	assert.Equal(t, []int16{1, 2, 3, 4, 5, 6}, readInt16(got))
	m.Pop(6)
	assert.Zero(t, m.AvailableSamples())
}

func TestGetLinearDataZeroPads(t *testing.T) {
	m := New(pcm.F32LE, 1, 16)
	in := make([]byte, 8)
	pcm.PutFloat32(in, 0, 0.25)
	pcm.PutFloat32(in, 1, -0.25)
	m.PushData(in, 2, 1, 0)

	got := m.GetLinearData(4)
	require.Len(t, got, 16)
	assert.InDelta(t, 0.25, pcm.Float32At(got, 0), 0)
	assert.InDelta(t, -0.25, pcm.Float32At(got, 1), 0)
	assert.InDelta(t, 0, pcm.Float32At(got, 2), 0)
	assert.InDelta(t, 0, pcm.Float32At(got, 3), 0)
	assert.Equal(t, 2, m.AvailableSamples(), "padding is not counted as buffered data")
}

func TestPeekThenPartialPop(t *testing.T) {
	m := New(pcm.S16LE, 1, 16)
	m.PushData(int16Frames(10, 20, 30, 40), 4, 1, 0)

	assert.Equal(t, []int16{10, 20, 30}, readInt16(m.GetLinearData(3)))
	m.Pop(2)
	assert.Equal(t, 2, m.AvailableSamples())

	m.PushData(int16Frames(50), 1, 1, 0)
	assert.Equal(t, []int16{30, 40, 50}, readInt16(m.GetLinearData(3)))
}

func TestStereoToMonoSums(t *testing.T) {
	m := New(pcm.S16LE, 1, 16)
	m.PushData(int16Frames(100, 200, 30000, 30000, -30000, -30000), 3, 2, 0)

	assert.Equal(t, []int16{300, 32767, -32768}, readInt16(m.GetLinearData(3)))
}

func TestSurplusChannelsTruncate(t *testing.T) {
	m := New(pcm.S16LE, 2, 16)
	// Four hardware channels, the stream keeps the first two.
	m.PushData(int16Frames(1, 2, 3, 4, 5, 6, 7, 8), 2, 4, 0)

	assert.Equal(t, []int16{1, 2, 5, 6}, readInt16(m.GetLinearData(4)))
}

func TestSkipLeadingChannels(t *testing.T) {
	m := New(pcm.S16LE, 1, 16)
	// Three hardware channels, skip the first, then sum the remaining pair.
	m.PushData(int16Frames(9, 1, 2, 9, 3, 4), 2, 3, 1)

	assert.Equal(t, []int16{3, 7}, readInt16(m.GetLinearData(2)))
}

func TestFullRingDropsWholeFrames(t *testing.T) {
	m := New(pcm.S16LE, 2, 2)

	pushed := m.PushData(int16Frames(1, 2, 3, 4, 5, 6), 3, 2, 0)
	assert.Equal(t, 2, pushed)
	assert.Equal(t, uint64(2), m.Dropped())
	assert.Equal(t, 4, m.AvailableSamples())
}

func TestPushSilenceAndTrim(t *testing.T) {
	m := New(pcm.S16LE, 1, 32)
	m.PushData(int16Frames(1, 2, 3), 3, 1, 0)
	m.PushSilence(2)
	assert.Equal(t, 5, m.AvailableSamples())

	m.Trim(2)
	assert.Equal(t, 2, m.AvailableSamples())
	assert.Equal(t, []int16{0, 0}, readInt16(m.GetLinearData(2)))

	m.Trim(5)
	assert.Equal(t, 2, m.AvailableSamples(), "trim never grows the buffer")
}

func TestTrimDropsPendingFirst(t *testing.T) {
	m := New(pcm.S16LE, 1, 32)
	m.PushData(int16Frames(1, 2, 3, 4), 4, 1, 0)
	m.GetLinearData(2)

	m.Trim(1)
	assert.Equal(t, []int16{4}, readInt16(m.GetLinearData(1)))
}

func TestClear(t *testing.T) {
	m := New(pcm.F32BE, 2, 8)
	assert.Equal(t, pcm.F32LE, m.Format())
	m.PushSilence(4)
	m.GetLinearData(2)
	m.Clear()
	assert.Zero(t, m.AvailableSamples())
	assert.Equal(t, 16, m.CapacitySamples())
}

func TestShortPeekThenPopKeepsPendingData(t *testing.T) {
	m := New(pcm.S16LE, 1, 16)
	m.PushData(int16Frames(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), 10, 1, 0)

	m.GetLinearData(10)
	assert.Equal(t, []int16{1, 2, 3, 4}, readInt16(m.GetLinearData(4)))
	m.Pop(2)

	assert.Equal(t, 8, m.AvailableSamples())
	assert.Equal(t, []int16{3, 4, 5, 6, 7, 8, 9, 10}, readInt16(m.GetLinearData(8)))
}

func TestConcurrentPushAndSilencePadding(t *testing.T) {
	const (
		rounds = 2000
		frames = 64
	)
	m := New(pcm.S16LE, 1, rounds*frames*2)
	stereo := make([]byte, frames*2*2)
	for i := range frames * 2 {
		pcm.PutInt16(stereo, i, 1000)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range rounds {
			m.PushData(stereo, frames, 2, 0)
		}
	}()
	go func() {
		defer wg.Done()
		for range rounds {
			m.PushSilence(frames)
		}
	}()
	wg.Wait()

	require.Equal(t, 2*rounds*frames, m.AvailableSamples())
	var captured, silent int
	for _, v := range readInt16(m.GetLinearData(2 * rounds * frames)) {
		switch v {
		case 2000:
			captured++
		case 0:
			silent++
		}
	}
	assert.Equal(t, rounds*frames, captured, "captured frames must keep their summed value")
	assert.Equal(t, rounds*frames, silent, "padding must stay silent")
}
