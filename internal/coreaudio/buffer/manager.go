// Package buffer implements the linear input buffer that carries raw input
// samples from the input callback to the output callback.
//
// The input callback produces and the output callback consumes. The output
// callback may also pad silence, so writes are serialized. Samples are little-endian S16 or F32 held in a byte ring buffer.
package buffer

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
	"github.com/tphakala/go-cubeb/internal/errors"
	"github.com/tphakala/go-cubeb/internal/logging"
)

// Manager buffers interleaved input samples at the stream channel count.
type Manager struct {
	format   pcm.SampleFormat
	ss       int // bytes per sample
	channels int

	ring          *ringbuffer.RingBuffer
	capacityBytes int
	// writeMu keeps whole frames together when the output thread pads
	// silence while the input thread pushes.
	writeMu sync.Mutex

	// Consumer side. linear[:pending] holds samples read from the ring that
	// have not been popped yet.
	linear  []byte
	pending int
	discard []byte

	// Conversion buffer, touched only by PushData on the input thread.
	scratch []byte
	// Zeros for PushSilence, which runs on the output thread.
	silence []byte

	dropped atomic.Uint64
	logger  *slog.Logger
}

// New creates a Manager holding up to capacityFrames frames of channels
// channels. Callers size capacityFrames from the negotiated latency.
func New(format pcm.SampleFormat, channels, capacityFrames int) *Manager {
	if channels < 1 {
		channels = 1
	}
	if capacityFrames < 1 {
		capacityFrames = 1
	}
	ss := format.BytesPerSample()
	capacityBytes := capacityFrames * channels * ss

	logger := logging.ForService("coreaudio")
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		format:        format.Native(),
		ss:            ss,
		channels:      channels,
		ring:          ringbuffer.New(capacityBytes),
		capacityBytes: capacityBytes,
		linear:        make([]byte, 0, capacityBytes),
		logger:        logger.With("component", "buffer"),
	}
}

// Channels returns the stream channel count.
func (m *Manager) Channels() int { return m.channels }

// Format returns the little-endian sample format of buffered data.
func (m *Manager) Format() pcm.SampleFormat { return m.format }

// CapacitySamples returns the ring capacity in samples.
func (m *Manager) CapacitySamples() int { return m.capacityBytes / m.ss }

// PushData appends frames of interleaved input captured at hwChannels channels.
// skipLeading channels are dropped from the front of each frame first. If more
// channels remain than the stream wants, a stereo pair feeding a mono stream is
// summed and any other surplus is truncated. Returns the frames stored.
func (m *Manager) PushData(data []byte, frames, hwChannels, skipLeading int) int {
	if frames <= 0 {
		return 0
	}
	src := data[:frames*hwChannels*m.ss]
	inChannels := hwChannels - skipLeading
	if inChannels < m.channels {
		// Not enough channels to honor the request, pad with what exists.
		inChannels = hwChannels
		skipLeading = 0
	}
	if inChannels != m.channels || skipLeading != 0 {
		src = m.remix(src, frames, hwChannels, skipLeading, inChannels)
	}
	return m.write(src) / (m.channels * m.ss)
}

// remix converts frames to the stream channel count in the scratch buffer.
func (m *Manager) remix(src []byte, frames, hwChannels, skipLeading, inChannels int) []byte {
	need := frames * m.channels * m.ss
	if cap(m.scratch) < need {
		m.scratch = make([]byte, need)
	}
	dst := m.scratch[:need]
	clear(dst)

	downmix := inChannels == 2 && m.channels == 1
	keep := min(inChannels, m.channels)
	for f := range frames {
		in := f*hwChannels + skipLeading
		out := f * m.channels
		if downmix {
			m.sumPair(src, in, dst, out)
			continue
		}
		copy(dst[out*m.ss:(out+keep)*m.ss], src[in*m.ss:(in+keep)*m.ss])
	}
	return dst
}

// sumPair writes src[in]+src[in+1] to dst[out], saturating integer samples.
func (m *Manager) sumPair(src []byte, in int, dst []byte, out int) {
	if m.format.IsFloat() {
		pcm.PutFloat32(dst, out, pcm.Float32At(src, in)+pcm.Float32At(src, in+1))
		return
	}
	sum := int32(pcm.Int16At(src, in)) + int32(pcm.Int16At(src, in+1))
	pcm.PutInt16(dst, out, int16(max(min(sum, 32767), -32768)))
}

// PushSilence appends frames of silence and returns the frames stored.
func (m *Manager) PushSilence(frames int) int {
	if frames <= 0 {
		return 0
	}
	need := frames * m.channels * m.ss
	if len(m.silence) < need {
		m.silence = make([]byte, need)
	}
	return m.write(m.silence[:need]) / (m.channels * m.ss)
}

// write stores as many whole frames of p as fit and logs the rest as dropped.
func (m *Manager) write(p []byte) int {
	frameBytes := m.channels * m.ss
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	room := (m.ring.Free() / frameBytes) * frameBytes
	n := min(len(p), room)
	if n > 0 {
		written, err := m.ring.Write(p[:n])
		if err != nil {
			m.logger.Debug("ring buffer write failed", "error", err, "written", written)
		}
		n = written
	}
	if n < len(p) {
		droppedSamples := (len(p) - n) / m.ss
		m.dropped.Add(uint64(droppedSamples))
		m.logger.Debug("input ring buffer full",
			"pushed_samples", n/m.ss,
			"dropped_samples", droppedSamples)
	}
	return n
}

// AvailableSamples returns the number of buffered samples, including samples
// already handed out by GetLinearData but not yet popped.
func (m *Manager) AvailableSamples() int {
	return m.pending/m.ss + m.ring.Length()/m.ss
}

// AvailableFrames returns AvailableSamples in frames.
func (m *Manager) AvailableFrames() int {
	return m.AvailableSamples() / m.channels
}

// GetLinearData returns a contiguous view of the next samples buffered
// samples without consuming them. A shortfall is zero padded. The view is valid
// until the next call on the consumer side.
func (m *Manager) GetLinearData(samples int) []byte {
	want := samples * m.ss
	if cap(m.linear) < want {
		grown := make([]byte, m.pending, want)
		copy(grown, m.linear[:m.pending])
		m.linear = grown
	}
	// linear keeps at least pending bytes so Pop can compact all of them.
	m.linear = m.linear[:max(want, m.pending)]

	if m.pending < want {
		read, err := m.ring.Read(m.linear[m.pending:want])
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			m.logger.Debug("ring buffer read failed", "error", err)
		}
		m.pending += read
		clear(m.linear[m.pending:want])
	}
	return m.linear[:want]
}

// Pop consumes samples from the front of the buffered data.
func (m *Manager) Pop(samples int) {
	n := samples * m.ss
	if n >= m.pending {
		n -= m.pending
		m.pending = 0
		m.discardRing(n)
		return
	}
	copy(m.linear[:m.pending], m.linear[n:m.pending])
	m.pending -= n
}

// Trim discards the oldest samples so that at most finalSize remain.
func (m *Manager) Trim(finalSize int) {
	available := m.AvailableSamples()
	if available <= finalSize {
		return
	}
	m.Pop(available - finalSize)
}

// discardRing reads and drops n bytes from the ring.
func (m *Manager) discardRing(n int) {
	if m.discard == nil {
		m.discard = make([]byte, min(m.capacityBytes, 4096))
	}
	for n > 0 {
		chunk := min(n, len(m.discard))
		read, err := m.ring.Read(m.discard[:chunk])
		if err != nil || read == 0 {
			return
		}
		n -= read
	}
}

// Clear drops all buffered samples.
func (m *Manager) Clear() {
	m.pending = 0
	m.linear = m.linear[:0]
	m.ring.Reset()
}

// Dropped returns the number of samples discarded because the ring was full.
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}
