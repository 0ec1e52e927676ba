package resampler

import (
	"math"

	"github.com/ik5/audpbx/utils"

	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

// historyFrames is the number of past input frames kept for interpolation.
const historyFrames = 3

// Cubic resamples input with Catmull-Rom interpolation. Output is never
// resampled since the output unit renders at the stream rate.
type Cubic struct {
	cfg      Config
	format   pcm.SampleFormat
	channels int
	ratio    float64 // input frames per stream frame

	// Interpolation state. history holds the last consumed input frames,
	// oldest first, as floats.
	pos      float64
	history  []float32
	primed   bool
	floatIn  []float32
	scratch  []float32
	resample []byte
}

var _ Resampler = (*Cubic)(nil)

func newCubic(cfg Config) *Cubic {
	c := &Cubic{cfg: cfg}
	if cfg.Input != nil {
		c.format = cfg.Input.Format.Native()
		c.channels = cfg.Input.Channels
		c.ratio = float64(cfg.Input.Rate) / float64(cfg.TargetRate)
		c.history = make([]float32, historyFrames*c.channels)
	}
	return c
}

// Ratio returns input frames consumed per stream frame.
func (c *Cubic) Ratio() float64 { return c.ratio }

// Reset drops interpolation history.
func (c *Cubic) Reset() {
	c.pos = 0
	c.primed = false
	clear(c.history)
}

// Fill implements Resampler.
func (c *Cubic) Fill(input []byte, inputFrames int, output []byte, outputFrames int) (int, int) {
	switch {
	case c.cfg.Input == nil:
		return c.cfg.Callback(nil, output, outputFrames), 0
	case c.cfg.Output == nil:
		return c.fillInputOnly(input, inputFrames)
	default:
		return c.fillDuplex(input, inputFrames, output, outputFrames)
	}
}

// fillInputOnly converts every input frame that can be interpolated and
// reports a short consumption when the callback takes fewer frames.
func (c *Cubic) fillInputOnly(input []byte, inputFrames int) (int, int) {
	if inputFrames <= 0 {
		return 0, 0
	}
	var frames, consumed int
	var data []byte
	if c.ratio == 1 {
		frames, consumed = inputFrames, inputFrames
		data = input[:inputFrames*c.frameBytes()]
	} else {
		frames = int(math.Floor((float64(inputFrames) - c.pos) / c.ratio))
		if frames <= 0 {
			return 0, 0
		}
		data, consumed = c.interpolate(input, inputFrames, frames)
	}

	got := c.cfg.Callback(data, nil, frames)
	if got < frames {
		return got, min(consumed, int(math.Ceil(float64(got)*c.ratio)))
	}
	return got, consumed
}

// fillDuplex produces exactly outputFrames input frames at the stream rate and
// hands them to the callback with the output buffer.
func (c *Cubic) fillDuplex(input []byte, inputFrames int, output []byte, outputFrames int) (int, int) {
	if outputFrames <= 0 {
		return 0, 0
	}
	var data []byte
	var consumed int
	if c.ratio == 1 {
		data, consumed = c.passthrough(input, inputFrames, outputFrames)
	} else {
		data, consumed = c.interpolate(input, inputFrames, outputFrames)
	}
	return c.cfg.Callback(data, output, outputFrames), consumed
}

func (c *Cubic) frameBytes() int {
	return c.channels * c.format.BytesPerSample()
}

// passthrough returns outputFrames frames of input, zero padding a shortfall.
func (c *Cubic) passthrough(input []byte, inputFrames, outputFrames int) ([]byte, int) {
	consumed := min(inputFrames, outputFrames)
	fb := c.frameBytes()
	if consumed == outputFrames {
		return input[:outputFrames*fb], consumed
	}
	buf := c.resampleBuffer(outputFrames)
	n := copy(buf, input[:consumed*fb])
	clear(buf[n:])
	return buf, consumed
}

func (c *Cubic) resampleBuffer(frames int) []byte {
	need := frames * c.frameBytes()
	if cap(c.resample) < need {
		c.resample = make([]byte, need)
	}
	return c.resample[:need]
}

// interpolate produces frames stream-rate frames from input and returns the
// number of input frames it moved past.
func (c *Cubic) interpolate(input []byte, inputFrames, frames int) ([]byte, int) {
	ch := c.channels
	samples := inputFrames * ch
	if cap(c.floatIn) < samples {
		c.floatIn = make([]float32, samples)
	}
	in := c.floatIn[:samples]
	for i := range in {
		in[i] = pcm.SampleAt(c.format, input, i)
	}
	if !c.primed && inputFrames > 0 {
		for h := range historyFrames {
			copy(c.history[h*ch:(h+1)*ch], in[:ch])
		}
		c.primed = true
	}

	// at returns channel k of input frame j, reaching into history for
	// negative indexes and holding the last frame past the end.
	at := func(j, k int) float32 {
		switch {
		case j < 0:
			h := max(historyFrames+j, 0)
			return c.history[h*ch+k]
		case j >= inputFrames:
			if inputFrames == 0 {
				return c.history[(historyFrames-1)*ch+k]
			}
			return in[(inputFrames-1)*ch+k]
		default:
			return in[j*ch+k]
		}
	}

	out := c.resampleBuffer(frames)
	for f := range frames {
		p := c.pos + float64(f)*c.ratio
		base := int(math.Floor(p))
		frac := float32(p - float64(base))
		for k := range ch {
			v := utils.CubicInterpolate(at(base-1, k), at(base, k), at(base+1, k), at(base+2, k), frac)
			c.putSample(out, f*ch+k, v)
		}
	}

	end := c.pos + float64(frames)*c.ratio
	whole := math.Floor(end)
	consumed := min(inputFrames, max(int(whole), 0))
	c.pos = end - float64(consumed)
	if int(whole) > inputFrames {
		// Starved input was held; do not skip ahead to make up for it.
		c.pos = end - whole
	}

	// Remember the last consumed frames for the next period. at reads the
	// old history, so collect into scratch first.
	next := c.scratch[:0]
	for h := range historyFrames {
		j := consumed - historyFrames + h
		for k := range ch {
			next = append(next, at(j, k))
		}
	}
	copy(c.history, next)
	c.scratch = next

	return out, consumed
}

// putSample writes v, nominally in [-1, 1], as sample i of out.
func (c *Cubic) putSample(out []byte, i int, v float32) {
	if c.format.IsFloat() {
		pcm.PutFloat32(out, i, v)
		return
	}
	pcm.PutInt16(out, i, utils.Float32ToInt16(v))
}
