package coreaudio

import (
	"math"

	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

// MinimumResamplingInputFrames returns the input frames needed to produce
// outputFrames at outputRate from inputRate. Equal rates need no conversion.
func MinimumResamplingInputFrames(inputRate, outputRate float64, outputFrames int64) int64 {
	if inputRate == 0 || outputRate == 0 {
		panic("coreaudio: zero sample rate")
	}
	if inputRate == outputRate {
		return outputFrames
	}
	return int64(math.Ceil(float64(outputFrames) * inputRate / outputRate))
}

// skipLeadingChannels is the number of leading hardware channels dropped
// before input reaches the stream. A stereo device feeding a mono stream
// keeps both channels so they can be summed.
func skipLeadingChannels(hwChannels, streamChannels int) int {
	if hwChannels == 2 && streamChannels == 1 {
		return 0
	}
	return max(hwChannels-streamChannels, 0)
}

// resamplerCallback hands stream rate data to the client.
func (s *Stream) resamplerCallback(input, output []byte, frames int) int {
	got := s.dataCallback(s, input, output, frames)
	if got < frames {
		s.shortCallback = true
	}
	if input != nil {
		s.inputDump.Write(input[:frames*s.inputParams.FrameSize()])
	}
	if output != nil && got > 0 {
		s.outputDump.Write(output[:min(got, frames)*s.outputParams.FrameSize()])
	}
	return got
}

// inputCallback runs on the realtime goroutine when captured frames are
// ready.
func (s *Stream) inputCallback(frames int) hal.Status {
	s.metrics.inputCallback(frames)
	if s.shutdown.Load() || s.inputBuffer == nil {
		return hal.StatusOK
	}

	need := frames * s.inputHWChannels * s.inputParams.Format.BytesPerSample()
	if len(s.inputScratch) < need {
		s.inputScratch = make([]byte, need)
	}
	status := s.inputUnit.Render(frames, s.inputScratch[:need])
	switch status {
	case hal.StatusOK:
		before := s.inputBuffer.Dropped()
		s.inputBuffer.PushData(s.inputScratch, frames, s.inputHWChannels,
			skipLeadingChannels(s.inputHWChannels, s.inputParams.Channels))
		s.metrics.overflow(s.inputBuffer.Dropped() - before)
	case hal.StatusCannotDoInCurrentContext:
		// The device is switching profile. Keep the timeline moving with
		// silence and rebuild a duplex stream once it settles. Input-only
		// streams just pad and wait for the device to recover.
		s.metrics.renderError(status)
		s.inputBuffer.PushSilence(frames)
		if s.duplex() {
			s.framesRead.Add(int64(frames))
			s.reinitAsync()
			return hal.StatusOK
		}
	default:
		s.metrics.renderError(status)
		s.logger.Error("input render failed", "status", int32(status), "frames", frames)
		return status
	}
	s.framesRead.Add(int64(frames))

	if s.hasOutput() {
		return hal.StatusOK
	}

	// Input only: hand everything buffered to the client now.
	ch := s.inputParams.Channels
	available := s.inputBuffer.AvailableFrames()
	if available == 0 {
		return hal.StatusOK
	}
	_, consumed := s.resampler.Fill(s.inputBuffer.GetLinearData(available*ch), available, nil, 0)
	s.inputBuffer.Pop(consumed * ch)
	if s.shortCallback && s.drained.CompareAndSwap(false, true) {
		s.stopUnits()
		s.notifyState(StateDrained)
	}
	return hal.StatusOK
}

// outputCallback runs on the realtime goroutine and fills out with frames of
// output in the unit client format.
func (s *Stream) outputCallback(out []byte, frames int) hal.Status {
	s.metrics.outputCallback(frames)

	if s.shutdown.Load() {
		pcm.Zero(out)
		return hal.StatusOK
	}
	s.framesPlayed.Store(s.framesQueued.Load())
	if s.draining.Load() {
		s.stopUnits()
		if s.drained.CompareAndSwap(false, true) {
			s.notifyState(StateDrained)
		}
		pcm.Zero(out)
		return hal.StatusOK
	}

	var input []byte
	inputFrames := 0
	if s.hasInput() && s.inputBuffer != nil {
		input, inputFrames = s.pullInput(frames)
	}

	dst := out
	if s.mixer != nil {
		s.mixer.UpdateBufferSize(frames)
		dst = s.mixer.Buffer()
	}
	produced, consumed := s.resampler.Fill(input, inputFrames, dst, frames)
	if produced < 0 || produced > frames || consumed > inputFrames {
		s.logger.Error("data callback returned an invalid frame count",
			"produced", produced,
			"consumed", consumed,
			"requested", frames,
			"input_frames", inputFrames)
		s.shutdown.Store(true)
		s.stopUnits()
		s.notifyState(StateError)
		pcm.Zero(out)
		return hal.StatusOK
	}

	if input != nil {
		s.inputBuffer.Pop(consumed * s.inputParams.Channels)
	}

	if produced < frames {
		fs := s.outputParams.FrameSize()
		pcm.Zero(dst[produced*fs : frames*fs])
		s.draining.Store(true)
	}

	if s.mixer != nil {
		if err := s.mixer.Mix(frames, out); err != nil {
			s.logger.Error("output mix failed", "error", err)
			pcm.Zero(out)
		}
	}

	s.framesQueued.Add(int64(produced))
	s.framesWritten.Add(int64(frames))
	return hal.StatusOK
}

// pullInput tops up the input buffer with silence when capture lags behind
// and returns the buffered input for one output period.
func (s *Stream) pullInput(frames int) ([]byte, int) {
	ch := s.inputParams.Channels
	needed := MinimumResamplingInputFrames(s.inputHWRate, float64(s.outputParams.Rate),
		s.framesWritten.Load()+int64(frames))
	if missing := needed - s.framesRead.Load(); missing > 0 {
		reason := dropoutUnderrun
		switch {
		case s.framesRead.Load() == 0:
			reason = dropoutInputNotStarted
		case s.switchingDevice.Load() || s.reinitPending.Load():
			reason = dropoutDeviceSwitching
		}
		s.inputBuffer.PushSilence(int(missing))
		s.framesRead.Add(missing)
		s.metrics.dropout(reason, missing)
		if s.dropoutLimiter.Allow() {
			s.logger.Warn(dropoutMessages[reason], "frames", missing)
		}
	}

	latency := int(s.negotiated.Load())
	available := s.inputBuffer.AvailableFrames()
	switch {
	case s.framesWritten.Load() == 0:
		perPeriod := int(MinimumResamplingInputFrames(s.inputHWRate, float64(s.outputParams.Rate), int64(frames)))
		if available > perPeriod {
			s.inputBuffer.Trim(perPeriod * ch)
			s.metrics.trim(available - perPeriod)
		}
	case available > 4*latency:
		s.inputBuffer.Trim(2 * latency * ch)
		s.metrics.trim(available - 2*latency)
	}

	available = s.inputBuffer.AvailableFrames()
	return s.inputBuffer.GetLinearData(available * ch), available
}
