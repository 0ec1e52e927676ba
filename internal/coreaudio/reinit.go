package coreaudio

import (
	"time"

	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
)

// reinitAsync schedules a rebuild of the stream on the serial queue. At most
// one rebuild is pending at a time.
func (s *Stream) reinitAsync() {
	if !s.reinitPending.CompareAndSwap(false, true) {
		return
	}
	s.switchingDevice.Store(true)
	if err := s.ctx.queue.RunAsync(s.runReinit); err != nil {
		s.logger.Debug("reinit not scheduled", "error", err)
		s.switchingDevice.Store(false)
		s.reinitPending.Store(false)
	}
}

// runReinit rebuilds the units on the current devices and restarts the
// stream if it was running. Runs on the serial queue.
func (s *Stream) runReinit() {
	defer func() {
		s.switchingDevice.Store(false)
		s.reinitPending.Store(false)
	}()
	if s.destroyPending.Load() {
		return
	}

	start := time.Now()
	c := s.ctx
	c.mu.Lock()
	s.mu.Lock()
	err := s.reinitLocked()
	s.mu.Unlock()
	c.mu.Unlock()

	if err != nil {
		c.metrics.reinit("failed", time.Since(start))
		s.logger.Error("stream reinit failed", "error", err)
		s.notifyState(StateError)
		return
	}
	c.metrics.reinit("ok", time.Since(start))
	input, output := s.Devices()
	s.logger.Info("stream reinitialized",
		"input_device", uint32(input.ID),
		"output_device", uint32(output.ID),
		"duration", time.Since(start))
}

// reinitLocked tears the stream down and sets it up again. Caller holds
// Context.mu and Stream.mu.
func (s *Stream) reinitLocked() error {
	wasRunning := !s.shutdown.Load()
	s.shutdown.Store(true)
	s.stopUnits()

	var volume float32 = 1
	if s.outputUnit != nil {
		if v, err := s.outputUnit.Volume(); err == nil {
			volume = v
		}
	}

	s.close()

	if err := s.refreshDevices(); err != nil {
		s.uninstallSystemListeners()
		return err
	}

	if err := s.setupWithFallback(); err != nil {
		s.uninstallSystemListeners()
		return err
	}

	if s.outputUnit != nil {
		if err := s.outputUnit.SetVolume(volume); err != nil {
			s.logger.Warn("failed to restore volume", "volume", volume, "error", err)
		}
	}
	s.framesRead.Store(0)
	s.framesWritten.Store(0)
	s.drained.Store(false)
	s.draining.Store(false)

	if !wasRunning {
		return nil
	}
	s.shutdown.Store(false)
	if err := s.startUnits(); err != nil {
		s.shutdown.Store(true)
		s.uninstallSystemListeners()
		return err
	}
	return nil
}

// refreshDevices picks the devices for the rebuilt stream. An output that
// followed the default moves to the new default. An input keeps its device
// unless it followed the default or disappeared.
func (s *Stream) refreshDevices() error {
	if s.hasOutput() {
		id := hal.Unknown
		if !s.outputDevice.Direction.SelectedDefault() {
			if alive, err := s.ctx.hw.IsAlive(s.outputDevice.ID); err == nil && alive {
				id = s.outputDevice.ID
			}
		}
		info, err := s.ctx.resolveDevice(id, hal.ScopeOutput)
		if err != nil {
			return err
		}
		s.outputDevice = info
	}
	if s.hasInput() {
		id := s.inputDevice.ID
		if s.inputDevice.Direction.SelectedDefault() {
			id = hal.Unknown
		} else if alive, err := s.ctx.hw.IsAlive(id); err != nil || !alive {
			s.logger.Warn("input device gone, falling back to the default input",
				"device_id", uint32(id))
			id = hal.Unknown
		}
		info, err := s.ctx.resolveDevice(id, hal.ScopeInput)
		if err != nil {
			return err
		}
		s.inputDevice = info
	}
	s.publishDevices()
	return nil
}
