package coreaudio

import (
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
)

// installedListener is one hardware listener owned by a stream.
type installedListener struct {
	device hal.ObjectID
	addr   hal.Address
	token  hal.ListenerToken
}

// listenerSet tracks the hardware listeners a stream installed. Device
// listeners follow the physical devices and are replaced on reinit. System
// listeners follow the default devices and survive a failed reinit until the
// stream is destroyed.
type listenerSet struct {
	device []installedListener
	system []installedListener
}

func (s *Stream) addListener(dst *[]installedListener, device hal.ObjectID, addr hal.Address) {
	token, err := s.ctx.hw.AddListener(device, addr, s.ctx.streamListener(s.id))
	if err != nil {
		s.ctx.metrics.listenerFailure("install")
		s.logger.Warn("failed to install property listener",
			"device_id", uint32(device),
			"property", addr.String(),
			"error", err)
		return
	}
	*dst = append(*dst, installedListener{device: device, addr: addr, token: token})
}

func (s *Stream) removeListeners(list *[]installedListener) {
	for _, l := range *list {
		if err := s.ctx.hw.RemoveListener(l.token); err != nil {
			s.ctx.metrics.listenerFailure("uninstall")
			s.logger.Debug("failed to remove property listener",
				"device_id", uint32(l.device),
				"property", l.addr.String(),
				"error", err)
		}
	}
	*list = nil
}

// installListeners watches the devices in use. Failures are logged and the
// stream runs without the affected notification.
func (s *Stream) installListeners() {
	if s.hasOutput() {
		s.addListener(&s.listeners.device, s.outputDevice.ID,
			hal.Address{Selector: hal.PropertyDataSource, Scope: hal.ScopeOutput})
	}
	if s.hasInput() {
		s.addListener(&s.listeners.device, s.inputDevice.ID,
			hal.Address{Selector: hal.PropertyDataSource, Scope: hal.ScopeInput})
		s.addListener(&s.listeners.device, s.inputDevice.ID,
			hal.Address{Selector: hal.PropertyDeviceIsAlive, Scope: hal.ScopeGlobal})
	}

	if len(s.listeners.system) > 0 {
		return
	}
	if s.hasOutput() && s.outputDevice.Direction.SelectedDefault() {
		s.addListener(&s.listeners.system, hal.SystemObject,
			hal.Address{Selector: hal.PropertyDefaultOutputDevice, Scope: hal.ScopeGlobal})
	}
	if s.hasInput() && s.inputDevice.Direction.SelectedDefault() {
		s.addListener(&s.listeners.system, hal.SystemObject,
			hal.Address{Selector: hal.PropertyDefaultInputDevice, Scope: hal.ScopeGlobal})
	}
}

// uninstallListeners removes the device listeners. System listeners stay
// installed across a reinit and go with the stream.
func (s *Stream) uninstallListeners() {
	s.removeListeners(&s.listeners.device)
	if s.destroyPending.Load() {
		s.removeListeners(&s.listeners.system)
	}
}

// uninstallSystemListeners drops the default device listeners of a stream
// that can not be recovered.
func (s *Stream) uninstallSystemListeners() {
	s.removeListeners(&s.listeners.system)
}

// propertyChanged runs on the hardware notification goroutine. It classifies
// the change and schedules a reinit. Notifications that arrive while a switch
// is already in flight are folded into it.
func (s *Stream) propertyChanged(device hal.ObjectID, addrs []hal.Address) {
	if s.destroyPending.Load() {
		return
	}
	if !s.switchingDevice.CompareAndSwap(false, true) {
		s.ctx.metrics.coalescedEvent()
		s.logger.Debug("device change already in progress, ignoring", "device_id", uint32(device))
		return
	}

	snap := s.devices.Load()
	relevant := false
	for _, addr := range addrs {
		switch addr.Selector {
		case hal.PropertyDefaultOutputDevice:
			s.logger.Info("default output device changed")
			relevant = true
		case hal.PropertyDefaultInputDevice:
			s.logger.Info("default input device changed")
			relevant = true
		case hal.PropertyDeviceIsAlive:
			if snap.input.Direction != nil && snap.input.Direction.SystemDefault() {
				// The default input listener reports the replacement.
				s.logger.Debug("default input device died, waiting for the new default",
					"device_id", uint32(device))
				continue
			}
			s.logger.Info("input device died", "device_id", uint32(device))
			relevant = true
		case hal.PropertyDataSource:
			s.logger.Info("data source changed",
				"device_id", uint32(device),
				"scope", addr.Scope.String())
			relevant = true
		default:
			s.logger.Debug("ignoring property change",
				"device_id", uint32(device),
				"property", addr.String())
		}
	}
	if !relevant {
		s.switchingDevice.Store(false)
		return
	}

	s.notifyDeviceChanged()
	s.reinitAsync()
}
