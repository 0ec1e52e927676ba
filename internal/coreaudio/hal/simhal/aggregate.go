package simhal

import (
	"slices"

	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
)

// PluginForBundleID implements hal.Hardware.
func (h *Hardware) PluginForBundleID(bundleID string) (hal.ObjectID, error) {
	if err := h.takeFailure("PluginForBundleID"); err != nil {
		return hal.Unknown, err
	}
	if bundleID != CoreAudioBundleID {
		return hal.Unknown, hal.StatusBadObject
	}
	return pluginID, nil
}

// CreateAggregate implements hal.Hardware. The new device has no sub-devices
// and appears in the device list immediately.
func (h *Hardware) CreateAggregate(plugin hal.ObjectID, desc hal.AggregateDescription) (hal.ObjectID, error) {
	h.mu.Lock()
	if err := h.takeFailureLocked("CreateAggregate"); err != nil {
		h.mu.Unlock()
		return hal.Unknown, err
	}
	if plugin != pluginID || desc.UID == "" {
		h.mu.Unlock()
		return hal.Unknown, hal.StatusIllegalOperation
	}
	id := h.allocID()
	h.devices[id] = &device{
		id:              id,
		spec:            DeviceSpec{UID: desc.UID, Name: desc.Name, BufferRange: hal.Range{Min: 14, Max: 4096}},
		alive:           true,
		class:           hal.ClassAggregateDevice,
		rate:            48000,
		bufferFrameSize: 512,
		plugin:          plugin,
		private:         desc.Private,
	}
	h.order = append(h.order, id)
	h.stats.AggregatesCreated++
	h.mu.Unlock()

	h.fire(hal.SystemObject, hal.Address{Selector: hal.PropertyDevices, Scope: hal.ScopeGlobal})
	return id, nil
}

// DestroyAggregate implements hal.Hardware.
func (h *Hardware) DestroyAggregate(plugin, id hal.ObjectID) error {
	h.mu.Lock()
	if err := h.takeFailureLocked("DestroyAggregate"); err != nil {
		h.mu.Unlock()
		return err
	}
	d, ok := h.devices[id]
	if !ok || d.class != hal.ClassAggregateDevice || d.plugin != plugin {
		h.mu.Unlock()
		return hal.StatusBadObject
	}
	for _, sub := range d.owned {
		delete(h.subDevices, sub)
	}
	d.alive = false
	h.removeLocked(id)
	h.stats.AggregatesDestroyed++
	h.mu.Unlock()

	h.fire(hal.SystemObject, hal.Address{Selector: hal.PropertyDevices, Scope: hal.ScopeGlobal})
	return nil
}

func (h *Hardware) aggregateLocked(id hal.ObjectID) (*device, error) {
	d, err := h.deviceLocked(id)
	if err != nil {
		return nil, err
	}
	if d.class != hal.ClassAggregateDevice {
		return nil, hal.StatusUnknownProperty
	}
	return d, nil
}

// ActiveSubDevices implements hal.Hardware.
func (h *Hardware) ActiveSubDevices(id hal.ObjectID) ([]hal.ObjectID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, err := h.aggregateLocked(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(d.members), nil
}

// SetSubDeviceList implements hal.Hardware. Each UID gets a new owned
// sub-device object, in list order.
func (h *Hardware) SetSubDeviceList(aggregate hal.ObjectID, uids []string) error {
	h.mu.Lock()
	if err := h.takeFailureLocked("SetSubDeviceList"); err != nil {
		h.mu.Unlock()
		return err
	}
	d, err := h.aggregateLocked(aggregate)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	members := make([]hal.ObjectID, 0, len(uids))
	for _, uid := range uids {
		member := hal.Unknown
		for _, id := range h.order {
			if h.devices[id].spec.UID == uid {
				member = id
				break
			}
		}
		if member == hal.Unknown {
			h.mu.Unlock()
			return hal.StatusBadObject
		}
		members = append(members, member)
	}
	for _, sub := range d.owned {
		delete(h.subDevices, sub)
	}
	d.members = members
	d.owned = d.owned[:0]
	for _, uid := range uids {
		sub := h.allocID()
		h.subDevices[sub] = &subDevice{id: sub, aggregate: aggregate, uid: uid}
		d.owned = append(d.owned, sub)
	}
	if len(members) > 0 {
		d.rate = h.devices[members[0]].rate
	}
	h.mu.Unlock()

	h.fire(aggregate, hal.Address{Selector: hal.PropertySubDeviceList, Scope: hal.ScopeGlobal})
	return nil
}

// SetMasterSubDevice implements hal.Hardware.
func (h *Hardware) SetMasterSubDevice(aggregate hal.ObjectID, uid string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked("SetMasterSubDevice"); err != nil {
		return err
	}
	d, err := h.aggregateLocked(aggregate)
	if err != nil {
		return err
	}
	for _, sub := range d.owned {
		if h.subDevices[sub].uid == uid {
			d.masterUID = uid
			return nil
		}
	}
	return hal.StatusIllegalOperation
}

// MasterSubDevice returns the UID of the clock master of an aggregate.
func (h *Hardware) MasterSubDevice(aggregate hal.ObjectID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.devices[aggregate]; ok {
		return d.masterUID
	}
	return ""
}

// OwnedSubDevices implements hal.Hardware.
func (h *Hardware) OwnedSubDevices(aggregate hal.ObjectID) ([]hal.ObjectID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, err := h.aggregateLocked(aggregate)
	if err != nil {
		return nil, err
	}
	return slices.Clone(d.owned), nil
}

// SubDeviceUID returns the UID of the device an owned sub-device stands for.
func (h *Hardware) SubDeviceUID(sub hal.ObjectID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subDevices[sub]; ok {
		return s.uid
	}
	return ""
}

// DriftCompensation implements hal.Hardware.
func (h *Hardware) DriftCompensation(sub hal.ObjectID) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subDevices[sub]
	if !ok {
		return false, hal.StatusBadObject
	}
	return s.drift, nil
}

// SetDriftCompensation implements hal.Hardware.
func (h *Hardware) SetDriftCompensation(sub hal.ObjectID, enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.takeFailureLocked("SetDriftCompensation"); err != nil {
		return err
	}
	s, ok := h.subDevices[sub]
	if !ok {
		return hal.StatusBadObject
	}
	s.drift = enabled
	return nil
}
