package coreaudio

import (
	"fmt"
	"slices"
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

// resolveDevice builds the DeviceInfo for a requested device. Unknown selects
// the system default.
func (c *Context) resolveDevice(id hal.ObjectID, scope hal.Scope) (DeviceInfo, error) {
	def, defErr := c.hw.DefaultDevice(scope)
	selected := id == hal.Unknown
	if selected {
		if defErr != nil {
			return DeviceInfo{}, deviceError("get default device", id, scope, defErr)
		}
		id = def
	}
	system := defErr == nil && id == def

	info := DeviceInfo{ID: id}
	if scope == hal.ScopeInput {
		info.Direction = Input{IsSelectedDefault: selected, IsSystemDefault: system}
	} else {
		info.Direction = Output{IsSelectedDefault: selected, IsSystemDefault: system}
	}
	return info, nil
}

// devicesOf lists the sorted ids of devices with channels in scope, skipping
// the private aggregate devices this backend creates.
func (c *Context) devicesOf(scope hal.Scope) []hal.ObjectID {
	all, err := c.hw.Devices()
	if err != nil {
		c.logger.Warn("failed to list devices", "error", err)
		return nil
	}
	devices := make([]hal.ObjectID, 0, len(all))
	for _, id := range all {
		if channels, err := c.hw.ChannelCount(id, scope); err != nil || channels == 0 {
			continue
		}
		if name, err := c.hw.DeviceName(id); err == nil && c.isPrivateAggregate(name) {
			continue
		}
		devices = append(devices, id)
	}
	slices.Sort(devices)
	return devices
}

func (c *Context) isPrivateAggregate(name string) bool {
	base := c.settings.Aggregate.Name
	return base != "" && strings.Contains(name, base)
}

// EnumerateDevices describes the devices of devType, input devices first.
func (c *Context) EnumerateDevices(devType DeviceType) ([]DeviceDescription, error) {
	scopes := devType.scopes()
	if len(scopes) == 0 {
		return nil, ErrInvalidParameter
	}
	var out []DeviceDescription
	for _, scope := range scopes {
		def, _ := c.hw.DefaultDevice(scope)
		for _, id := range c.devicesOf(scope) {
			desc, err := c.describe(id, scope)
			if err != nil {
				c.logger.Debug("skipping device", "device_id", uint32(id), "scope", scope.String(), "error", err)
				continue
			}
			if alive, err := c.hw.IsAlive(id); err != nil || !alive {
				desc.State = DeviceStateUnplugged
			}
			if id == def {
				desc.Preferred = DevicePrefAll
			}
			out = append(out, desc)
		}
	}
	return out, nil
}

// describe returns the static part of a device description, cached per device
// and scope until the collection changes.
func (c *Context) describe(id hal.ObjectID, scope hal.Scope) (DeviceDescription, error) {
	key := fmt.Sprintf("%d/%s", id, scope)
	if v, ok := c.devices.Get(key); ok {
		return v.(DeviceDescription), nil
	}

	uid, err := c.hw.DeviceUID(id)
	if err != nil {
		return DeviceDescription{}, deviceError("get device uid", id, scope, err)
	}
	channels, err := c.hw.ChannelCount(id, scope)
	if err != nil {
		return DeviceDescription{}, deviceError("get channel count", id, scope, err)
	}
	desc := DeviceDescription{
		Devid:         id,
		DeviceID:      uid,
		FriendlyName:  uid,
		GroupID:       uid,
		Type:          deviceTypeOf(scope),
		State:         DeviceStateEnabled,
		Formats:       []pcm.SampleFormat{pcm.S16LE, pcm.S16BE, pcm.F32LE, pcm.F32BE},
		DefaultFormat: pcm.F32LE,
		MaxChannels:   channels,
	}
	if name, err := c.hw.DeviceName(id); err == nil && name != "" {
		desc.FriendlyName = name
	}
	if model, err := c.hw.ModelUID(id); err == nil && model != "" {
		desc.GroupID = model
	}
	if vendor, err := c.hw.Manufacturer(id); err == nil {
		desc.VendorName = vendor
	}

	if rate, err := c.hw.NominalSampleRate(id); err == nil {
		desc.DefaultRate = uint32(rate)
		desc.MinRate, desc.MaxRate = desc.DefaultRate, desc.DefaultRate
	}
	if ranges, err := c.hw.AvailableSampleRates(id, scope); err == nil && len(ranges) > 0 {
		lo, hi := ranges[0].Min, ranges[0].Max
		for _, r := range ranges[1:] {
			lo, hi = min(lo, r.Min), max(hi, r.Max)
		}
		desc.MinRate, desc.MaxRate = uint32(lo), uint32(hi)
	}

	var latency uint32
	if l, err := c.hw.Latency(id, scope); err == nil {
		latency = l
	}
	if l, err := c.hw.StreamLatency(id, scope); err == nil {
		latency += l
	}
	if r, err := c.hw.BufferFrameSizeRange(id, scope); err == nil {
		desc.LatencyLo = latency + uint32(r.Min)
		desc.LatencyHi = latency + uint32(r.Max)
	}

	c.devices.Set(key, desc, cache.DefaultExpiration)
	return desc, nil
}

// outputChannelOrder returns the SMPTE order of the device output channels.
func (c *Context) outputChannelOrder(id hal.ObjectID, channels int) ([]pcm.Channel, pcm.ChannelLayout) {
	labels, err := c.hw.ChannelLayout(id, hal.ScopeOutput)
	if err != nil || len(labels) != channels {
		c.logger.Debug("device channel layout unavailable, using default order",
			"device_id", uint32(id),
			"channels", channels,
			"error", err)
		return nil, pcm.LayoutUndefined
	}
	order := channelsFromLabels(labels)
	return order, layoutOf(order)
}

// dataSourceName returns the device data source as a four character name, or
// "" when the device has none.
func (c *Context) dataSourceName(id hal.ObjectID, scope hal.Scope) string {
	if id == hal.Unknown {
		return ""
	}
	src, err := c.hw.DataSource(id, scope)
	if err != nil {
		return ""
	}
	return strings.TrimRight(hal.FourCCString(src), " \x00")
}
