// Package aggregate builds the private aggregate device that lets one audio
// unit drive an input and an output living on different hardware under a
// single clock.
package aggregate

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/go-cubeb/internal/conf"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/errors"
	"github.com/tphakala/go-cubeb/internal/logging"
)

// BundleID is the bundle of the system plugin that owns aggregate devices.
const BundleID = "com.apple.audio.CoreAudio"

const appearancePoll = 10 * time.Millisecond

// ErrCreate is the sentinel of every aggregate setup failure.
var ErrCreate = errors.New(errors.NewStd("aggregate device creation failed")).
	Component("coreaudio.aggregate").
	Category(errors.CategoryAggregateDevice).
	Build()

// Options configures aggregate creation.
type Options struct {
	// Name is the base device name. A hex microsecond timestamp is appended.
	Name string
	// UIDPrefix is the reverse DNS prefix of the device UID.
	UIDPrefix string
	// CreateTimeout bounds the wait for the new device to be listed.
	CreateTimeout time.Duration
	Quirks        *QuirkTable
	Logger        *slog.Logger
}

// OptionsFromSettings maps backend settings onto Options.
func OptionsFromSettings(s *conf.BackendSettings) Options {
	return Options{
		Name:          s.Aggregate.Name,
		UIDPrefix:     s.Aggregate.UIDPrefix,
		CreateTimeout: s.Aggregate.CreateTimeout,
		Quirks:        NewQuirkTable(s.Quirks),
	}
}

// Device is an aggregate device owned by one stream.
type Device struct {
	hw     hal.Hardware
	opts   Options
	logger *slog.Logger

	plugin hal.ObjectID
	id     hal.ObjectID
	name   string
	uid    string
}

// New creates an aggregate device unioning input and output. The output's
// first sub-device is the clock master. On failure the partial device is
// destroyed before the error is returned.
func New(hw hal.Hardware, input, output hal.ObjectID, opts Options) (*Device, error) {
	if opts.Name == "" {
		opts.Name = conf.DefaultAggregateName
	}
	if opts.UIDPrefix == "" {
		opts.UIDPrefix = conf.DefaultAggregateUIDPrefix
	}
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = conf.DefaultAggregateCreateTimeout
	}
	l := opts.Logger
	if l == nil {
		l = logging.ForService("coreaudio")
		if l == nil {
			l = slog.Default()
		}
	}

	d := &Device{
		hw:     hw,
		opts:   opts,
		logger: l.With("component", "aggregate"),
	}
	if err := d.create(input, output); err != nil {
		if destroyErr := d.Destroy(); destroyErr != nil {
			d.logger.Warn("failed to destroy partial aggregate device", "error", destroyErr)
		}
		return nil, err
	}
	d.logger.Info("aggregate device created",
		"device_id", uint32(d.id),
		"name", d.name,
		"input", uint32(input),
		"output", uint32(output))
	return d, nil
}

func (d *Device) create(input, output hal.ObjectID) error {
	plugin, err := d.hw.PluginForBundleID(BundleID)
	if err != nil {
		return d.fail("resolve system plugin", err)
	}
	d.plugin = plugin

	if err := d.createBlank(); err != nil {
		return err
	}
	if err := SetSubDevices(d.hw, d.id, input, output); err != nil {
		return d.fail("set sub-devices", err)
	}
	if err := SetMasterDevice(d.hw, d.id, output); err != nil {
		return d.fail("set master device", err)
	}
	if err := ActivateClockDriftCompensation(d.hw, d.id); err != nil {
		return d.fail("activate drift compensation", err)
	}
	return d.applyQuirks(input, output)
}

// createBlank creates an empty private device and waits until the system
// lists it.
func (d *Device) createBlank() error {
	d.name = fmt.Sprintf("%s_%x", d.opts.Name, time.Now().UnixMicro())
	d.uid = fmt.Sprintf("%s.%s.%s", d.opts.UIDPrefix, d.name, uuid.NewString())

	listed := make(chan struct{}, 1)
	token, err := d.hw.AddListener(hal.SystemObject,
		hal.Address{Selector: hal.PropertyDevices, Scope: hal.ScopeGlobal},
		func(hal.ObjectID, []hal.Address) {
			select {
			case listed <- struct{}{}:
			default:
			}
		})
	if err == nil {
		defer func() {
			if err := d.hw.RemoveListener(token); err != nil {
				d.logger.Debug("failed to remove device list listener", "error", err)
			}
		}()
	}

	id, err := d.hw.CreateAggregate(d.plugin, hal.AggregateDescription{
		Name:    d.name,
		UID:     d.uid,
		Private: true,
		Stacked: false,
	})
	if err != nil {
		return d.fail("create blank device", err)
	}
	d.id = id

	deadline := time.NewTimer(d.opts.CreateTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(appearancePoll)
	defer poll.Stop()
	for {
		devices, err := d.hw.Devices()
		if err == nil && slices.Contains(devices, id) {
			return nil
		}
		select {
		case <-listed:
		case <-poll.C:
		case <-deadline.C:
			return errors.New(ErrCreate).
				Component("coreaudio.aggregate").
				Category(errors.CategoryTimeout).
				Context("operation", "wait for aggregate device").
				Context("timeout", d.opts.CreateTimeout.String()).
				Build()
		}
	}
}

func (d *Device) fail(step string, err error) error {
	return errors.New(ErrCreate).
		Component("coreaudio.aggregate").
		Context("operation", step).
		Context("cause", err.Error()).
		Context("device_id", uint32(d.id)).
		Build()
}

// Destroy removes the device from the system. Ids are reset to unknown even
// when the hardware refuses.
func (d *Device) Destroy() error {
	if d == nil || d.id == hal.Unknown {
		return nil
	}
	id, plugin := d.id, d.plugin
	d.id, d.plugin = hal.Unknown, hal.Unknown
	if err := d.hw.DestroyAggregate(plugin, id); err != nil {
		return errors.New(err).
			Component("coreaudio.aggregate").
			Category(errors.CategoryAggregateDevice).
			Context("operation", "destroy aggregate device").
			Context("device_id", uint32(id)).
			Build()
	}
	d.logger.Debug("aggregate device destroyed", "device_id", uint32(id))
	return nil
}

// ID returns the device id, unknown once destroyed.
func (d *Device) ID() hal.ObjectID { return d.id }

// PluginID returns the owning plugin id, unknown once destroyed.
func (d *Device) PluginID() hal.ObjectID { return d.plugin }

// Name returns the generated device name.
func (d *Device) Name() string { return d.name }

// UID returns the generated device UID.
func (d *Device) UID() string { return d.uid }

// SubDevices expands an aggregate device to its active sub-devices. A plain
// device expands to itself.
func SubDevices(hw hal.Hardware, id hal.ObjectID) ([]hal.ObjectID, error) {
	class, err := hw.Class(id)
	if err != nil {
		return nil, err
	}
	if class != hal.ClassAggregateDevice {
		return []hal.ObjectID{id}, nil
	}
	return hw.ActiveSubDevices(id)
}

// SetSubDevices fills aggregate with the sub-devices of output followed by
// those of input. The order decides stream order and clock master.
func SetSubDevices(hw hal.Hardware, aggregate, input, output hal.ObjectID) error {
	outputs, err := SubDevices(hw, output)
	if err != nil {
		return err
	}
	inputs, err := SubDevices(hw, input)
	if err != nil {
		return err
	}
	uids := make([]string, 0, len(outputs)+len(inputs))
	for _, id := range slices.Concat(outputs, inputs) {
		uid, err := hw.DeviceUID(id)
		if err != nil {
			return err
		}
		uids = append(uids, uid)
	}
	return hw.SetSubDeviceList(aggregate, uids)
}

// SetMasterDevice makes the first sub-device of output the clock master.
func SetMasterDevice(hw hal.Hardware, aggregate, output hal.ObjectID) error {
	outputs, err := SubDevices(hw, output)
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		return hal.StatusBadObject
	}
	uid, err := hw.DeviceUID(outputs[0])
	if err != nil {
		return err
	}
	return hw.SetMasterSubDevice(aggregate, uid)
}

// ActivateClockDriftCompensation enables drift compensation on every owned
// sub-device except the first, which is the clock master.
func ActivateClockDriftCompensation(hw hal.Hardware, aggregate hal.ObjectID) error {
	owned, err := hw.OwnedSubDevices(aggregate)
	if err != nil {
		return err
	}
	if len(owned) == 0 {
		return hal.StatusIllegalOperation
	}
	for _, sub := range owned[1:] {
		if err := hw.SetDriftCompensation(sub, true); err != nil {
			return err
		}
	}
	return nil
}
