package coreaudio

import (
	"slices"

	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/errors"
)

// collection is the registered callback and last seen device list of one
// direction.
type collection struct {
	callback CollectionChangedCallback
	devices  []hal.ObjectID // sorted
}

func collectionIndex(scope hal.Scope) int {
	if scope == hal.ScopeInput {
		return 0
	}
	return 1
}

// RegisterDeviceCollectionChanged sets the callback invoked when devices of
// devType appear or disappear. A nil callback unregisters. Registering over an
// existing callback fails with ErrAlreadyRegistered.
func (c *Context) RegisterDeviceCollectionChanged(devType DeviceType, cb CollectionChangedCallback) error {
	scopes := devType.scopes()
	if len(scopes) == 0 {
		return errors.New(ErrInvalidParameter).
			Component(component).
			Context("operation", "register collection changed").
			Context("device_type", int(devType)).
			Build()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cb != nil {
		for _, scope := range scopes {
			if c.collections[collectionIndex(scope)].callback != nil {
				return errors.New(ErrAlreadyRegistered).
					Component(component).
					Context("operation", "register collection changed").
					Context("scope", scope.String()).
					Build()
			}
		}
	}

	if cb == nil {
		for _, scope := range scopes {
			c.unregisterCollectionLocked(scope)
		}
		return nil
	}

	for i, scope := range scopes {
		if err := c.retainSystemListenerLocked(); err != nil {
			// Scopes registered by this call are undone so a failed call
			// leaves nothing behind.
			for _, done := range scopes[:i] {
				c.unregisterCollectionLocked(done)
			}
			return err
		}
		col := &c.collections[collectionIndex(scope)]
		col.callback = cb
		col.devices = c.devicesOf(scope)
	}
	return nil
}

func (c *Context) unregisterCollectionLocked(scope hal.Scope) {
	col := &c.collections[collectionIndex(scope)]
	if col.callback == nil {
		return
	}
	*col = collection{}
	c.releaseSystemListenerLocked(false)
}

// retainSystemListenerLocked installs the device list listener on first use.
func (c *Context) retainSystemListenerLocked() error {
	c.mu.AssertCurrentOwner()
	if c.systemListenerRefs == 0 {
		token, err := c.hw.AddListener(hal.SystemObject,
			hal.Address{Selector: hal.PropertyDevices, Scope: hal.ScopeGlobal},
			func(hal.ObjectID, []hal.Address) {
				if err := c.queue.RunAsync(c.diffCollections); err != nil {
					c.logger.Debug("collection change after context shutdown", "error", err)
				}
			})
		if err != nil {
			c.metrics.listenerFailure("install")
			return errors.New(err).
				Component(component).
				Category(errors.CategoryListener).
				Context("operation", "install device collection listener").
				Build()
		}
		c.systemListener = token
	}
	c.systemListenerRefs++
	return nil
}

// releaseSystemListenerLocked drops one reference, or all of them when all is
// set, removing the listener once unused.
func (c *Context) releaseSystemListenerLocked(all bool) {
	c.mu.AssertCurrentOwner()
	if c.systemListenerRefs == 0 {
		return
	}
	c.systemListenerRefs--
	if all {
		c.systemListenerRefs = 0
	}
	if c.systemListenerRefs > 0 {
		return
	}
	if err := c.hw.RemoveListener(c.systemListener); err != nil {
		c.metrics.listenerFailure("uninstall")
		c.logger.Warn("failed to remove device collection listener", "error", err)
	}
	c.systemListener = 0
}

// diffCollections runs on the serial queue. Snapshots are replaced before
// callbacks run so a burst of notifications reports each change once.
func (c *Context) diffCollections() {
	c.mu.Lock()
	var fire []CollectionChangedCallback
	for _, scope := range []hal.Scope{hal.ScopeInput, hal.ScopeOutput} {
		col := &c.collections[collectionIndex(scope)]
		if col.callback == nil {
			continue
		}
		current := c.devicesOf(scope)
		if slices.Equal(current, col.devices) {
			continue
		}
		c.logger.Debug("device collection changed",
			"scope", scope.String(),
			"before", len(col.devices),
			"after", len(current))
		col.devices = current
		fire = append(fire, col.callback)
		c.metrics.collectionChange(scope)
	}
	c.mu.Unlock()

	if len(fire) > 0 {
		c.devices.Flush()
	}
	for _, cb := range fire {
		cb(c)
	}
}
