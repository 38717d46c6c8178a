package dev

import "fmt"

// Driver binds an operations contract to one device class. The bound
// device list is non-owning in spirit (the manager owns registration)
// but each entry still holds a counted reference so a bound device
// cannot be torn down under the driver.
type Driver struct {
	name    string
	typ     Type
	ops     *Ops
	devices []*Device
}

// NewDriver returns a driver claiming devices of the given type.
func NewDriver(name string, typ Type, ops *Ops) *Driver {
	return &Driver{name: name, typ: typ, ops: ops}
}

func (drv *Driver) Name() string { return drv.name }
func (drv *Driver) Type() Type   { return drv.typ }

// Devices returns a snapshot of currently bound devices.
func (drv *Driver) Devices() []*Device {
	out := make([]*Device, len(drv.devices))
	copy(out, drv.devices)
	return out
}

// Bind probes the device. Only on probe success does it point the device
// at this driver and store a counted reference; a failing probe leaves
// both the device and the driver untouched. The driver's ops table is
// installed unless the probe already installed its own.
//
// Bind and Unbind are not self-synchronizing; the manager serializes
// them behind its registry lock.
func (drv *Driver) Bind(d *Device) error {
	if d == nil {
		return fmt.Errorf("driver %q: bind: %w", drv.name, ErrInvalidParam)
	}
	if drv.ops != nil && drv.ops.Probe != nil {
		if err := drv.ops.Probe(d); err != nil {
			return fmt.Errorf("driver %q: probe %q: %w", drv.name, d.Name(), err)
		}
	}
	if d.Ops() == nil {
		d.SetOps(drv.ops, nil)
	}
	d.setDriver(drv)
	drv.devices = append(drv.devices, d.Get())
	return nil
}

// Unbind removes the first identity match from the bound list, running
// the remove hook and releasing the driver's reference.
func (drv *Driver) Unbind(d *Device) error {
	for i, have := range drv.devices {
		if have != d {
			continue
		}
		if drv.ops != nil && drv.ops.Remove != nil {
			if err := drv.ops.Remove(d); err != nil {
				return fmt.Errorf("driver %q: remove %q: %w", drv.name, d.Name(), err)
			}
		}
		d.setDriver(nil)
		if d.Ops() == drv.ops {
			d.SetOps(nil, nil)
		}
		drv.devices = append(drv.devices[:i], drv.devices[i+1:]...)
		d.Put()
		return nil
	}
	return fmt.Errorf("driver %q: unbind %q: %w", drv.name, d.Name(), ErrNotFound)
}

// Close force-unbinds every bound device.
func (drv *Driver) Close() {
	for len(drv.devices) > 0 {
		d := drv.devices[len(drv.devices)-1]
		if err := drv.Unbind(d); err != nil {
			// Remove hook refused; drop the reference anyway so shutdown
			// cannot wedge on a misbehaving driver.
			drv.devices = drv.devices[:len(drv.devices)-1]
			d.setDriver(nil)
			d.Put()
		}
	}
}
