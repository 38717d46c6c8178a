package dev

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Device is a node in the device tree. Instances are shared between the
// manager, the owning bus, a bound driver and open file handles; each
// holder acquires its reference with Get and drops it with Put. The
// device is torn down exactly when the count reaches zero.
//
// The parent pointer is a lookup-only back-reference. Parent-to-child is
// the owning edge: a child cannot outlive the child list that holds it.
type Device struct {
	name     string
	typ      Type
	vendorID uint32
	deviceID uint32

	refs atomic.Int32

	mu       sync.Mutex
	parent   *Device
	children []*Device
	driver   *Driver
	ops      *Ops
	opsCtx   any
	busData  any
	caps     Capabilities
	power    PowerState
	mappings []*DMAMapping
	pool     *DMAPool
	metrics  Metrics

	gamingActive  bool
	lowLatency    bool
	waylandActive bool
}

// NewDevice returns a device with a reference count of one, owned by the
// caller.
func NewDevice(name string, typ Type) *Device {
	d := &Device{
		name:  name,
		typ:   typ,
		power: PowerOn,
	}
	d.refs.Store(1)
	return d
}

func (d *Device) Name() string     { return d.name }
func (d *Device) Type() Type       { return d.typ }
func (d *Device) VendorID() uint32 { return d.vendorID }
func (d *Device) DeviceID() uint32 { return d.deviceID }

// SetIDs records the vendor/device identity pair.
func (d *Device) SetIDs(vendor, device uint32) {
	d.vendorID = vendor
	d.deviceID = device
}

// Get acquires an additional reference and returns the same device.
func (d *Device) Get() *Device {
	if n := d.refs.Add(1); n <= 1 {
		panic(fmt.Sprintf("dev: get on dead device %q (count %d)", d.name, n))
	}
	return d
}

// Put drops one reference. The holder that drives the count to zero runs
// teardown; further use of the device is a bug.
func (d *Device) Put() {
	n := d.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("dev: refcount underflow on %q", d.name))
	}
	if n == 0 {
		d.teardown()
	}
}

// RefCount returns the current reference count.
func (d *Device) RefCount() int32 { return d.refs.Load() }

func (d *Device) teardown() {
	d.mu.Lock()
	children := d.children
	d.children = nil
	mappings := d.mappings
	d.mappings = nil
	ops := d.ops
	pool := d.pool
	d.mu.Unlock()

	for _, m := range mappings {
		if pool != nil {
			_ = pool.release(m)
		}
	}
	for _, c := range children {
		c.mu.Lock()
		c.parent = nil
		c.mu.Unlock()
		c.Put()
	}
	if ops != nil && ops.Release != nil {
		ops.Release(d)
	}
}

// Parent returns the lookup-only back-reference, nil for roots.
func (d *Device) Parent() *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parent
}

// Children returns a snapshot of the owned child list.
func (d *Device) Children() []*Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Device, len(d.children))
	copy(out, d.children)
	return out
}

// AddChild stores an owning reference to c and points c back at d.
func (d *Device) AddChild(c *Device) error {
	if c == nil || c == d {
		return fmt.Errorf("add child to %q: %w", d.name, ErrInvalidParam)
	}
	c.mu.Lock()
	if c.parent != nil {
		c.mu.Unlock()
		return fmt.Errorf("add child %q: already parented: %w", c.name, ErrBusy)
	}
	c.parent = d
	c.mu.Unlock()

	d.mu.Lock()
	d.children = append(d.children, c.Get())
	d.mu.Unlock()
	return nil
}

// RemoveChild releases the first identity match from the child list.
func (d *Device) RemoveChild(c *Device) error {
	if c == nil {
		return fmt.Errorf("remove child from %q: %w", d.name, ErrInvalidParam)
	}
	d.mu.Lock()
	for i, have := range d.children {
		if have != c {
			continue
		}
		d.children = append(d.children[:i], d.children[i+1:]...)
		d.mu.Unlock()

		c.mu.Lock()
		c.parent = nil
		c.mu.Unlock()
		c.Put()
		return nil
	}
	d.mu.Unlock()
	return fmt.Errorf("remove child %q from %q: %w", c.name, d.name, ErrNotFound)
}

// SetOps installs the operations table and its opaque per-kind context.
func (d *Device) SetOps(ops *Ops, ctx any) {
	d.mu.Lock()
	d.ops = ops
	d.opsCtx = ctx
	d.mu.Unlock()
}

// Ops returns the installed operations table, nil when unbound.
func (d *Device) Ops() *Ops {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ops
}

// Context returns the opaque context registered alongside the ops table.
func (d *Device) Context() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opsCtx
}

// SetBusData attaches bus-specific detail (e.g. the PCI view of this
// device) without the device layer knowing its type.
func (d *Device) SetBusData(v any) {
	d.mu.Lock()
	d.busData = v
	d.mu.Unlock()
}

// BusData returns the attached bus-specific detail.
func (d *Device) BusData() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busData
}

// Driver returns the currently bound driver, nil when unbound.
func (d *Device) Driver() *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driver
}

func (d *Device) setDriver(drv *Driver) {
	d.mu.Lock()
	d.driver = drv
	d.mu.Unlock()
}

// Capabilities returns the capability bitset.
func (d *Device) Capabilities() Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

// AddCapabilities sets the given capability bits.
func (d *Device) AddCapabilities(mask Capabilities) {
	d.mu.Lock()
	d.caps |= mask
	d.mu.Unlock()
}

// HasCapability reports whether every bit in mask is set.
func (d *Device) HasCapability(mask Capabilities) bool {
	return d.Capabilities().Has(mask)
}

// PowerState returns the recorded power state.
func (d *Device) PowerState() PowerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.power
}

// SetPowerState dispatches the suspend or resume hook for the target
// state and then records the new state. A missing hook silently accepts
// the transition. The state is recorded even when the hook fails, so the
// caller sees the state the hardware was asked to enter.
func (d *Device) SetPowerState(target PowerState) error {
	d.mu.Lock()
	ops := d.ops
	d.mu.Unlock()

	var hook func(*Device) error
	if ops != nil {
		if target == PowerOn {
			hook = ops.Resume
		} else {
			hook = ops.Suspend
		}
	}

	var err error
	if hook != nil {
		err = hook(d)
	}

	d.mu.Lock()
	d.power = target
	d.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %s to %s: %v", ErrPowerTransition, d.name, target, err)
	}
	return nil
}

// SetGamingMode toggles the gaming extension hook. A device without the
// hook accepts the toggle silently, matching power-transition semantics.
func (d *Device) SetGamingMode(enable bool) error {
	d.mu.Lock()
	ops := d.ops
	d.mu.Unlock()

	if ops != nil && ops.SetGamingMode != nil {
		if err := ops.SetGamingMode(d, enable); err != nil {
			return fmt.Errorf("set gaming mode on %q: %w", d.name, err)
		}
	}
	d.mu.Lock()
	d.gamingActive = enable
	d.mu.Unlock()
	return nil
}

// GamingActive reports whether gaming mode is currently enabled.
func (d *Device) GamingActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gamingActive
}

// SetLowLatency toggles the low-latency hint.
func (d *Device) SetLowLatency(enable bool) error {
	d.mu.Lock()
	ops := d.ops
	d.mu.Unlock()

	if ops != nil && ops.SetLowLatency != nil {
		if err := ops.SetLowLatency(d, enable); err != nil {
			return fmt.Errorf("set low latency on %q: %w", d.name, err)
		}
	}
	d.mu.Lock()
	d.lowLatency = enable
	d.mu.Unlock()
	return nil
}

// EnableWaylandMode switches the device into its Wayland-optimized path.
func (d *Device) EnableWaylandMode() error {
	d.mu.Lock()
	ops := d.ops
	d.mu.Unlock()

	if ops != nil && ops.EnableWaylandMode != nil {
		if err := ops.EnableWaylandMode(d); err != nil {
			return fmt.Errorf("enable wayland mode on %q: %w", d.name, err)
		}
	}
	d.mu.Lock()
	d.waylandActive = true
	d.mu.Unlock()
	return nil
}

// DisableWaylandMode clears the Wayland-optimized flag.
func (d *Device) DisableWaylandMode() {
	d.mu.Lock()
	d.waylandActive = false
	d.mu.Unlock()
}

// WaylandActive reports whether the Wayland path is enabled.
func (d *Device) WaylandActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waylandActive
}

// SubmitWaylandBuffer forwards a compositor buffer handle to the device.
func (d *Device) SubmitWaylandBuffer(handle uint64) error {
	d.mu.Lock()
	ops := d.ops
	d.mu.Unlock()

	if ops == nil || ops.SubmitWaylandBuffer == nil {
		return fmt.Errorf("submit wayland buffer on %q: %w", d.name, ErrNotSupported)
	}
	return ops.SubmitWaylandBuffer(d, handle)
}

// SetCompositorHints forwards compositor scheduling hints. Devices
// without the hook accept hints silently.
func (d *Device) SetCompositorHints(hints CompositorHints) error {
	d.mu.Lock()
	ops := d.ops
	d.mu.Unlock()

	if ops == nil || ops.SetCompositorHints == nil {
		return nil
	}
	return ops.SetCompositorHints(d, hints)
}

// UpdateMetrics refreshes the rolling metrics snapshot from the driver.
// Devices without a metrics hook keep a zeroed snapshot.
func (d *Device) UpdateMetrics() {
	d.mu.Lock()
	ops := d.ops
	d.mu.Unlock()

	if ops == nil || ops.GetPerformanceMetrics == nil {
		return
	}
	m, err := ops.GetPerformanceMetrics(d)
	if err != nil {
		return
	}
	d.mu.Lock()
	m.GamingMode = d.gamingActive
	m.LowLatency = d.lowLatency
	m.WaylandActive = d.waylandActive
	d.metrics = m
	d.mu.Unlock()
}

// Metrics returns the last recorded metrics snapshot.
func (d *Device) Metrics() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.metrics
	m.GamingMode = d.gamingActive
	m.LowLatency = d.lowLatency
	m.WaylandActive = d.waylandActive
	return m
}
