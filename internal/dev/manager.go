package dev

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager is the registry matching devices to drivers. One instance is
// constructed at startup and threaded into the bus scanners and driver
// registration paths; there is no process-wide singleton.
//
// All registry mutation happens behind a single coarse lock. Probe and
// remove callbacks run under that lock, so they must not re-enter the
// manager.
type Manager struct {
	mu      sync.Mutex
	devices []*Device
	drivers []*Driver

	// Derived subsets of devices; always subsets of the registered list.
	gaming  []*Device
	wayland []*Device

	pool *DMAPool
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{}
}

// SetDMAPool installs the pool handed to devices as they register.
func (m *Manager) SetDMAPool(p *DMAPool) {
	m.mu.Lock()
	m.pool = p
	m.mu.Unlock()
}

// RegisterDevice stores an owning reference to the device, then
// auto-binds it best-effort: the first registered driver claiming the
// device's type gets one bind attempt; a failing probe leaves the device
// registered but unbound. Only one candidate is ever tried per type.
func (m *Manager) RegisterDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("register device: %w", ErrInvalidParam)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, have := range m.devices {
		if have == d {
			return fmt.Errorf("register device %q: %w", d.Name(), ErrBusy)
		}
	}
	m.devices = append(m.devices, d.Get())
	if m.pool != nil {
		d.SetDMAPool(m.pool)
	}

	for _, drv := range m.drivers {
		if drv.Type() != d.Type() {
			continue
		}
		if err := drv.Bind(d); err != nil {
			// Best-effort policy: the device stays enumerated but inert.
			slog.Warn("auto-bind failed",
				"component", "devman",
				"device", d.Name(),
				"driver", drv.Name(),
				"err", err)
		}
		break
	}
	return nil
}

// RegisterDriver appends the driver, then attempts to bind every
// registered, unbound device of its type. Per-device bind failures are
// logged and swallowed.
func (m *Manager) RegisterDriver(drv *Driver) error {
	if drv == nil {
		return fmt.Errorf("register driver: %w", ErrInvalidParam)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, have := range m.drivers {
		if have == drv {
			return fmt.Errorf("register driver %q: %w", drv.Name(), ErrBusy)
		}
	}
	m.drivers = append(m.drivers, drv)

	for _, d := range m.devices {
		if d.Type() != drv.Type() || d.Driver() != nil {
			continue
		}
		if err := drv.Bind(d); err != nil {
			slog.Warn("late bind failed",
				"component", "devman",
				"device", d.Name(),
				"driver", drv.Name(),
				"err", err)
		}
	}
	return nil
}

// UnregisterDevice pulls the device out of the derived subsets, unbinds
// it from its driver if bound, removes it from the registry and releases
// the manager's reference.
func (m *Manager) UnregisterDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("unregister device: %w", ErrInvalidParam)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gaming = removeDevice(m.gaming, d)
	m.wayland = removeDevice(m.wayland, d)

	for i, have := range m.devices {
		if have != d {
			continue
		}
		if drv := d.Driver(); drv != nil {
			if err := drv.Unbind(d); err != nil {
				slog.Warn("unbind during unregister failed",
					"component", "devman",
					"device", d.Name(),
					"err", err)
			}
		}
		m.devices = append(m.devices[:i], m.devices[i+1:]...)
		d.Put()
		return nil
	}
	return fmt.Errorf("unregister device %q: %w", d.Name(), ErrNotFound)
}

// Devices returns a snapshot of the registered device list.
func (m *Manager) Devices() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Device, len(m.devices))
	copy(out, m.devices)
	return out
}

// Drivers returns a snapshot of the registered driver list.
func (m *Manager) Drivers() []*Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Driver, len(m.drivers))
	copy(out, m.drivers)
	return out
}

// FindDevice returns the first registered device with the given name.
func (m *Manager) FindDevice(name string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.Name() == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("find device %q: %w", name, ErrNotFound)
}

// EnableGamingMode toggles gaming mode on every gaming-optimized device.
// The gaming subset mirrors exactly the devices whose toggle succeeded.
func (m *Manager) EnableGamingMode() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.devices {
		if !d.HasCapability(CapGamingOptimized) {
			continue
		}
		if err := d.SetGamingMode(true); err != nil {
			slog.Warn("enable gaming mode failed",
				"component", "devman",
				"device", d.Name(),
				"err", err)
			continue
		}
		if !containsDevice(m.gaming, d) {
			m.gaming = append(m.gaming, d)
		}
	}
}

// DisableGamingMode best-effort disables gaming mode on each tracked
// device, then clears the subset unconditionally.
func (m *Manager) DisableGamingMode() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.gaming {
		if err := d.SetGamingMode(false); err != nil {
			slog.Warn("disable gaming mode failed",
				"component", "devman",
				"device", d.Name(),
				"err", err)
		}
	}
	m.gaming = nil
}

// GamingDevices returns the devices currently gaming-mode-active.
func (m *Manager) GamingDevices() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Device, len(m.gaming))
	copy(out, m.gaming)
	return out
}

// EnableWaylandOptimizations switches every Wayland-capable device into
// its optimized path, mirroring successes in the wayland subset.
func (m *Manager) EnableWaylandOptimizations() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.devices {
		if !d.HasCapability(CapWaylandOptimized) {
			continue
		}
		if err := d.EnableWaylandMode(); err != nil {
			slog.Warn("enable wayland mode failed",
				"component", "devman",
				"device", d.Name(),
				"err", err)
			continue
		}
		if !containsDevice(m.wayland, d) {
			m.wayland = append(m.wayland, d)
		}
	}
}

// DisableWaylandOptimizations clears the Wayland path on tracked devices
// and empties the subset.
func (m *Manager) DisableWaylandOptimizations() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.wayland {
		d.DisableWaylandMode()
	}
	m.wayland = nil
}

// WaylandDevices returns the devices on the Wayland-optimized path.
func (m *Manager) WaylandDevices() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Device, len(m.wayland))
	copy(out, m.wayland)
	return out
}

// PerformanceReport refreshes every device's metrics and aggregates them.
func (m *Manager) PerformanceReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{ByType: make(map[Type]int)}
	var latencySum int64
	for _, d := range m.devices {
		d.UpdateMetrics()
		mt := d.Metrics()

		r.Devices++
		r.ByType[d.Type()]++
		if mt.GamingMode {
			r.GamingActive++
		}
		if mt.WaylandActive {
			r.WaylandActive++
		}
		latencySum += int64(mt.AvgLatency)
		r.TotalThroughputBps += mt.ThroughputBps
		r.TotalErrors += mt.Errors
		r.TotalInterrupts += mt.Interrupts
		r.TotalFrameDrops += mt.FrameDrops
	}
	if r.Devices > 0 {
		r.MeanLatency = time.Duration(latencySum / int64(r.Devices))
	}
	return r
}

// Close is the shutdown sweep: drivers force-unbind their devices, every
// registered device gets its shutdown hook and the manager's reference
// is dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, drv := range m.drivers {
		drv.Close()
	}
	m.drivers = nil

	for _, d := range m.devices {
		if ops := d.Ops(); ops != nil && ops.Shutdown != nil {
			if err := ops.Shutdown(d); err != nil {
				slog.Warn("shutdown hook failed",
					"component", "devman",
					"device", d.Name(),
					"err", err)
			}
		}
		d.Put()
	}
	m.devices = nil
	m.gaming = nil
	m.wayland = nil
}

func removeDevice(list []*Device, d *Device) []*Device {
	for i, have := range list {
		if have == d {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func containsDevice(list []*Device, d *Device) bool {
	for _, have := range list {
		if have == d {
			return true
		}
	}
	return false
}
