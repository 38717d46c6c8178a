package pci

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/quasar-os/devcore/internal/dev"
)

// Scanner walks the bus/device/function address space once, registering
// every discovered function with the device manager and recursing into
// PCI-to-PCI bridges. Enumeration is a bounded, blocking, single pass;
// one bad function never aborts the walk.
type Scanner struct {
	cs  *ConfigSpace
	mgr *dev.Manager

	// BusHook, when set, is called once per bus before it is walked.
	// The CLI uses it for progress display.
	BusHook func(bus uint8)

	devices []*Device
	visited [256]bool
}

// NewScanner returns a scanner that registers into mgr.
func NewScanner(cs *ConfigSpace, mgr *dev.Manager) *Scanner {
	return &Scanner{cs: cs, mgr: mgr}
}

// Devices returns every function discovered so far, in discovery order.
func (s *Scanner) Devices() []*Device {
	out := make([]*Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// ScanAll sweeps buses 0-255. Buses already walked through bridge
// recursion are not walked again. Returns the number of functions found.
func (s *Scanner) ScanAll() int {
	total := 0
	for bus := 0; bus < 256; bus++ {
		total += s.ScanBus(uint8(bus))
	}
	return total
}

// ScanBus walks one bus: 32 slots, probing function 0 first and the
// remaining seven only when the header advertises multifunction.
func (s *Scanner) ScanBus(bus uint8) int {
	if s.visited[bus] {
		return 0
	}
	s.visited[bus] = true
	if s.BusHook != nil {
		s.BusHook(bus)
	}

	found := 0
	for slot := uint8(0); slot < 32; slot++ {
		vendor, err := s.cs.Read16(Address{Bus: bus, Slot: slot}, RegVendorID)
		if err != nil || vendor == InvalidVendorID {
			continue
		}

		header, err := s.cs.Read8(Address{Bus: bus, Slot: slot}, RegHeaderType)
		if err != nil {
			continue
		}
		maxFunc := uint8(1)
		if header&HeaderMultiFunc != 0 {
			maxFunc = 8
		}

		for fn := uint8(0); fn < maxFunc; fn++ {
			found += s.scanFunction(Address{Bus: bus, Slot: slot, Func: fn})
		}
	}
	return found
}

// scanFunction returns the number of functions it accounted for: zero on
// a failed probe, one for an endpoint, one plus the secondary bus's count
// for a bridge.
func (s *Scanner) scanFunction(a Address) int {
	pd, err := Probe(s.cs, a)
	if err != nil {
		if !errors.Is(err, dev.ErrNotFound) {
			// Per-function isolation: drop this instance, keep scanning.
			slog.Debug("function probe failed",
				"component", "pciscan",
				"addr", a.String(),
				"err", err)
		}
		return 0
	}

	if err := s.mgr.RegisterDevice(pd.Core); err != nil {
		slog.Warn("register scanned device failed",
			"component", "pciscan",
			"addr", a.String(),
			"err", err)
		pd.Core.Put()
		return 0
	}
	// The manager holds its own reference now; the scanner keeps the
	// construction reference for its discovery list.
	s.devices = append(s.devices, pd)

	slog.Debug("discovered function",
		"component", "pciscan",
		"addr", a.String(),
		"vendor", fmt.Sprintf("%04x", pd.VendorID),
		"device", fmt.Sprintf("%04x", pd.DeviceID),
		"class", fmt.Sprintf("%02x:%02x", pd.ClassCode, pd.Subclass))

	found := 1
	if pd.IsBridge() {
		if secondary, err := pd.SecondaryBus(); err == nil {
			found += s.ScanBus(secondary)
		}
	}
	return found
}

// Close releases the scanner's construction references.
func (s *Scanner) Close() {
	for _, pd := range s.devices {
		pd.Core.Put()
	}
	s.devices = nil
}
