// Package sim emulates the configuration-space side of a PCI machine:
// endpoint register files behind the legacy 0xCF8/0xCFC port pair, with
// hardware-faithful BAR size probing, capability chains and bridges.
// The kernel-side bus code runs against it unmodified.
package sim

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	configAddressPort = 0xCF8
	configDataPort    = 0xCFC

	addrEnable = 1 << 31
)

type slotKey struct {
	bus  uint8
	slot uint8
	fn   uint8
}

// Machine is a simulated port bus carrying only the PCI configuration
// mechanism. It implements mmio.PortBus.
type Machine struct {
	mu   sync.Mutex
	addr uint32
	eps  map[slotKey]*Endpoint
}

// NewMachine returns a machine with no endpoints populated.
func NewMachine() *Machine {
	return &Machine{eps: make(map[slotKey]*Endpoint)}
}

func decodeAddress(addr uint32) (key slotKey, reg uint8, enabled bool) {
	key = slotKey{
		bus:  uint8(addr >> 16),
		slot: uint8(addr>>11) & 0x1f,
		fn:   uint8(addr>>8) & 0x7,
	}
	return key, uint8(addr) & 0xfc, addr&addrEnable != 0
}

// In implements mmio.PortBus.
func (m *Machine) In(port uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case port == configAddressPort:
		if len(data) != 4 {
			return fmt.Errorf("sim: %d-byte read of address port", len(data))
		}
		binary.LittleEndian.PutUint32(data, m.addr)
		return nil

	case port >= configDataPort && port < configDataPort+4:
		key, reg, enabled := decodeAddress(m.addr)
		offset := int(reg) + int(port-configDataPort)
		if !enabled {
			fill(data, 0xff)
			return nil
		}
		ep, ok := m.eps[key]
		if !ok || offset+len(data) > len(ep.cfg) {
			fill(data, 0xff)
			return nil
		}
		for i := range data {
			data[i] = ep.cfg[offset+i]
		}
		return nil

	default:
		return fmt.Errorf("sim: unexpected io port 0x%x, read handler", port)
	}
}

// Out implements mmio.PortBus.
func (m *Machine) Out(port uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case port == configAddressPort:
		if len(data) != 4 {
			return fmt.Errorf("sim: %d-byte write of address port", len(data))
		}
		m.addr = binary.LittleEndian.Uint32(data)
		return nil

	case port >= configDataPort && port < configDataPort+4:
		key, reg, enabled := decodeAddress(m.addr)
		offset := int(reg) + int(port-configDataPort)
		if !enabled {
			return nil
		}
		ep, ok := m.eps[key]
		if !ok || offset+len(data) > len(ep.cfg) {
			return nil
		}
		ep.write(offset, data)
		return nil

	default:
		return fmt.Errorf("sim: unexpected io port 0x%x, write handler", port)
	}
}

// Endpoint returns the endpoint at the given location, nil if empty.
func (m *Machine) Endpoint(bus, slot, fn uint8) *Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eps[slotKey{bus: bus, slot: slot, fn: fn}]
}

func fill(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}
