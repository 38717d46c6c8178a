// Package mmio provides the raw bounded I/O primitives the bus layers
// are built on: sized accessors over I/O port ranges and mapped memory
// regions. Bounds violations are driver bugs, not runtime conditions,
// and abort immediately.
package mmio

import (
	"encoding/binary"
	"fmt"
)

// PortBus dispatches port I/O to whatever backs the machine's port
// space. Production kernels back this with real port instructions; this
// module ships simulated backends.
type PortBus interface {
	In(port uint16, data []byte) error
	Out(port uint16, data []byte) error
}

// IOPort is a bounded window of ports on a PortBus.
type IOPort struct {
	bus  PortBus
	base uint16
	size uint32
}

// NewIOPort returns an accessor for size ports starting at base.
func NewIOPort(bus PortBus, base uint16, size uint32) *IOPort {
	if bus == nil {
		panic("mmio: io port with nil bus")
	}
	if size == 0 {
		panic(fmt.Sprintf("mmio: io port at 0x%x with zero size", base))
	}
	return &IOPort{bus: bus, base: base, size: size}
}

// Base returns the first port of the window.
func (p *IOPort) Base() uint16 { return p.base }

// Size returns the number of ports in the window.
func (p *IOPort) Size() uint32 { return p.size }

func (p *IOPort) check(off uint32, width uint32) {
	if off+width > p.size || off+width < off {
		panic(fmt.Sprintf("mmio: port access at +0x%x width %d beyond window 0x%x+0x%x",
			off, width, p.base, p.size))
	}
}

func (p *IOPort) ReadByte(off uint32) (uint8, error) {
	p.check(off, 1)
	var buf [1]byte
	if err := p.bus.In(p.base+uint16(off), buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (p *IOPort) ReadWord(off uint32) (uint16, error) {
	p.check(off, 2)
	var buf [2]byte
	if err := p.bus.In(p.base+uint16(off), buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (p *IOPort) ReadDword(off uint32) (uint32, error) {
	p.check(off, 4)
	var buf [4]byte
	if err := p.bus.In(p.base+uint16(off), buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (p *IOPort) WriteByte(off uint32, v uint8) error {
	p.check(off, 1)
	buf := [1]byte{v}
	return p.bus.Out(p.base+uint16(off), buf[:])
}

func (p *IOPort) WriteWord(off uint32, v uint16) error {
	p.check(off, 2)
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return p.bus.Out(p.base+uint16(off), buf[:])
}

func (p *IOPort) WriteDword(off uint32, v uint32) error {
	p.check(off, 4)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return p.bus.Out(p.base+uint16(off), buf[:])
}

// MemoryRegion is a bounded little-endian view of mapped device memory.
type MemoryRegion struct {
	base uint64
	buf  []byte
}

// NewMemoryRegion wraps an already-mapped buffer reported at the given
// bus address.
func NewMemoryRegion(base uint64, buf []byte) *MemoryRegion {
	if len(buf) == 0 {
		panic(fmt.Sprintf("mmio: empty memory region at 0x%x", base))
	}
	return &MemoryRegion{base: base, buf: buf}
}

// Base returns the bus address of the first byte.
func (r *MemoryRegion) Base() uint64 { return r.base }

// Size returns the region length in bytes.
func (r *MemoryRegion) Size() uint64 { return uint64(len(r.buf)) }

func (r *MemoryRegion) check(off uint64, width uint64) {
	if off+width > uint64(len(r.buf)) || off+width < off {
		panic(fmt.Sprintf("mmio: access at +0x%x width %d beyond region 0x%x size 0x%x",
			off, width, r.base, len(r.buf)))
	}
}

func (r *MemoryRegion) ReadByte(off uint64) uint8 {
	r.check(off, 1)
	return r.buf[off]
}

func (r *MemoryRegion) ReadWord(off uint64) uint16 {
	r.check(off, 2)
	return binary.LittleEndian.Uint16(r.buf[off:])
}

func (r *MemoryRegion) ReadDword(off uint64) uint32 {
	r.check(off, 4)
	return binary.LittleEndian.Uint32(r.buf[off:])
}

func (r *MemoryRegion) ReadQword(off uint64) uint64 {
	r.check(off, 8)
	return binary.LittleEndian.Uint64(r.buf[off:])
}

func (r *MemoryRegion) WriteByte(off uint64, v uint8) {
	r.check(off, 1)
	r.buf[off] = v
}

func (r *MemoryRegion) WriteWord(off uint64, v uint16) {
	r.check(off, 2)
	binary.LittleEndian.PutUint16(r.buf[off:], v)
}

func (r *MemoryRegion) WriteDword(off uint64, v uint32) {
	r.check(off, 4)
	binary.LittleEndian.PutUint32(r.buf[off:], v)
}

func (r *MemoryRegion) WriteQword(off uint64, v uint64) {
	r.check(off, 8)
	binary.LittleEndian.PutUint64(r.buf[off:], v)
}
