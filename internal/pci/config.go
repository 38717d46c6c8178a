package pci

import (
	"fmt"

	"github.com/quasar-os/devcore/internal/mmio"
)

// Address identifies one PCI function.
type Address struct {
	Bus  uint8
	Slot uint8 // device number, 0-31
	Func uint8 // 0-7
}

func (a Address) String() string {
	return fmt.Sprintf("%02x:%02x.%x", a.Bus, a.Slot, a.Func)
}

// encode builds the 32-bit configuration address word: bit 31 enable,
// bits 23-16 bus, 15-11 device, 10-8 function, 7-2 register. The low
// two offset bits are cleared; sub-dword access is emulated on top.
func (a Address) encode(offset uint8) uint32 {
	return configEnable |
		uint32(a.Bus)<<16 |
		uint32(a.Slot&0x1f)<<11 |
		uint32(a.Func&0x7)<<8 |
		uint32(offset&0xfc)
}

// ConfigSpace performs configuration-space I/O through the legacy
// address/data port pair.
type ConfigSpace struct {
	addr *mmio.IOPort
	data *mmio.IOPort
}

// NewConfigSpace wires the fixed 0xCF8/0xCFC ports on the given bus.
func NewConfigSpace(bus mmio.PortBus) *ConfigSpace {
	return &ConfigSpace{
		addr: mmio.NewIOPort(bus, ConfigAddressPort, 4),
		data: mmio.NewIOPort(bus, ConfigDataPort, 4),
	}
}

// Read32 reads the dword containing offset.
func (cs *ConfigSpace) Read32(a Address, offset uint8) (uint32, error) {
	if err := cs.addr.WriteDword(0, a.encode(offset)); err != nil {
		return 0, fmt.Errorf("pci %s: config address: %w", a, err)
	}
	v, err := cs.data.ReadDword(0)
	if err != nil {
		return 0, fmt.Errorf("pci %s: config read +%#x: %w", a, offset, err)
	}
	return v, nil
}

// Write32 writes the dword at offset; the low two offset bits are
// ignored.
func (cs *ConfigSpace) Write32(a Address, offset uint8, v uint32) error {
	if err := cs.addr.WriteDword(0, a.encode(offset)); err != nil {
		return fmt.Errorf("pci %s: config address: %w", a, err)
	}
	if err := cs.data.WriteDword(0, v); err != nil {
		return fmt.Errorf("pci %s: config write +%#x: %w", a, offset, err)
	}
	return nil
}

// Read16 reads a word, emulated by shifting out of the containing dword.
func (cs *ConfigSpace) Read16(a Address, offset uint8) (uint16, error) {
	v, err := cs.Read32(a, offset)
	if err != nil {
		return 0, err
	}
	shift := (uint32(offset) & 2) * 8
	return uint16(v >> shift), nil
}

// Read8 reads a byte out of the containing dword.
func (cs *ConfigSpace) Read8(a Address, offset uint8) (uint8, error) {
	v, err := cs.Read32(a, offset)
	if err != nil {
		return 0, err
	}
	shift := (uint32(offset) & 3) * 8
	return uint8(v >> shift), nil
}

// Write16 read-modify-writes the containing dword so the neighbouring
// word is preserved.
func (cs *ConfigSpace) Write16(a Address, offset uint8, v uint16) error {
	cur, err := cs.Read32(a, offset)
	if err != nil {
		return err
	}
	shift := (uint32(offset) & 2) * 8
	mask := uint32(0xffff) << shift
	return cs.Write32(a, offset, cur&^mask|uint32(v)<<shift)
}

// Write8 read-modify-writes the containing dword so the other three
// bytes are preserved.
func (cs *ConfigSpace) Write8(a Address, offset uint8, v uint8) error {
	cur, err := cs.Read32(a, offset)
	if err != nil {
		return err
	}
	shift := (uint32(offset) & 3) * 8
	mask := uint32(0xff) << shift
	return cs.Write32(a, offset, cur&^mask|uint32(v)<<shift)
}
