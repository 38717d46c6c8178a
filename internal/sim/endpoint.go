package sim

import (
	"encoding/binary"
	"fmt"
)

const (
	cfgVendorID   = 0x00
	cfgDeviceID   = 0x02
	cfgCommand    = 0x04
	cfgStatus     = 0x06
	cfgRevision   = 0x08
	cfgProgIF     = 0x09
	cfgSubclass   = 0x0a
	cfgClassCode  = 0x0b
	cfgHeaderType = 0x0e
	cfgBAR0       = 0x10
	cfgSecondary  = 0x19
	cfgCapPointer = 0x34

	statusCapList   = 1 << 4
	headerMultiFunc = 0x80
	headerBridge    = 0x01

	barCount     = 6
	capChainBase = 0x40
)

// BARConfig describes one resource window an endpoint exposes. Size must
// be a power of two. A 64-bit BAR occupies its index and the next one.
type BARConfig struct {
	Index        int
	Size         uint64
	Base         uint64
	IO           bool
	Prefetchable bool
	Is64         bool
}

// CapConfig is one entry of the capability chain. Body is the payload
// after the id/next header bytes.
type CapConfig struct {
	ID   uint8
	Body []byte
}

// EndpointConfig describes a function to populate on the machine.
type EndpointConfig struct {
	Bus, Slot, Function uint8

	VendorID  uint16
	DeviceID  uint16
	ClassCode uint8
	Subclass  uint8
	ProgIF    uint8
	Revision  uint8

	Multifunction bool
	Bridge        bool
	SecondaryBus  uint8

	BARs []BARConfig
	Caps []CapConfig
}

// Endpoint is one emulated function: a 256-byte register file with
// hardware-style writability. Writing all-ones to a BAR register reads
// back the size mask, exactly as probing real hardware does, because
// only the address bits above the window size are writable.
type Endpoint struct {
	cfg      [256]byte
	writable [256]bool

	// Per-BAR-register writable address bits and sticky flag bits.
	barAddrMask [barCount]uint32
	barFlags    [barCount]uint32
	barLive     [barCount]bool
}

func (ep *Endpoint) write(offset int, data []byte) {
	for i := 0; i < len(data); i++ {
		off := offset + i
		if off >= cfgBAR0 && off < cfgBAR0+4*barCount {
			continue // handled as dwords below
		}
		if ep.writable[off] {
			ep.cfg[off] = data[i]
		}
	}

	// BAR registers latch per dword with address bits masked to the
	// window size.
	for reg := 0; reg < barCount; reg++ {
		regOff := cfgBAR0 + 4*reg
		if offset+len(data) <= regOff || offset > regOff+3 {
			continue
		}
		if offset > regOff || offset+len(data) < regOff+4 {
			continue // partial BAR writes are dropped
		}
		if !ep.barLive[reg] {
			continue
		}
		v := binary.LittleEndian.Uint32(data[regOff-offset:])
		stored := v&ep.barAddrMask[reg] | ep.barFlags[reg]
		binary.LittleEndian.PutUint32(ep.cfg[regOff:], stored)
	}
}

// Byte returns one raw register byte, for tests that need to inspect or
// corrupt the register file directly.
func (ep *Endpoint) Byte(off int) byte { return ep.cfg[off] }

// SetByte overwrites one raw register byte regardless of writability.
func (ep *Endpoint) SetByte(off int, v byte) { ep.cfg[off] = v }

// AddEndpoint populates a function from cfg and returns it.
func (m *Machine) AddEndpoint(cfg EndpointConfig) (*Endpoint, error) {
	if cfg.Slot >= 32 || cfg.Function >= 8 {
		return nil, fmt.Errorf("sim: location %02x:%02x.%x out of range",
			cfg.Bus, cfg.Slot, cfg.Function)
	}
	key := slotKey{bus: cfg.Bus, slot: cfg.Slot, fn: cfg.Function}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.eps[key]; exists {
		return nil, fmt.Errorf("sim: endpoint %02x:%02x.%x already present",
			cfg.Bus, cfg.Slot, cfg.Function)
	}

	ep := &Endpoint{}
	binary.LittleEndian.PutUint16(ep.cfg[cfgVendorID:], cfg.VendorID)
	binary.LittleEndian.PutUint16(ep.cfg[cfgDeviceID:], cfg.DeviceID)
	ep.cfg[cfgRevision] = cfg.Revision
	ep.cfg[cfgProgIF] = cfg.ProgIF
	ep.cfg[cfgSubclass] = cfg.Subclass
	ep.cfg[cfgClassCode] = cfg.ClassCode

	header := byte(0)
	if cfg.Bridge {
		header |= headerBridge
		ep.cfg[cfgSecondary] = cfg.SecondaryBus
	}
	if cfg.Multifunction {
		header |= headerMultiFunc
	}
	ep.cfg[cfgHeaderType] = header

	// Command register and interrupt line are writable; identity,
	// status and the capability chain are not.
	ep.writable[cfgCommand] = true
	ep.writable[cfgCommand+1] = true
	ep.writable[0x3c] = true

	if err := ep.installBARs(cfg.BARs); err != nil {
		return nil, err
	}
	if err := ep.installCaps(cfg.Caps); err != nil {
		return nil, err
	}

	m.eps[key] = ep
	return ep, nil
}

func (ep *Endpoint) installBARs(bars []BARConfig) error {
	for _, b := range bars {
		if b.Index < 0 || b.Index >= barCount {
			return fmt.Errorf("sim: bar index %d out of range", b.Index)
		}
		if b.Size == 0 || b.Size&(b.Size-1) != 0 {
			return fmt.Errorf("sim: bar%d size %#x not a power of two", b.Index, b.Size)
		}
		if ep.barLive[b.Index] {
			return fmt.Errorf("sim: bar%d configured twice", b.Index)
		}
		if b.Is64 && (b.IO || b.Index+1 >= barCount) {
			return fmt.Errorf("sim: bar%d invalid 64-bit layout", b.Index)
		}

		sizeMask := ^(b.Size - 1)
		switch {
		case b.IO:
			ep.barAddrMask[b.Index] = uint32(sizeMask) & 0xffff_fffc
			ep.barFlags[b.Index] = 0x1
		case b.Is64:
			ep.barAddrMask[b.Index] = uint32(sizeMask) & 0xffff_fff0
			ep.barFlags[b.Index] = 0x4
			if b.Prefetchable {
				ep.barFlags[b.Index] |= 0x8
			}
			ep.barAddrMask[b.Index+1] = uint32(sizeMask >> 32)
			ep.barLive[b.Index+1] = true
		default:
			ep.barAddrMask[b.Index] = uint32(sizeMask) & 0xffff_fff0
			ep.barFlags[b.Index] = 0x0
			if b.Prefetchable {
				ep.barFlags[b.Index] |= 0x8
			}
		}
		ep.barLive[b.Index] = true

		regOff := cfgBAR0 + 4*b.Index
		low := uint32(b.Base)&ep.barAddrMask[b.Index] | ep.barFlags[b.Index]
		binary.LittleEndian.PutUint32(ep.cfg[regOff:], low)
		if b.Is64 {
			binary.LittleEndian.PutUint32(ep.cfg[regOff+4:], uint32(b.Base>>32))
		}
	}
	return nil
}

func (ep *Endpoint) installCaps(caps []CapConfig) error {
	if len(caps) == 0 {
		return nil
	}
	off := capChainBase
	for i, c := range caps {
		size := 2 + len(c.Body)
		if off+size > len(ep.cfg) {
			return fmt.Errorf("sim: capability chain overflows config space")
		}
		next := 0
		if i+1 < len(caps) {
			next = alignUp4(off + size)
		}
		ep.cfg[off] = c.ID
		ep.cfg[off+1] = byte(next)
		copy(ep.cfg[off+2:], c.Body)

		// Capability payloads (e.g. the MSI control word) are writable.
		for j := off + 2; j < off+size; j++ {
			ep.writable[j] = true
		}
		off = next
	}

	ep.cfg[cfgCapPointer] = capChainBase
	status := binary.LittleEndian.Uint16(ep.cfg[cfgStatus:])
	binary.LittleEndian.PutUint16(ep.cfg[cfgStatus:], status|statusCapList)
	return nil
}

func alignUp4(v int) int { return (v + 3) &^ 3 }
