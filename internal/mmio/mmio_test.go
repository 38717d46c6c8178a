package mmio

import (
	"encoding/binary"
	"testing"
)

// memBus backs a flat port range with a byte slice.
type memBus struct {
	mem [0x100]byte
}

func (b *memBus) In(port uint16, data []byte) error {
	copy(data, b.mem[port:])
	return nil
}

func (b *memBus) Out(port uint16, data []byte) error {
	copy(b.mem[port:], data)
	return nil
}

func TestIOPortAccess(t *testing.T) {
	bus := &memBus{}
	p := NewIOPort(bus, 0x40, 8)

	if err := p.WriteDword(0, 0x11223344); err != nil {
		t.Fatalf("WriteDword: %v", err)
	}
	if got := binary.LittleEndian.Uint32(bus.mem[0x40:]); got != 0x11223344 {
		t.Fatalf("bus memory = %#x, want 0x11223344", got)
	}

	v, err := p.ReadDword(0)
	if err != nil {
		t.Fatalf("ReadDword: %v", err)
	}
	if v != 0x11223344 {
		t.Fatalf("ReadDword = %#x, want 0x11223344", v)
	}

	// Sub-dword views of the same bytes, little endian.
	b, err := p.ReadByte(0)
	if err != nil {
		t.Fatalf("ReadByte: %v", err)
	}
	if b != 0x44 {
		t.Fatalf("ReadByte = %#x, want 0x44", b)
	}
	w, err := p.ReadWord(2)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if w != 0x1122 {
		t.Fatalf("ReadWord = %#x, want 0x1122", w)
	}

	if err := p.WriteWord(4, 0xbeef); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	if got := binary.LittleEndian.Uint16(bus.mem[0x44:]); got != 0xbeef {
		t.Fatalf("word at +4 = %#x, want 0xbeef", got)
	}
}

func TestIOPortBoundsPanic(t *testing.T) {
	p := NewIOPort(&memBus{}, 0x40, 4)

	defer func() {
		if recover() == nil {
			t.Fatal("out-of-window port access did not panic")
		}
	}()
	p.ReadDword(2) // crosses the 4-port window
}

func TestIOPortZeroSizePanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("zero-size window did not panic")
		}
	}()
	NewIOPort(&memBus{}, 0x40, 0)
}

func TestMemoryRegionAccess(t *testing.T) {
	buf := make([]byte, 32)
	r := NewMemoryRegion(0xe000_0000, buf)

	if got := r.Base(); got != 0xe000_0000 {
		t.Fatalf("Base = %#x, want 0xe0000000", got)
	}
	if got := r.Size(); got != 32 {
		t.Fatalf("Size = %d, want 32", got)
	}

	r.WriteQword(8, 0x0102030405060708)
	if got := r.ReadQword(8); got != 0x0102030405060708 {
		t.Fatalf("ReadQword = %#x, want 0x0102030405060708", got)
	}
	if got := r.ReadByte(8); got != 0x08 {
		t.Fatalf("ReadByte = %#x, want 0x08", got)
	}
	if got := r.ReadDword(12); got != 0x01020304 {
		t.Fatalf("ReadDword = %#x, want 0x01020304", got)
	}

	r.WriteWord(0, 0xaa55)
	if got := r.ReadWord(0); got != 0xaa55 {
		t.Fatalf("ReadWord = %#x, want 0xaa55", got)
	}
}

func TestMemoryRegionBoundsPanic(t *testing.T) {
	r := NewMemoryRegion(0, make([]byte, 16))

	defer func() {
		if recover() == nil {
			t.Fatal("out-of-region access did not panic")
		}
	}()
	r.ReadQword(12)
}
