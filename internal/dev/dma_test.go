package dev

import (
	"errors"
	"testing"
)

func newTestPool(t *testing.T, size int) *DMAPool {
	t.Helper()
	p, err := NewDMAPool(size)
	if err != nil {
		t.Fatalf("NewDMAPool(%d): %v", size, err)
	}
	return p
}

func TestAllocDMA(t *testing.T) {
	p := newTestPool(t, 64*1024)
	defer p.Close()

	d := NewDevice("blk0", TypeBlock)
	defer d.Put()
	d.SetDMAPool(p)

	m, err := d.AllocDMA(100, DMAToDevice, true)
	if err != nil {
		t.Fatalf("AllocDMA: %v", err)
	}
	if got := len(m.Bytes()); got != 100 {
		t.Fatalf("mapping length = %d, want 100", got)
	}
	if m.Phys() != DMAWindowBase {
		t.Fatalf("phys = %#x, want %#x", m.Phys(), uint64(DMAWindowBase))
	}
	if m.Phys()%dmaPageSize != 0 {
		t.Fatalf("phys %#x not page aligned", m.Phys())
	}

	// Allocations are page granular, so the next one lands a page up.
	m2, err := d.AllocDMA(8, DMAFromDevice, true)
	if err != nil {
		t.Fatalf("second AllocDMA: %v", err)
	}
	if got, want := m2.Phys(), uint64(DMAWindowBase+dmaPageSize); got != want {
		t.Fatalf("second phys = %#x, want %#x", got, want)
	}

	if got := len(d.DMAMappings()); got != 2 {
		t.Fatalf("device tracks %d mappings, want 2", got)
	}

	if err := d.FreeDMA(m); err != nil {
		t.Fatalf("FreeDMA: %v", err)
	}
	if err := d.FreeDMA(m2); err != nil {
		t.Fatalf("FreeDMA: %v", err)
	}
}

func TestAllocDMAWithoutPool(t *testing.T) {
	d := NewDevice("blk0", TypeBlock)
	defer d.Put()

	if _, err := d.AllocDMA(100, DMAToDevice, true); !errors.Is(err, ErrNotReady) {
		t.Fatalf("AllocDMA without pool = %v, want ErrNotReady", err)
	}
}

func TestDMAFreeReuse(t *testing.T) {
	p := newTestPool(t, 16*1024)
	defer p.Close()

	d := NewDevice("blk0", TypeBlock)
	defer d.Put()
	d.SetDMAPool(p)

	m, err := d.AllocDMA(dmaPageSize, DMAToDevice, true)
	if err != nil {
		t.Fatalf("AllocDMA: %v", err)
	}
	phys := m.Phys()
	if err := d.FreeDMA(m); err != nil {
		t.Fatalf("FreeDMA: %v", err)
	}

	m2, err := d.AllocDMA(dmaPageSize, DMAToDevice, true)
	if err != nil {
		t.Fatalf("AllocDMA after free: %v", err)
	}
	defer d.FreeDMA(m2)
	if m2.Phys() != phys {
		t.Fatalf("reallocation phys = %#x, want reused %#x", m2.Phys(), phys)
	}
}

// Freeing two adjacent single-page mappings must leave one contiguous
// free range, so an allocation spanning both pages still succeeds once
// the rest of the pool is occupied.
func TestDMAFreeCoalescing(t *testing.T) {
	p := newTestPool(t, 3*dmaPageSize)
	defer p.Close()

	d := NewDevice("blk0", TypeBlock)
	defer d.Put()
	d.SetDMAPool(p)

	a, err := d.AllocDMA(dmaPageSize, DMAToDevice, true)
	if err != nil {
		t.Fatalf("AllocDMA(a): %v", err)
	}
	b, err := d.AllocDMA(dmaPageSize, DMAToDevice, true)
	if err != nil {
		t.Fatalf("AllocDMA(b): %v", err)
	}
	c, err := d.AllocDMA(dmaPageSize, DMAToDevice, true)
	if err != nil {
		t.Fatalf("AllocDMA(c): %v", err)
	}
	defer d.FreeDMA(c)

	wantPhys := a.Phys()
	if err := d.FreeDMA(a); err != nil {
		t.Fatalf("FreeDMA(a): %v", err)
	}
	if err := d.FreeDMA(b); err != nil {
		t.Fatalf("FreeDMA(b): %v", err)
	}

	big, err := d.AllocDMA(2*dmaPageSize, DMAToDevice, true)
	if err != nil {
		t.Fatalf("AllocDMA spanning freed pages: %v", err)
	}
	defer d.FreeDMA(big)
	if big.Phys() != wantPhys {
		t.Fatalf("coalesced phys = %#x, want %#x", big.Phys(), wantPhys)
	}
}

func TestDMAExhaustion(t *testing.T) {
	p := newTestPool(t, dmaPageSize)
	defer p.Close()

	d := NewDevice("blk0", TypeBlock)
	defer d.Put()
	d.SetDMAPool(p)

	m, err := d.AllocDMA(dmaPageSize, DMAToDevice, true)
	if err != nil {
		t.Fatalf("AllocDMA: %v", err)
	}
	defer d.FreeDMA(m)

	if _, err := d.AllocDMA(1, DMAToDevice, true); !errors.Is(err, ErrNoResources) {
		t.Fatalf("AllocDMA on exhausted pool = %v, want ErrNoResources", err)
	}
}

func TestDMASyncAccounting(t *testing.T) {
	p := newTestPool(t, 16*1024)
	defer p.Close()

	d := NewDevice("blk0", TypeBlock)
	defer d.Put()
	d.SetDMAPool(p)

	nc, err := d.AllocDMA(64, DMABidirectional, false)
	if err != nil {
		t.Fatalf("AllocDMA: %v", err)
	}
	defer d.FreeDMA(nc)

	if err := nc.Sync(DMAToDevice); err != nil {
		t.Fatalf("Sync(to device): %v", err)
	}
	if err := nc.Sync(DMABidirectional); err != nil {
		t.Fatalf("Sync(bidirectional): %v", err)
	}
	if got := nc.Flushes(); got != 2 {
		t.Fatalf("flushes = %d, want 2", got)
	}
	if got := nc.Invalidates(); got != 1 {
		t.Fatalf("invalidates = %d, want 1", got)
	}

	co, err := d.AllocDMA(64, DMABidirectional, true)
	if err != nil {
		t.Fatalf("AllocDMA coherent: %v", err)
	}
	defer d.FreeDMA(co)
	if err := co.Sync(DMAToDevice); err != nil {
		t.Fatalf("Sync coherent: %v", err)
	}
	if got := co.Flushes(); got != 0 {
		t.Fatalf("coherent flushes = %d, want 0", got)
	}

	if err := nc.Sync(DMADirection(9)); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("Sync with bad direction = %v, want ErrInvalidParam", err)
	}
}

func TestPoolCloseWhileLive(t *testing.T) {
	p := newTestPool(t, 16*1024)

	d := NewDevice("blk0", TypeBlock)
	d.SetDMAPool(p)
	if _, err := d.AllocDMA(64, DMAToDevice, true); err != nil {
		t.Fatalf("AllocDMA: %v", err)
	}

	if err := p.Close(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Close with live mappings = %v, want ErrBusy", err)
	}

	// Device teardown returns the mapping, after which close succeeds.
	d.Put()
	if err := p.Close(); err != nil {
		t.Fatalf("Close after teardown: %v", err)
	}
}
