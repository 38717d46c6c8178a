package dev

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const dmaPageSize = 4096

// DMAMapping is one live DMA-capable allocation: a virtual view for the
// CPU and a bus address for the device. It is owned by the allocating
// device until FreeDMA.
type DMAMapping struct {
	virt     []byte
	phys     uint64
	size     int
	dir      DMADirection
	coherent bool

	// Cache-maintenance accounting for the simulated memory model.
	flushes     atomic.Uint64
	invalidates atomic.Uint64
}

// Bytes returns the CPU-visible view of the mapping.
func (m *DMAMapping) Bytes() []byte { return m.virt }

// Phys returns the bus address a device would be programmed with.
func (m *DMAMapping) Phys() uint64 { return m.phys }

func (m *DMAMapping) Size() int               { return m.size }
func (m *DMAMapping) Direction() DMADirection { return m.dir }
func (m *DMAMapping) Coherent() bool          { return m.coherent }

// Sync prepares the mapping for a transfer in the given direction:
// flush before device-bound transfers, invalidate before CPU-bound
// transfers, both for bidirectional. Coherent mappings need neither.
func (m *DMAMapping) Sync(dir DMADirection) error {
	switch dir {
	case DMAToDevice, DMAFromDevice, DMABidirectional:
	default:
		return fmt.Errorf("dma sync: direction %d: %w", dir, ErrInvalidParam)
	}
	if m.coherent {
		return nil
	}
	if dir == DMAToDevice || dir == DMABidirectional {
		m.flushes.Add(1)
	}
	if dir == DMAFromDevice || dir == DMABidirectional {
		m.invalidates.Add(1)
	}
	return nil
}

// Flushes returns how many cache flushes this mapping has performed.
func (m *DMAMapping) Flushes() uint64 { return m.flushes.Load() }

// Invalidates returns how many cache invalidates this mapping has
// performed.
func (m *DMAMapping) Invalidates() uint64 { return m.invalidates.Load() }

type dmaRange struct {
	off  int
	size int
}

// DMAPool hands out page-aligned slices of one anonymous mapping that
// stands in for DMA-capable physical memory. Bus addresses are the
// mapping offset plus a fixed window base.
type DMAPool struct {
	mu   sync.Mutex
	mem  []byte
	base uint64
	next int
	free []dmaRange
	live map[uint64]dmaRange
}

// DMAWindowBase is the bus address of the pool's first byte.
const DMAWindowBase = 0x1_0000_0000

// NewDMAPool maps an anonymous region of at least size bytes.
func NewDMAPool(size int) (*DMAPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("dma pool size %d: %w", size, ErrInvalidParam)
	}
	size = alignUp(size, dmaPageSize)
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("dma pool mmap: %w: %v", ErrNoMemory, err)
	}
	return &DMAPool{
		mem:  mem,
		base: DMAWindowBase,
		live: make(map[uint64]dmaRange),
	}, nil
}

// Close unmaps the backing region. All mappings must have been freed.
func (p *DMAPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.live) > 0 {
		return fmt.Errorf("dma pool close: %d mappings still live: %w", len(p.live), ErrBusy)
	}
	if p.mem != nil {
		if err := unix.Munmap(p.mem); err != nil {
			return fmt.Errorf("dma pool munmap: %v", err)
		}
		p.mem = nil
	}
	return nil
}

func (p *DMAPool) alloc(size int, dir DMADirection, coherent bool) (*DMAMapping, error) {
	if size <= 0 {
		return nil, fmt.Errorf("dma alloc size %d: %w", size, ErrInvalidParam)
	}
	aligned := alignUp(size, dmaPageSize)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mem == nil {
		return nil, fmt.Errorf("dma alloc: pool closed: %w", ErrNotReady)
	}

	off := -1
	for i, r := range p.free {
		if r.size >= aligned {
			off = r.off
			if r.size == aligned {
				p.free = append(p.free[:i], p.free[i+1:]...)
			} else {
				p.free[i] = dmaRange{off: r.off + aligned, size: r.size - aligned}
			}
			break
		}
	}
	if off < 0 {
		if p.next+aligned > len(p.mem) {
			return nil, fmt.Errorf("dma alloc %d bytes: %w", size, ErrNoResources)
		}
		off = p.next
		p.next += aligned
	}

	phys := p.base + uint64(off)
	p.live[phys] = dmaRange{off: off, size: aligned}
	return &DMAMapping{
		virt:     p.mem[off : off+size : off+aligned],
		phys:     phys,
		size:     size,
		dir:      dir,
		coherent: coherent,
	}, nil
}

func (p *DMAPool) release(m *DMAMapping) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.live[m.phys]
	if !ok {
		return fmt.Errorf("dma free at %#x: %w", m.phys, ErrNotFound)
	}
	delete(p.live, m.phys)
	p.insertFree(r)
	m.virt = nil
	return nil
}

// insertFree keeps the free list sorted by offset and merges the
// released range with adjacent neighbours, so back-to-back frees can
// satisfy a later allocation larger than either piece.
func (p *DMAPool) insertFree(r dmaRange) {
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].off > r.off })
	p.free = append(p.free, dmaRange{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = r

	if i+1 < len(p.free) && p.free[i].off+p.free[i].size == p.free[i+1].off {
		p.free[i].size += p.free[i+1].size
		p.free = append(p.free[:i+1], p.free[i+2:]...)
	}
	if i > 0 && p.free[i-1].off+p.free[i-1].size == p.free[i].off {
		p.free[i-1].size += p.free[i].size
		p.free = append(p.free[:i], p.free[i+1:]...)
		i--
	}
	// A tail range ending at the bump pointer goes back to the bump
	// allocator.
	if i == len(p.free)-1 && p.free[i].off+p.free[i].size == p.next {
		p.next = p.free[i].off
		p.free = p.free[:i]
	}
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}

// SetDMAPool attaches the pool the device allocates from. The manager
// installs its pool on registration.
func (d *Device) SetDMAPool(p *DMAPool) {
	d.mu.Lock()
	d.pool = p
	d.mu.Unlock()
}

// AllocDMA allocates DMA-capable memory, maps it and records the mapping
// on the owning device.
func (d *Device) AllocDMA(size int, dir DMADirection, coherent bool) (*DMAMapping, error) {
	d.mu.Lock()
	pool := d.pool
	d.mu.Unlock()
	if pool == nil {
		return nil, fmt.Errorf("%s: alloc dma: no pool attached: %w", d.name, ErrNotReady)
	}
	m, err := pool.alloc(size, dir, coherent)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	d.mu.Lock()
	d.mappings = append(d.mappings, m)
	d.mu.Unlock()
	return m, nil
}

// FreeDMA unmaps the range, releases it back to the pool and drops it
// from the device's mapping list.
func (d *Device) FreeDMA(m *DMAMapping) error {
	if m == nil {
		return fmt.Errorf("%s: free dma: %w", d.name, ErrInvalidParam)
	}
	d.mu.Lock()
	found := false
	for i, have := range d.mappings {
		if have == m {
			d.mappings = append(d.mappings[:i], d.mappings[i+1:]...)
			found = true
			break
		}
	}
	pool := d.pool
	d.mu.Unlock()
	if !found {
		return fmt.Errorf("%s: free dma at %#x: %w", d.name, m.phys, ErrNotFound)
	}
	if pool == nil {
		return fmt.Errorf("%s: free dma: no pool attached: %w", d.name, ErrNotReady)
	}
	if err := pool.release(m); err != nil {
		return fmt.Errorf("%s: %w", d.name, err)
	}
	return nil
}

// DMAMappings returns a snapshot of the device's live mappings.
func (d *Device) DMAMappings() []*DMAMapping {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*DMAMapping, len(d.mappings))
	copy(out, d.mappings)
	return out
}
