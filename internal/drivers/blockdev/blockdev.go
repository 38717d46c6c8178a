// Package blockdev binds storage-class functions and exposes a simple
// sector-addressed device node backed by a DMA-mapped buffer. It is the
// reference consumer of the read/write/ioctl file path.
package blockdev

import (
	"fmt"
	"sync"

	"github.com/quasar-os/devcore/internal/dev"
	"github.com/quasar-os/devcore/internal/pci"
)

// DriverName identifies the driver in the registry.
const DriverName = "quasar-blk"

const (
	SectorSize = 512

	// Capacity of the backing store, fixed in this model.
	Capacity = 1 << 20

	IoctlGetCapacity = 0x6201
	IoctlFlush       = 0x6202
)

type state struct {
	mu      sync.Mutex
	mapping *dev.DMAMapping
	heap    []byte // fallback when no DMA pool is attached
	flushes uint64
	reads   uint64
	writes  uint64
	errors  uint64
}

func (s *state) store() []byte {
	if s.mapping != nil {
		return s.mapping.Bytes()
	}
	return s.heap
}

// New returns the block driver.
func New() *dev.Driver {
	return dev.NewDriver(DriverName, dev.TypeBlock, ops())
}

func ops() *dev.Ops {
	o := &dev.Ops{
		Remove:                remove,
		Read:                  read,
		Write:                 write,
		Ioctl:                 ioctl,
		GetPerformanceMetrics: metrics,
	}
	o.Probe = func(d *dev.Device) error {
		pd := pci.FromCore(d)
		if pd != nil && pd.ClassCode != pci.ClassStorage {
			return fmt.Errorf("%s: class %#02x: %w", d.Name(), pd.ClassCode, dev.ErrNotSupported)
		}
		if pd != nil {
			if err := pd.EnableBusMaster(); err != nil {
				return err
			}
		}

		s := &state{}
		m, err := d.AllocDMA(Capacity, dev.DMABidirectional, false)
		if err == nil {
			s.mapping = m
		} else {
			s.heap = make([]byte, Capacity)
		}
		d.SetOps(o, s)
		return nil
	}
	return o
}

func devState(d *dev.Device) (*state, error) {
	s, ok := d.Context().(*state)
	if !ok {
		return nil, fmt.Errorf("%s: blk state missing: %w", d.Name(), dev.ErrNotReady)
	}
	return s, nil
}

func remove(d *dev.Device) error {
	s, err := devState(d)
	if err != nil {
		return err
	}
	if s.mapping != nil {
		if err := d.FreeDMA(s.mapping); err != nil {
			return err
		}
		s.mapping = nil
	}
	d.SetOps(nil, nil)
	return nil
}

func read(d *dev.Device, p []byte, off int64) (int, error) {
	s, err := devState(d)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	store := s.store()
	if off < 0 || off >= int64(len(store)) {
		s.errors++
		return 0, fmt.Errorf("%s: read at %d: %w", d.Name(), off, dev.ErrInvalidParam)
	}
	if s.mapping != nil {
		if err := s.mapping.Sync(dev.DMAFromDevice); err != nil {
			return 0, err
		}
	}
	n := copy(p, store[off:])
	s.reads++
	return n, nil
}

func write(d *dev.Device, p []byte, off int64) (int, error) {
	s, err := devState(d)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	store := s.store()
	if off < 0 || off >= int64(len(store)) {
		s.errors++
		return 0, fmt.Errorf("%s: write at %d: %w", d.Name(), off, dev.ErrInvalidParam)
	}
	if int64(len(p)) > int64(len(store))-off {
		s.errors++
		return 0, fmt.Errorf("%s: write of %d at %d: %w", d.Name(), len(p), off, dev.ErrNoResources)
	}
	n := copy(store[off:], p)
	if s.mapping != nil {
		if err := s.mapping.Sync(dev.DMAToDevice); err != nil {
			return n, err
		}
	}
	s.writes++
	return n, nil
}

func ioctl(d *dev.Device, cmd uint32, arg uintptr) error {
	s, err := devState(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd {
	case IoctlGetCapacity:
		return nil
	case IoctlFlush:
		s.flushes++
		return nil
	default:
		return fmt.Errorf("%s: ioctl %#x: %w", d.Name(), cmd, dev.ErrInvalidOp)
	}
}

func metrics(d *dev.Device) (dev.Metrics, error) {
	s, err := devState(d)
	if err != nil {
		return dev.Metrics{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return dev.Metrics{
		ThroughputBps: (s.reads + s.writes) * SectorSize,
		Errors:        s.errors,
	}, nil
}
