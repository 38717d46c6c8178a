// Package gpu is the display-class client of the device core: it binds
// discovered GPU functions, enables bus mastering and serves the gaming
// and compositor extension hooks. Register-level hardware programming
// lives with the hardware backends, not here.
package gpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/quasar-os/devcore/internal/dev"
	"github.com/quasar-os/devcore/internal/pci"
)

// DriverName identifies the driver in the registry.
const DriverName = "quasar-gpu"

// Ioctl commands understood by the GPU device node.
const (
	IoctlSetVSync     = 0x6701
	IoctlFlushFrame   = 0x6702
	IoctlGetFrameRate = 0x6703
)

// frameBudget is the 60Hz scanout window. With vsync engaged, a submit
// arriving later than this after the previous one missed its flip.
const frameBudget = time.Second / 60

type state struct {
	mu sync.Mutex

	pdev *pci.Device

	vsync      bool
	frames     uint64
	frameDrops uint64
	lastSubmit time.Time
	avgLatency time.Duration
	maxLatency time.Duration
}

// New returns the GPU driver.
func New() *dev.Driver {
	return dev.NewDriver(DriverName, dev.TypeGPU, ops())
}

func ops() *dev.Ops {
	o := &dev.Ops{
		Remove:                remove,
		Suspend:               suspend,
		Resume:                resume,
		Ioctl:                 ioctl,
		Mmap:                  mmapBAR,
		SetGamingMode:         setGamingMode,
		SetLowLatency:         setLowLatency,
		GetPerformanceMetrics: metrics,
		EnableWaylandMode:     enableWayland,
		SubmitWaylandBuffer:   submitBuffer,
		SetCompositorHints:    setHints,
	}
	o.Probe = func(d *dev.Device) error {
		pd := pci.FromCore(d)
		if pd == nil {
			return fmt.Errorf("%s: not a pci device: %w", d.Name(), dev.ErrNotSupported)
		}
		if pd.ClassCode != pci.ClassDisplay {
			return fmt.Errorf("%s: class %#02x: %w", d.Name(), pd.ClassCode, dev.ErrNotSupported)
		}
		if err := pd.EnableMemorySpace(); err != nil {
			return err
		}
		if err := pd.EnableBusMaster(); err != nil {
			return err
		}
		if pd.MSICapable {
			if err := pd.EnableMSI(); err != nil {
				return err
			}
		}
		d.SetOps(o, &state{pdev: pd})
		return nil
	}
	return o
}

func devState(d *dev.Device) (*state, error) {
	s, ok := d.Context().(*state)
	if !ok {
		return nil, fmt.Errorf("%s: gpu state missing: %w", d.Name(), dev.ErrNotReady)
	}
	return s, nil
}

func remove(d *dev.Device) error {
	d.SetOps(nil, nil)
	return nil
}

func suspend(d *dev.Device) error { return nil }
func resume(d *dev.Device) error  { return nil }

func ioctl(d *dev.Device, cmd uint32, arg uintptr) error {
	s, err := devState(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd {
	case IoctlSetVSync:
		s.vsync = arg != 0
		return nil
	case IoctlFlushFrame:
		s.frames++
		return nil
	case IoctlGetFrameRate:
		return nil
	default:
		return fmt.Errorf("%s: ioctl %#x: %w", d.Name(), cmd, dev.ErrInvalidOp)
	}
}

// mmapBAR hands out the base of the first memory BAR, the framebuffer
// aperture in this device model.
func mmapBAR(d *dev.Device, length uint64) (uintptr, error) {
	s, err := devState(d)
	if err != nil {
		return 0, err
	}
	for _, b := range s.pdev.BARs {
		if b == nil || !b.IsMemory {
			continue
		}
		if length > b.Size {
			return 0, fmt.Errorf("%s: mmap %#x beyond bar size %#x: %w",
				d.Name(), length, b.Size, dev.ErrInvalidParam)
		}
		return uintptr(b.Base), nil
	}
	return 0, fmt.Errorf("%s: no memory bar: %w", d.Name(), dev.ErrNotSupported)
}

func setGamingMode(d *dev.Device, enable bool) error {
	s, err := devState(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Gaming mode trades vsync for latency.
	s.vsync = !enable
	return nil
}

func setLowLatency(d *dev.Device, enable bool) error {
	_, err := devState(d)
	return err
}

func enableWayland(d *dev.Device) error {
	_, err := devState(d)
	return err
}

func submitBuffer(d *dev.Device, handle uint64) error {
	s, err := devState(d)
	if err != nil {
		return err
	}
	if handle == 0 {
		return fmt.Errorf("%s: nil buffer handle: %w", d.Name(), dev.ErrInvalidParam)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if !s.lastSubmit.IsZero() {
		lat := now.Sub(s.lastSubmit)
		if s.avgLatency == 0 {
			s.avgLatency = lat
		} else {
			s.avgLatency = (s.avgLatency*7 + lat) / 8
		}
		if lat > s.maxLatency {
			s.maxLatency = lat
		}
		if s.vsync && lat > frameBudget {
			s.frameDrops++
		}
	}
	s.lastSubmit = now
	s.frames++
	return nil
}

func setHints(d *dev.Device, hints dev.CompositorHints) error {
	s, err := devState(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if hints.VSyncAligned {
		s.vsync = true
	}
	return nil
}

func metrics(d *dev.Device) (dev.Metrics, error) {
	s, err := devState(d)
	if err != nil {
		return dev.Metrics{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return dev.Metrics{
		AvgLatency: s.avgLatency,
		MaxLatency: s.maxLatency,
		FrameDrops: s.frameDrops,
	}, nil
}
