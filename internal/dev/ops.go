package dev

// CompositorHints carries scheduling hints a Wayland compositor passes
// down to a scanout-capable device.
type CompositorHints struct {
	VSyncAligned  bool
	DirectScanout bool
	TargetFPS     uint32
}

// Ops is the operations table a driver supplies for a device class. Any
// subset may be nil; dispatch helpers on Device treat a missing hook as
// "silently accepted" for state transitions and as ErrNotSupported for
// data-path operations.
type Ops struct {
	Probe    func(*Device) error
	Remove   func(*Device) error
	Suspend  func(*Device) error
	Resume   func(*Device) error
	Shutdown func(*Device) error
	Release  func(*Device)

	Open  func(*Device) error
	Close func(*Device) error
	Read  func(d *Device, p []byte, off int64) (int, error)
	Write func(d *Device, p []byte, off int64) (int, error)
	Ioctl func(d *Device, cmd uint32, arg uintptr) error
	Mmap  func(d *Device, length uint64) (uintptr, error)
	Poll  func(*Device) (uint32, error)

	// Gaming / compositor extension hooks.
	SetGamingMode         func(d *Device, enable bool) error
	SetLowLatency         func(d *Device, enable bool) error
	GetPerformanceMetrics func(*Device) (Metrics, error)
	EnableWaylandMode     func(*Device) error
	SubmitWaylandBuffer   func(d *Device, handle uint64) error
	SetCompositorHints    func(d *Device, hints CompositorHints) error
}
