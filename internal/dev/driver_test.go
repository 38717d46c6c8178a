package dev

import (
	"errors"
	"testing"
)

func TestBindInstallsDriver(t *testing.T) {
	probed := 0
	drv := NewDriver("testdrv", TypeBlock, &Ops{
		Probe: func(*Device) error { probed++; return nil },
	})
	d := NewDevice("test0", TypeBlock)
	defer d.Put()

	if err := drv.Bind(d); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if probed != 1 {
		t.Fatalf("probe ran %d times, want 1", probed)
	}
	if got := d.Driver(); got != drv {
		t.Fatalf("device driver = %v, want %v", got, drv)
	}
	if got := d.RefCount(); got != 2 {
		t.Fatalf("refcount after bind = %d, want 2", got)
	}
	if d.Ops() == nil {
		t.Fatal("driver ops not installed")
	}

	if err := drv.Unbind(d); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if got := d.Driver(); got != nil {
		t.Fatalf("device driver after unbind = %v, want nil", got)
	}
	if got := d.RefCount(); got != 1 {
		t.Fatalf("refcount after unbind = %d, want 1", got)
	}
	if d.Ops() != nil {
		t.Fatal("driver ops not cleared on unbind")
	}
}

func TestBindProbeFailureLeavesDeviceUntouched(t *testing.T) {
	drv := NewDriver("testdrv", TypeBlock, &Ops{
		Probe: func(*Device) error { return ErrHardware },
	})
	d := NewDevice("test0", TypeBlock)
	defer d.Put()

	if err := drv.Bind(d); !errors.Is(err, ErrHardware) {
		t.Fatalf("Bind = %v, want ErrHardware", err)
	}
	if got := d.Driver(); got != nil {
		t.Fatalf("device driver after failed bind = %v, want nil", got)
	}
	if got := d.RefCount(); got != 1 {
		t.Fatalf("refcount after failed bind = %d, want 1", got)
	}
	if got := len(drv.Devices()); got != 0 {
		t.Fatalf("driver bound %d devices, want 0", got)
	}
}

func TestBindKeepsProbeInstalledOps(t *testing.T) {
	probeOps := &Ops{}
	drv := NewDriver("testdrv", TypeGPU, &Ops{
		Probe: func(d *Device) error {
			d.SetOps(probeOps, "ctx")
			return nil
		},
	})
	d := NewDevice("test0", TypeGPU)
	defer d.Put()

	if err := drv.Bind(d); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := d.Ops(); got != probeOps {
		t.Fatalf("ops = %v, want the probe-installed table", got)
	}
	if got := d.Context(); got != "ctx" {
		t.Fatalf("context = %v, want %q", got, "ctx")
	}
}

func TestUnbindRunsRemoveHook(t *testing.T) {
	removed := 0
	drv := NewDriver("testdrv", TypeBlock, &Ops{
		Remove: func(*Device) error { removed++; return nil },
	})
	d := NewDevice("test0", TypeBlock)
	defer d.Put()

	if err := drv.Bind(d); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := drv.Unbind(d); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if removed != 1 {
		t.Fatalf("remove hook ran %d times, want 1", removed)
	}

	if err := drv.Unbind(d); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Unbind of unbound device = %v, want ErrNotFound", err)
	}
}

func TestDriverCloseForceUnbinds(t *testing.T) {
	drv := NewDriver("testdrv", TypeBlock, &Ops{
		Remove: func(*Device) error { return ErrBusy },
	})
	d := NewDevice("test0", TypeBlock)
	defer d.Put()

	if err := drv.Bind(d); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	// A refusing remove hook must not wedge shutdown.
	drv.Close()
	if got := len(drv.Devices()); got != 0 {
		t.Fatalf("driver still holds %d devices after Close, want 0", got)
	}
	if got := d.RefCount(); got != 1 {
		t.Fatalf("refcount after Close = %d, want 1", got)
	}
}
