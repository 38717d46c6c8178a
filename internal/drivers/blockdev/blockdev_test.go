package blockdev

import (
	"bytes"
	"errors"
	"testing"

	"github.com/quasar-os/devcore/internal/dev"
)

func bindBlock(t *testing.T, pool *dev.DMAPool) (*dev.Manager, *dev.Device) {
	t.Helper()
	mgr := dev.NewManager()
	t.Cleanup(mgr.Close)
	if pool != nil {
		mgr.SetDMAPool(pool)
	}
	if err := mgr.RegisterDriver(New()); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}

	d := dev.NewDevice("blk0", dev.TypeBlock)
	t.Cleanup(d.Put)
	if err := mgr.RegisterDevice(d); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if d.Driver() == nil {
		t.Fatal("block driver did not bind")
	}
	return mgr, d
}

func TestReadWriteRoundTrip(t *testing.T) {
	_, d := bindBlock(t, nil)

	f, err := dev.OpenDevice(d)
	if err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	defer f.Close()

	want := []byte("sector payload")
	if n, err := f.WriteAt(want, 2*SectorSize); err != nil || n != len(want) {
		t.Fatalf("WriteAt = %d, %v; want %d, nil", n, err, len(want))
	}

	got := make([]byte, len(want))
	if _, err := f.ReadAt(got, 2*SectorSize); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadAt = %q, want %q", got, want)
	}
}

func TestIOBounds(t *testing.T) {
	_, d := bindBlock(t, nil)

	f, err := dev.OpenDevice(d)
	if err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	defer f.Close()

	if _, err := f.ReadAt(make([]byte, 16), Capacity); !errors.Is(err, dev.ErrInvalidParam) {
		t.Fatalf("ReadAt past capacity = %v, want ErrInvalidParam", err)
	}
	if _, err := f.WriteAt(make([]byte, 16), -1); !errors.Is(err, dev.ErrInvalidParam) {
		t.Fatalf("WriteAt at negative offset = %v, want ErrInvalidParam", err)
	}
	if _, err := f.WriteAt(make([]byte, 32), Capacity-16); !errors.Is(err, dev.ErrNoResources) {
		t.Fatalf("WriteAt crossing capacity = %v, want ErrNoResources", err)
	}
}

func TestIoctl(t *testing.T) {
	_, d := bindBlock(t, nil)

	f, err := dev.OpenDevice(d)
	if err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	defer f.Close()

	if err := f.Ioctl(IoctlGetCapacity, 0); err != nil {
		t.Fatalf("Ioctl(get capacity): %v", err)
	}
	if err := f.Ioctl(IoctlFlush, 0); err != nil {
		t.Fatalf("Ioctl(flush): %v", err)
	}
	if err := f.Ioctl(0x9999, 0); !errors.Is(err, dev.ErrInvalidOp) {
		t.Fatalf("unknown ioctl = %v, want ErrInvalidOp", err)
	}
}

func TestDMABackedStore(t *testing.T) {
	pool, err := dev.NewDMAPool(2 * Capacity)
	if err != nil {
		t.Fatalf("NewDMAPool: %v", err)
	}

	mgr, d := bindBlock(t, pool)

	mappings := d.DMAMappings()
	if len(mappings) != 1 {
		t.Fatalf("device holds %d mappings, want 1 (dma-backed store)", len(mappings))
	}
	m := mappings[0]

	f, err := dev.OpenDevice(d)
	if err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	want := []byte("dma payload")
	if _, err := f.WriteAt(want, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The write landed in the mapping and was flushed toward the device.
	if !bytes.Equal(m.Bytes()[:len(want)], want) {
		t.Fatalf("mapping contents = %q, want %q", m.Bytes()[:len(want)], want)
	}
	if m.Flushes() == 0 {
		t.Fatal("write did not flush the non-coherent mapping")
	}

	// Unregistering runs the remove hook, which returns the mapping.
	if err := mgr.UnregisterDevice(d); err != nil {
		t.Fatalf("UnregisterDevice: %v", err)
	}
	if got := len(d.DMAMappings()); got != 0 {
		t.Fatalf("device still holds %d mappings after remove, want 0", got)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("pool Close after remove: %v", err)
	}
}

func TestMetricsThroughput(t *testing.T) {
	_, d := bindBlock(t, nil)

	f, err := dev.OpenDevice(d)
	if err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(make([]byte, 64), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if _, err := f.ReadAt(make([]byte, 64), 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}

	d.UpdateMetrics()
	m := d.Metrics()
	if want := uint64(2 * SectorSize); m.ThroughputBps != want {
		t.Fatalf("throughput = %d, want %d", m.ThroughputBps, want)
	}
}
