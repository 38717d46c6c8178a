package dev

import (
	"fmt"
	"sync"
)

// File is the handle upper layers hold on an open device. Opening takes
// a device reference; closing drops it. Offsets are explicit, there is
// no cursor.
type File struct {
	mu   sync.Mutex
	d    *Device
	open bool
}

// OpenDevice runs the open hook and returns a counted handle. Devices
// without an open hook accept the open silently.
func OpenDevice(d *Device) (*File, error) {
	if d == nil {
		return nil, fmt.Errorf("open: %w", ErrInvalidParam)
	}
	d.Get()
	if ops := d.Ops(); ops != nil && ops.Open != nil {
		if err := ops.Open(d); err != nil {
			d.Put()
			return nil, fmt.Errorf("open %q: %w", d.Name(), err)
		}
	}
	return &File{d: d, open: true}, nil
}

// Device returns the device behind the handle.
func (f *File) Device() *Device { return f.d }

// Close runs the close hook and releases the handle's reference. Closing
// twice is an invalid operation.
func (f *File) Close() error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return fmt.Errorf("close %q: already closed: %w", f.d.Name(), ErrInvalidOp)
	}
	f.open = false
	f.mu.Unlock()

	var err error
	if ops := f.d.Ops(); ops != nil && ops.Close != nil {
		err = ops.Close(f.d)
	}
	f.d.Put()
	if err != nil {
		return fmt.Errorf("close %q: %w", f.d.Name(), err)
	}
	return nil
}

func (f *File) guard() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return fmt.Errorf("%q: handle closed: %w", f.d.Name(), ErrInvalidOp)
	}
	return nil
}

// ReadAt reads from the device at the given byte offset.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if err := f.guard(); err != nil {
		return 0, err
	}
	ops := f.d.Ops()
	if ops == nil || ops.Read == nil {
		return 0, fmt.Errorf("read %q: %w", f.d.Name(), ErrNotSupported)
	}
	return ops.Read(f.d, p, off)
}

// WriteAt writes to the device at the given byte offset.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if err := f.guard(); err != nil {
		return 0, err
	}
	ops := f.d.Ops()
	if ops == nil || ops.Write == nil {
		return 0, fmt.Errorf("write %q: %w", f.d.Name(), ErrNotSupported)
	}
	return ops.Write(f.d, p, off)
}

// Ioctl forwards an opaque command/argument pair to the driver.
func (f *File) Ioctl(cmd uint32, arg uintptr) error {
	if err := f.guard(); err != nil {
		return err
	}
	ops := f.d.Ops()
	if ops == nil || ops.Ioctl == nil {
		return fmt.Errorf("ioctl %q: %w", f.d.Name(), ErrNotSupported)
	}
	return ops.Ioctl(f.d, cmd, arg)
}

// Mmap asks the driver to map length bytes of device memory.
func (f *File) Mmap(length uint64) (uintptr, error) {
	if err := f.guard(); err != nil {
		return 0, err
	}
	ops := f.d.Ops()
	if ops == nil || ops.Mmap == nil {
		return 0, fmt.Errorf("mmap %q: %w", f.d.Name(), ErrNotSupported)
	}
	return ops.Mmap(f.d, length)
}

// Poll returns the driver's readiness mask.
func (f *File) Poll() (uint32, error) {
	if err := f.guard(); err != nil {
		return 0, err
	}
	ops := f.d.Ops()
	if ops == nil || ops.Poll == nil {
		return 0, fmt.Errorf("poll %q: %w", f.d.Name(), ErrNotSupported)
	}
	return ops.Poll(f.d)
}
