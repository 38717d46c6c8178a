package pci

import (
	"fmt"

	"github.com/quasar-os/devcore/internal/dev"
)

// Device is the PCI view of one discovered function. Core is the generic
// device-tree node; this struct is attached to it as bus data so driver
// code can recover the PCI detail without downcasting.
type Device struct {
	Core *dev.Device
	Addr Address

	VendorID   uint16
	DeviceID   uint16
	ClassCode  uint8
	Subclass   uint8
	ProgIF     uint8
	Revision   uint8
	HeaderType uint8

	BARs         [BARCount]*BAR
	Capabilities []uint8

	IsPCIe      bool
	MSICapable  bool
	MSIXCapable bool

	cs *ConfigSpace
}

// Probe reads the function's identity, decodes its BARs and scans its
// capability chain, returning the assembled PCI device bound to a fresh
// core device node. A vendor ID of 0xffff means no device is present.
func Probe(cs *ConfigSpace, a Address) (*Device, error) {
	vendor, err := cs.Read16(a, RegVendorID)
	if err != nil {
		return nil, err
	}
	if vendor == InvalidVendorID {
		return nil, fmt.Errorf("pci %s: %w", a, dev.ErrNotFound)
	}

	d := &Device{Addr: a, VendorID: vendor, cs: cs}

	if d.DeviceID, err = cs.Read16(a, RegDeviceID); err != nil {
		return nil, err
	}
	if d.Revision, err = cs.Read8(a, RegRevisionID); err != nil {
		return nil, err
	}
	if d.ProgIF, err = cs.Read8(a, RegProgIF); err != nil {
		return nil, err
	}
	if d.Subclass, err = cs.Read8(a, RegSubclass); err != nil {
		return nil, err
	}
	if d.ClassCode, err = cs.Read8(a, RegClassCode); err != nil {
		return nil, err
	}
	if d.HeaderType, err = cs.Read8(a, RegHeaderType); err != nil {
		return nil, err
	}

	if d.BARs, err = probeBARs(cs, a); err != nil {
		return nil, err
	}

	if d.Capabilities, err = scanCapabilities(cs, a); err != nil {
		return nil, err
	}
	for _, id := range d.Capabilities {
		switch id {
		case CapIDMSI:
			d.MSICapable = true
		case CapIDMSIX:
			d.MSIXCapable = true
		case CapIDPCIExpress:
			d.IsPCIe = true
		}
	}

	core := dev.NewDevice(fmt.Sprintf("pci-0000:%s", a), classify(d.ClassCode, d.Subclass))
	core.SetIDs(uint32(vendor), uint32(d.DeviceID))
	core.AddCapabilities(deviceCaps(d))
	core.SetBusData(d)
	d.Core = core
	return d, nil
}

// classify maps PCI class/subclass codes onto generic device types.
func classify(class, subclass uint8) dev.Type {
	switch class {
	case ClassStorage:
		return dev.TypeBlock
	case ClassNetwork:
		return dev.TypeNetwork
	case ClassDisplay:
		return dev.TypeGPU
	case ClassMultimedia:
		return dev.TypeCapture
	case ClassBridge:
		return dev.TypeBridge
	case ClassInput:
		return dev.TypeInput
	case ClassSerialBus:
		if subclass == SubclassUSB {
			return dev.TypeUSB
		}
	}
	return dev.TypeUnknown
}

func deviceCaps(d *Device) dev.Capabilities {
	var caps dev.Capabilities
	if d.MSICapable {
		caps |= dev.CapMSI
	}
	if d.MSIXCapable {
		caps |= dev.CapMSIX
	}
	for _, id := range d.Capabilities {
		if id == CapIDPowerManagement {
			caps |= dev.CapPowerManagement
		}
	}
	if hasBusMasterBARs(d) {
		caps |= dev.CapDMA
	}
	if d.ClassCode == ClassDisplay {
		caps |= dev.CapGamingOptimized | dev.CapWaylandOptimized | dev.CapHighBandwidth
	}
	return caps
}

// hasBusMasterBARs reports whether the function exposes any memory BAR,
// the precondition for DMA-capable operation in this model.
func hasBusMasterBARs(d *Device) bool {
	for _, b := range d.BARs {
		if b != nil && b.IsMemory {
			return true
		}
	}
	return false
}

// IsBridge reports whether the function is a PCI-to-PCI bridge.
func (d *Device) IsBridge() bool {
	return d.ClassCode == ClassBridge && d.Subclass == SubclassPCIBridge
}

// SecondaryBus reads the bridge's secondary bus number register.
func (d *Device) SecondaryBus() (uint8, error) {
	if !d.IsBridge() {
		return 0, fmt.Errorf("pci %s: not a bridge: %w", d.Addr, dev.ErrInvalidOp)
	}
	return d.cs.Read8(d.Addr, RegSecondaryBus)
}

// EnableBusMaster sets the command-register bus-master bit, required
// before the function may issue DMA.
func (d *Device) EnableBusMaster() error {
	cmd, err := d.cs.Read16(d.Addr, RegCommand)
	if err != nil {
		return err
	}
	return d.cs.Write16(d.Addr, RegCommand, cmd|CommandBusMaster)
}

// EnableMemorySpace sets the command-register memory decode bit.
func (d *Device) EnableMemorySpace() error {
	cmd, err := d.cs.Read16(d.Addr, RegCommand)
	if err != nil {
		return err
	}
	return d.cs.Write16(d.Addr, RegCommand, cmd|CommandMemorySpace)
}

// EnableMSI locates the MSI capability and sets the enable bit in its
// message-control word.
func (d *Device) EnableMSI() error {
	if !d.MSICapable {
		return fmt.Errorf("pci %s: msi: %w", d.Addr, dev.ErrNotSupported)
	}
	base, err := findCapability(d.cs, d.Addr, CapIDMSI)
	if err != nil {
		return err
	}
	ctl, err := d.cs.Read16(d.Addr, base+msiControlOffset)
	if err != nil {
		return err
	}
	return d.cs.Write16(d.Addr, base+msiControlOffset, ctl|msiEnableBit)
}

// FromCore recovers the PCI view attached to a core device, nil when the
// device did not come off the PCI bus.
func FromCore(core *dev.Device) *Device {
	if core == nil {
		return nil
	}
	pd, _ := core.BusData().(*Device)
	return pd
}
