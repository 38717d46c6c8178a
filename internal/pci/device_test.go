package pci

import (
	"errors"
	"testing"

	"github.com/quasar-os/devcore/internal/dev"
	"github.com/quasar-os/devcore/internal/sim"
)

func gpuEndpoint() sim.EndpointConfig {
	return sim.EndpointConfig{
		Bus: 0, Slot: 1,
		VendorID:  0x1af4,
		DeviceID:  0x1050,
		ClassCode: ClassDisplay,
		BARs: []sim.BARConfig{
			{Index: 0, Size: 0x100_0000, Base: 0xe000_0000, Is64: true, Prefetchable: true},
		},
		Caps: []sim.CapConfig{
			{ID: CapIDMSI, Body: make([]byte, 12)},
			{ID: CapIDPCIExpress, Body: make([]byte, 14)},
		},
	}
}

func TestProbeDevice(t *testing.T) {
	m := sim.NewMachine()
	if _, err := m.AddEndpoint(gpuEndpoint()); err != nil {
		t.Fatalf("AddEndpoint: %v", err)
	}
	cs := NewConfigSpace(m)

	pd, err := Probe(cs, Address{Slot: 1})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	defer pd.Core.Put()

	if pd.VendorID != 0x1af4 || pd.DeviceID != 0x1050 {
		t.Fatalf("identity = %04x:%04x, want 1af4:1050", pd.VendorID, pd.DeviceID)
	}
	if !pd.MSICapable || !pd.IsPCIe || pd.MSIXCapable {
		t.Fatalf("caps = msi %v pcie %v msi-x %v, want true/true/false",
			pd.MSICapable, pd.IsPCIe, pd.MSIXCapable)
	}
	if pd.BARs[0] == nil || pd.BARs[0].Size != 0x100_0000 {
		t.Fatalf("bar0 = %+v, want 16M window", pd.BARs[0])
	}

	if got := pd.Core.Type(); got != dev.TypeGPU {
		t.Fatalf("core type = %v, want gpu", got)
	}
	if got := pd.Core.Name(); got != "pci-0000:00:01.0" {
		t.Fatalf("core name = %q, want %q", got, "pci-0000:00:01.0")
	}
	if !pd.Core.HasCapability(dev.CapMSI | dev.CapDMA | dev.CapGamingOptimized) {
		t.Fatalf("core caps = %#x missing msi/dma/gaming bits", pd.Core.Capabilities())
	}

	if got := FromCore(pd.Core); got != pd {
		t.Fatalf("FromCore = %v, want %v", got, pd)
	}
}

func TestProbeAbsentDevice(t *testing.T) {
	cs := NewConfigSpace(sim.NewMachine())

	if _, err := Probe(cs, Address{Slot: 9}); !errors.Is(err, dev.ErrNotFound) {
		t.Fatalf("Probe on empty slot = %v, want ErrNotFound", err)
	}
}

func TestEnableCommandBits(t *testing.T) {
	m := sim.NewMachine()
	if _, err := m.AddEndpoint(gpuEndpoint()); err != nil {
		t.Fatalf("AddEndpoint: %v", err)
	}
	cs := NewConfigSpace(m)

	pd, err := Probe(cs, Address{Slot: 1})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	defer pd.Core.Put()

	if err := pd.EnableMemorySpace(); err != nil {
		t.Fatalf("EnableMemorySpace: %v", err)
	}
	if err := pd.EnableBusMaster(); err != nil {
		t.Fatalf("EnableBusMaster: %v", err)
	}

	cmd, err := cs.Read16(pd.Addr, RegCommand)
	if err != nil {
		t.Fatalf("Read16(command): %v", err)
	}
	if want := CommandMemorySpace | CommandBusMaster; cmd&want != want {
		t.Fatalf("command = %#x, want bits %#x set", cmd, want)
	}
}

func TestEnableMSI(t *testing.T) {
	m := sim.NewMachine()
	if _, err := m.AddEndpoint(gpuEndpoint()); err != nil {
		t.Fatalf("AddEndpoint: %v", err)
	}
	cs := NewConfigSpace(m)

	pd, err := Probe(cs, Address{Slot: 1})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	defer pd.Core.Put()

	if err := pd.EnableMSI(); err != nil {
		t.Fatalf("EnableMSI: %v", err)
	}
	// Enable bit lives in the message control word at cap base + 2.
	ctl, err := cs.Read16(pd.Addr, 0x42)
	if err != nil {
		t.Fatalf("Read16(msi control): %v", err)
	}
	if ctl&msiEnableBit == 0 {
		t.Fatalf("msi control = %#x, enable bit not set", ctl)
	}
}

func TestEnableMSIWithoutCapability(t *testing.T) {
	m := sim.NewMachine()
	if _, err := m.AddEndpoint(sim.EndpointConfig{
		Bus: 0, Slot: 2,
		VendorID:  0x1b36,
		ClassCode: ClassStorage,
	}); err != nil {
		t.Fatalf("AddEndpoint: %v", err)
	}
	cs := NewConfigSpace(m)

	pd, err := Probe(cs, Address{Slot: 2})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	defer pd.Core.Put()

	if err := pd.EnableMSI(); !errors.Is(err, dev.ErrNotSupported) {
		t.Fatalf("EnableMSI without capability = %v, want ErrNotSupported", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		class, subclass uint8
		want            dev.Type
	}{
		{ClassStorage, 0x08, dev.TypeBlock},
		{ClassNetwork, 0x00, dev.TypeNetwork},
		{ClassDisplay, 0x00, dev.TypeGPU},
		{ClassMultimedia, 0x00, dev.TypeCapture},
		{ClassBridge, SubclassPCIBridge, dev.TypeBridge},
		{ClassInput, 0x00, dev.TypeInput},
		{ClassSerialBus, SubclassUSB, dev.TypeUSB},
		{ClassSerialBus, 0x00, dev.TypeUnknown},
		{0x42, 0x00, dev.TypeUnknown},
	}
	for _, tc := range cases {
		if got := classify(tc.class, tc.subclass); got != tc.want {
			t.Errorf("classify(%#x, %#x) = %v, want %v", tc.class, tc.subclass, got, tc.want)
		}
	}
}
