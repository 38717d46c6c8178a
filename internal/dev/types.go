package dev

// Type classifies a device by the hardware class it belongs to.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeGPU
	TypeUSB
	TypeBlock
	TypeNetwork
	TypeInput
	TypeAudio
	TypeCapture
	TypeBridge
)

func (t Type) String() string {
	switch t {
	case TypeGPU:
		return "gpu"
	case TypeUSB:
		return "usb"
	case TypeBlock:
		return "block"
	case TypeNetwork:
		return "network"
	case TypeInput:
		return "input"
	case TypeAudio:
		return "audio"
	case TypeCapture:
		return "capture"
	case TypeBridge:
		return "bridge"
	default:
		return "unknown"
	}
}

// PowerState is the power level a device is currently operating at.
type PowerState uint8

const (
	PowerOn PowerState = iota
	PowerSuspended
	PowerHibernating
	PowerOff
)

func (s PowerState) String() string {
	switch s {
	case PowerOn:
		return "on"
	case PowerSuspended:
		return "suspended"
	case PowerHibernating:
		return "hibernating"
	case PowerOff:
		return "off"
	default:
		return "invalid"
	}
}

// DMADirection is the direction of a DMA transfer relative to the device.
type DMADirection uint8

const (
	DMAToDevice DMADirection = iota
	DMAFromDevice
	DMABidirectional
)

// Capabilities is a fixed-width capability bitset. Bit positions are part
// of the driver ABI and must not be reordered.
type Capabilities uint32

const (
	CapDMA Capabilities = 1 << iota
	CapMSI
	CapMSIX
	CapPowerManagement
	CapHotplug
	CapGamingOptimized
	CapLowLatency
	CapHighBandwidth
	CapWaylandOptimized
	CapDirectScanout
)

// Has reports whether every bit in mask is set.
func (c Capabilities) Has(mask Capabilities) bool {
	return c&mask == mask
}

// InterruptFlags is a fixed-width interrupt configuration bitset shared
// with driver implementations.
type InterruptFlags uint32

const (
	IRQShared InterruptFlags = 1 << iota
	IRQEdgeTriggered
	IRQLevelTriggered
	IRQMSI
	IRQMSIX
)
