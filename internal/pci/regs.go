package pci

// Legacy configuration access mechanism ports.
const (
	ConfigAddressPort = 0xCF8
	ConfigDataPort    = 0xCFC

	configEnable = 1 << 31
)

// Type 0 header register offsets.
const (
	RegVendorID     = 0x00
	RegDeviceID     = 0x02
	RegCommand      = 0x04
	RegStatus       = 0x06
	RegRevisionID   = 0x08
	RegProgIF       = 0x09
	RegSubclass     = 0x0a
	RegClassCode    = 0x0b
	RegCacheLine    = 0x0c
	RegLatencyTimer = 0x0d
	RegHeaderType   = 0x0e
	RegBIST         = 0x0f
	RegBAR0         = 0x10
	RegCapPointer   = 0x34
	RegIRQLine      = 0x3c
	RegIRQPin       = 0x3d

	// Type 1 (bridge) header.
	RegSecondaryBus = 0x19

	BARCount = 6
)

// Command register bits.
const (
	CommandIOSpace uint16 = 1 << iota
	CommandMemorySpace
	CommandBusMaster
	CommandSpecialCycles
	CommandMemWriteInvalidate
	CommandVGASnoop
	CommandParityError
	_
	CommandSERR
	CommandFastBackToBack
	CommandInterruptDisable
)

// Status register bits.
const (
	StatusInterrupt      uint16 = 1 << 3
	StatusCapList        uint16 = 1 << 4
	Status66MHz          uint16 = 1 << 5
	StatusFastBackToBack uint16 = 1 << 7
	StatusMasterParity   uint16 = 1 << 8
	StatusSigTargetAbort uint16 = 1 << 11
	StatusRecvTargetAbort uint16 = 1 << 12
	StatusRecvMasterAbort uint16 = 1 << 13
	StatusSigSystemError  uint16 = 1 << 14
	StatusParityError     uint16 = 1 << 15
)

// Header type byte.
const (
	HeaderTypeMask     = 0x7f
	HeaderTypeStandard = 0x00
	HeaderTypeBridge   = 0x01
	HeaderMultiFunc    = 0x80
)

// Class/subclass codes this subsystem cares about.
const (
	ClassStorage    = 0x01
	ClassNetwork    = 0x02
	ClassDisplay    = 0x03
	ClassMultimedia = 0x04
	ClassBridge     = 0x06
	ClassInput      = 0x09
	ClassSerialBus  = 0x0c

	SubclassPCIBridge = 0x04
	SubclassUSB       = 0x03
)

// Capability IDs recognized by the scanner.
const (
	CapIDPowerManagement uint8 = 0x01
	CapIDVPD             uint8 = 0x03
	CapIDMSI             uint8 = 0x05
	CapIDVendorSpecific  uint8 = 0x09
	CapIDPCIExpress      uint8 = 0x10
	CapIDMSIX            uint8 = 0x11

	// MSI message control word, relative to the capability base.
	msiControlOffset = 0x02
	msiEnableBit     = 1 << 0
)

// Vendor ID read back from an empty slot.
const InvalidVendorID = 0xffff
