package pci

import (
	"fmt"

	"github.com/quasar-os/devcore/internal/dev"
)

// scanCapabilities walks the capability chain and returns the ordered
// capability IDs. Performed only when the status register advertises a
// capability list. Revisiting an offset ends the walk, so a malformed
// cyclic chain cannot loop forever.
func scanCapabilities(cs *ConfigSpace, a Address) ([]uint8, error) {
	status, err := cs.Read16(a, RegStatus)
	if err != nil {
		return nil, err
	}
	if status&StatusCapList == 0 {
		return nil, nil
	}

	ptr, err := cs.Read8(a, RegCapPointer)
	if err != nil {
		return nil, err
	}
	ptr &= 0xfc

	var ids []uint8
	seen := make(map[uint8]bool)
	for ptr != 0 && !seen[ptr] {
		seen[ptr] = true

		id, err := cs.Read8(a, ptr)
		if err != nil {
			return ids, err
		}
		next, err := cs.Read8(a, ptr+1)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
		ptr = next & 0xfc
	}
	return ids, nil
}

// findCapability re-walks the chain for the given ID and returns its
// config-space offset.
func findCapability(cs *ConfigSpace, a Address, want uint8) (uint8, error) {
	status, err := cs.Read16(a, RegStatus)
	if err != nil {
		return 0, err
	}
	if status&StatusCapList == 0 {
		return 0, fmt.Errorf("pci %s: no capability list: %w", a, dev.ErrNotSupported)
	}

	ptr, err := cs.Read8(a, RegCapPointer)
	if err != nil {
		return 0, err
	}
	ptr &= 0xfc

	seen := make(map[uint8]bool)
	for ptr != 0 && !seen[ptr] {
		seen[ptr] = true
		id, err := cs.Read8(a, ptr)
		if err != nil {
			return 0, err
		}
		if id == want {
			return ptr, nil
		}
		next, err := cs.Read8(a, ptr+1)
		if err != nil {
			return 0, err
		}
		ptr = next & 0xfc
	}
	return 0, fmt.Errorf("pci %s: capability %#x: %w", a, want, dev.ErrNotFound)
}

// CapabilityName returns a short human-readable capability name.
func CapabilityName(id uint8) string {
	switch id {
	case CapIDPowerManagement:
		return "power-management"
	case CapIDVPD:
		return "vpd"
	case CapIDMSI:
		return "msi"
	case CapIDVendorSpecific:
		return "vendor"
	case CapIDPCIExpress:
		return "pcie"
	case CapIDMSIX:
		return "msi-x"
	default:
		return fmt.Sprintf("cap-%#02x", id)
	}
}
