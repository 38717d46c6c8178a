package pci

import (
	"fmt"

	"github.com/quasar-os/devcore/internal/dev"
)

// BAR is the decoded view of one base address register (two consecutive
// registers for 64-bit memory BARs).
type BAR struct {
	Index        int
	Base         uint64
	Size         uint64
	IsMemory     bool
	Prefetchable bool
	Is64Bit      bool
}

func (b *BAR) String() string {
	kind := "io"
	if b.IsMemory {
		kind = "mem32"
		if b.Is64Bit {
			kind = "mem64"
		}
	}
	return fmt.Sprintf("bar%d %s at %#x size %#x", b.Index, kind, b.Base, b.Size)
}

const (
	barIOSpace      = 1 << 0
	barMemTypeShift = 1
	barMemTypeMask  = 0x3
	barMemType32    = 0x0
	barMemType64    = 0x2
	barPrefetchable = 1 << 3

	barMemAddrMask = 0xffff_fff0
	barIOAddrMask  = 0xffff_fffc
)

// probeBAR decodes the BAR at slot index. Returns (nil, false, nil) for
// an unimplemented BAR; the bool reports whether the following slot was
// consumed by a 64-bit BAR. The register is restored after the all-ones
// size probe, so the device is left exactly as found.
func probeBAR(cs *ConfigSpace, a Address, index int) (*BAR, bool, error) {
	offset := uint8(RegBAR0 + 4*index)

	raw, err := cs.Read32(a, offset)
	if err != nil {
		return nil, false, err
	}
	if raw == 0 {
		return nil, false, nil
	}

	if err := cs.Write32(a, offset, 0xffff_ffff); err != nil {
		return nil, false, err
	}
	mask, err := cs.Read32(a, offset)
	if err != nil {
		return nil, false, err
	}
	if err := cs.Write32(a, offset, raw); err != nil {
		return nil, false, err
	}

	if raw&barIOSpace != 0 {
		size := ^(mask & barIOAddrMask) + 1
		return &BAR{
			Index: index,
			Base:  uint64(raw & barIOAddrMask),
			Size:  uint64(size),
		}, false, nil
	}

	memType := (raw >> barMemTypeShift) & barMemTypeMask
	bar := &BAR{
		Index:        index,
		IsMemory:     true,
		Prefetchable: raw&barPrefetchable != 0,
	}

	switch memType {
	case barMemType32:
		size := ^(mask & barMemAddrMask) + 1
		bar.Base = uint64(raw & barMemAddrMask)
		bar.Size = uint64(size)
		if size == 0 {
			bar.Size = 1 << 32
		}
		return bar, false, nil

	case barMemType64:
		if index+1 >= BARCount {
			return nil, false, fmt.Errorf("pci %s: 64-bit bar%d has no upper slot: %w",
				a, index, dev.ErrProtocol)
		}
		hiOffset := uint8(RegBAR0 + 4*(index+1))
		rawHi, err := cs.Read32(a, hiOffset)
		if err != nil {
			return nil, false, err
		}
		if err := cs.Write32(a, hiOffset, 0xffff_ffff); err != nil {
			return nil, false, err
		}
		maskHi, err := cs.Read32(a, hiOffset)
		if err != nil {
			return nil, false, err
		}
		if err := cs.Write32(a, hiOffset, rawHi); err != nil {
			return nil, false, err
		}

		bar.Is64Bit = true
		bar.Base = uint64(rawHi)<<32 | uint64(raw&barMemAddrMask)
		sizeMask := uint64(maskHi)<<32 | uint64(mask&barMemAddrMask)
		bar.Size = ^sizeMask + 1
		return bar, true, nil

	default:
		// Memory type 01 is reserved.
		return nil, false, fmt.Errorf("pci %s: bar%d reserved memory type %d: %w",
			a, index, memType, dev.ErrNotSupported)
	}
}

// probeBARs decodes all six BAR slots. A 64-bit BAR occupies two slots;
// the upper slot's entry stays nil and is never reinterpreted as an
// independent 32-bit BAR.
func probeBARs(cs *ConfigSpace, a Address) ([BARCount]*BAR, error) {
	var bars [BARCount]*BAR
	for i := 0; i < BARCount; i++ {
		bar, tookNext, err := probeBAR(cs, a, i)
		if err != nil {
			return bars, err
		}
		if bar == nil {
			continue
		}
		bars[i] = bar
		if tookNext {
			i++
		}
	}
	return bars, nil
}
