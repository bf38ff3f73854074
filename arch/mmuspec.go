// Package arch implements the architecture descriptor registry (spec
// §4.3, component D) and the data-driven, batched, level-synchronous MMU
// walker (component E) that every supported paging scheme shares.
package arch

import "github.com/tinyrange/memview/address"

// MMUSpec declaratively describes one paging scheme: the bit width of
// each index field in a virtual address (highest level first, ending in
// the intra-page offset), which levels may terminate early with a
// large/huge page, and the bit positions the walker consults on each
// page-table entry.
//
// PhysAddrBits is not named in the distilled field list but is required
// to mask a PTE's frame field correctly: AddressSpaceBits governs the
// virtual address width (sum of the splits), while the physical frame a
// present bit points at can be wider (52 bits on x86-64, 40 on PAE) or
// narrower (32 on plain x86) than the virtual space it is mapped from.
type MMUSpec struct {
	Name string

	// VirtualAddressSplits holds the bit width of each index field,
	// highest level first, with the last element being the intra-page
	// offset width. len(VirtualAddressSplits) - 1 is the number of
	// page-table levels the walker descends.
	VirtualAddressSplits []uint8

	// ValidFinalPageSteps has one entry per table level (len ==
	// len(VirtualAddressSplits)-1) reporting whether that level may hold
	// a terminal large-page entry. The last level is always implicitly
	// terminal regardless of this slice.
	ValidFinalPageSteps []bool

	AddressSpaceBits uint8
	PhysAddrBits     uint8
	AddrSize         int // bytes in a pointer-sized value for this architecture
	PteSize          int // bytes per page-table entry
	Endian           address.Endianess

	PresentBit   uint8
	WriteableBit uint8
	HasWriteable bool
	// InvertWriteable handles architectures (AArch64) whose bit reads
	// "read-only when set" rather than "writeable when set".
	InvertWriteable bool
	NXBit           int8 // -1 if the architecture has no NX bit
	LargePageBit    uint8
	// InvertLargePage handles AArch64's block/table descriptor bit, which
	// is 0 for a block (terminal large page) and 1 for a table pointer -
	// the opposite sense of x86's PS bit.
	InvertLargePage bool

	// CanonicalCheck requires the high bits of a virtual address to be a
	// sign extension of bit AddressSpaceBits-1, per spec §4.3's x86-64
	// edge case.
	CanonicalCheck bool
}

// PageSize returns the architecture's base page size in bytes.
func (s *MMUSpec) PageSize() uint64 {
	return uint64(1) << s.offsetBits()
}

func (s *MMUSpec) offsetBits() uint8 {
	return s.VirtualAddressSplits[len(s.VirtualAddressSplits)-1]
}

// NumLevels returns the number of page-table levels the walker descends.
func (s *MMUSpec) NumLevels() int {
	return len(s.VirtualAddressSplits) - 1
}

// Present reports whether pte's present bit is set.
func (s *MMUSpec) Present(pte uint64) bool {
	return pte&(uint64(1)<<s.PresentBit) != 0
}

// Writeable reports this entry's own writeable bit, ignoring inheritance.
// Architectures without a writeable bit (none in the registry today, but
// the field stays data-driven) are treated as always writeable.
func (s *MMUSpec) Writeable(pte uint64) bool {
	if !s.HasWriteable {
		return true
	}
	set := pte&(uint64(1)<<s.WriteableBit) != 0
	if s.InvertWriteable {
		return !set
	}
	return set
}

// NX reports this entry's own no-execute bit, ignoring inheritance.
func (s *MMUSpec) NX(pte uint64) bool {
	if s.NXBit < 0 {
		return false
	}
	return pte&(uint64(1)<<uint(s.NXBit)) != 0
}

// LargePage reports whether pte describes a terminal large/huge page at
// a non-final level.
func (s *MMUSpec) LargePage(pte uint64) bool {
	set := pte&(uint64(1)<<s.LargePageBit) != 0
	if s.InvertLargePage {
		return !set
	}
	return set
}

// sumSplitsFrom returns the sum of VirtualAddressSplits[start:].
func sumSplitsFrom(splits []uint8, start int) uint8 {
	var sum uint8
	for _, s := range splits[start:] {
		sum += s
	}
	return sum
}

// makeBitMask returns a mask with bits [low, high] (inclusive) set,
// mirroring the make_bit_mask helper flow-core/src/arch/x64.rs uses to
// pull a physical frame out of a page-table entry.
func makeBitMask(low, high uint8) uint64 {
	if high >= 63 {
		return ^uint64(0) << low
	}
	return ((uint64(1) << (high - low + 1)) - 1) << low
}

func isCanonical(addr address.Address, addressSpaceBits uint8) bool {
	v := int64(addr)
	shift := uint(64 - addressSpaceBits)
	return (v << shift) >> shift == v
}
