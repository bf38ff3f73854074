package arch

import "github.com/tinyrange/memview/address"

// Name identifies one of the registered architectures.
type Name string

const (
	X86        Name = "x86"
	X86PAE     Name = "x86_pae"
	X86_64     Name = "x86_64"
	AArch64_4K Name = "aarch64_4k"
	AArch64_16K Name = "aarch64_16k"
)

// Architecture bundles the fixed facts a translator and cache need about
// a target: word size, endianess, base page size, and its MMUSpec.
type Architecture struct {
	Name     Name
	Bits     int
	Endian   address.Endianess
	PageSize uint64
	PtrSize  int
	MMU      *MMUSpec
}

var registry = map[Name]Architecture{
	X86: {
		Name: X86, Bits: 32, Endian: address.LittleEndian, PageSize: 4 * address.KB, PtrSize: 4,
		MMU: &MMUSpec{
			Name:                 string(X86),
			VirtualAddressSplits: []uint8{10, 10, 12},
			ValidFinalPageSteps:  []bool{true, false},
			AddressSpaceBits:     32,
			PhysAddrBits:         32,
			AddrSize:             4,
			PteSize:              4,
			Endian:               address.LittleEndian,
			PresentBit:           0,
			WriteableBit:         1,
			HasWriteable:         true,
			NXBit:                -1,
			LargePageBit:         7,
			CanonicalCheck:       false,
		},
	},
	X86PAE: {
		Name: X86PAE, Bits: 32, Endian: address.LittleEndian, PageSize: 4 * address.KB, PtrSize: 4,
		MMU: &MMUSpec{
			Name:                 string(X86PAE),
			VirtualAddressSplits: []uint8{2, 9, 9, 12},
			ValidFinalPageSteps:  []bool{false, true, false},
			AddressSpaceBits:     32,
			PhysAddrBits:         40,
			AddrSize:             4,
			PteSize:              8,
			Endian:               address.LittleEndian,
			PresentBit:           0,
			WriteableBit:         1,
			HasWriteable:         true,
			NXBit:                63,
			LargePageBit:         7,
			CanonicalCheck:       false,
		},
	},
	X86_64: {
		Name: X86_64, Bits: 64, Endian: address.LittleEndian, PageSize: 4 * address.KB, PtrSize: 8,
		MMU: &MMUSpec{
			Name:                 string(X86_64),
			VirtualAddressSplits: []uint8{9, 9, 9, 9, 12},
			ValidFinalPageSteps:  []bool{false, true, true, false},
			AddressSpaceBits:     48,
			PhysAddrBits:         52,
			AddrSize:             8,
			PteSize:              8,
			Endian:               address.LittleEndian,
			PresentBit:           0,
			WriteableBit:         1,
			HasWriteable:         true,
			NXBit:                63,
			LargePageBit:         7,
			CanonicalCheck:       true,
		},
	},
	AArch64_4K: {
		Name: AArch64_4K, Bits: 64, Endian: address.LittleEndian, PageSize: 4 * address.KB, PtrSize: 8,
		MMU: &MMUSpec{
			Name:                 string(AArch64_4K),
			VirtualAddressSplits: []uint8{9, 9, 9, 9, 12},
			ValidFinalPageSteps:  []bool{false, true, true, false},
			AddressSpaceBits:     48,
			PhysAddrBits:         48,
			AddrSize:             8,
			PteSize:              8,
			Endian:               address.LittleEndian,
			PresentBit:           0,
			WriteableBit:         7, // AP[2], read-only when set
			HasWriteable:         true,
			InvertWriteable:      true,
			NXBit:                54, // UXN
			LargePageBit:         1,  // descriptor type: 0 = block, 1 = table
			InvertLargePage:      true,
			CanonicalCheck:       true,
		},
	},
	AArch64_16K: {
		Name: AArch64_16K, Bits: 64, Endian: address.LittleEndian, PageSize: 16 * address.KB, PtrSize: 8,
		MMU: &MMUSpec{
			Name:                 string(AArch64_16K),
			VirtualAddressSplits: []uint8{1, 11, 11, 11, 14},
			ValidFinalPageSteps:  []bool{false, true, true, false},
			AddressSpaceBits:     48,
			PhysAddrBits:         48,
			AddrSize:             8,
			PteSize:              8,
			Endian:               address.LittleEndian,
			PresentBit:           0,
			WriteableBit:         7,
			HasWriteable:         true,
			InvertWriteable:      true,
			NXBit:                54,
			LargePageBit:         1,
			InvertLargePage:      true,
			CanonicalCheck:       true,
		},
	},
}

// Get looks up a registered architecture by name.
func Get(name Name) (Architecture, bool) {
	a, ok := registry[name]
	return a, ok
}

// All returns every registered architecture, for callers (tests, probing
// code) that want to range over the full set.
func All() []Architecture {
	out := make([]Architecture, 0, len(registry))
	for _, a := range registry {
		out = append(out, a)
	}
	return out
}
