// Package win32 locates a running Windows kernel inside a physical
// memory image: the directory table base (StartBlock, spec §4.9), the
// ntoskrnl.exe image, and the EPROCESS list it roots, using the same
// signature scans MemProcFS and memflow-win32 use against x86, PAE and
// x86-64 guests.
package win32

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/arch"
	"github.com/tinyrange/memview/memerr"
	"github.com/tinyrange/memview/physmem"
)

// StartBlock is the directory table base and entry-point hint recovered
// from a processor start block or a raw page-table scan.
type StartBlock struct {
	Arch       arch.Name
	KernelHint address.Address
	DTB        address.Address
}

// FindX64Lowstub scans a low-1MB physical memory stub for the AP
// trampoline real-mode-to-long-mode start block x64 Windows leaves at
// boot, recovering both the kernel entry hint and the PML4 physical
// base. Grounded on memflow-win32's kernel/start_block/x64.rs
// find_lowstub, which walks the stub one page at a time looking for the
// trampoline's JMP opcode, the kernel's canonical high entry address,
// and a page-aligned, canonical PML4 pointer.
func FindX64Lowstub(stub []byte) (*StartBlock, error) {
	pageSize := 0x1000
	for base := pageSize; base+pageSize <= len(stub); base += pageSize {
		page := stub[base : base+pageSize]

		head := binary.LittleEndian.Uint64(page[0:8])
		if head&0xffff_ffff_ffff_00ff != 0x0000_0001_0006_00e9 {
			continue
		}

		kernelHint := binary.LittleEndian.Uint64(page[0x70 : 0x70+8])
		if kernelHint&0xffff_f800_0000_0003 != 0xffff_f800_0000_0000 {
			continue
		}

		dtb := binary.LittleEndian.Uint64(page[0xa0 : 0xa0+8])
		if dtb&0xffff_ff00_0000_0fff != 0 {
			continue
		}

		return &StartBlock{Arch: arch.X86_64, KernelHint: address.Address(kernelHint), DTB: address.Address(dtb)}, nil
	}
	return nil, &memerr.InitializationError{Stage: "startblock/x64/lowstub", Err: fmt.Errorf("no lowstub signature found in first 1MB")}
}

// findX64PageTable checks whether a single 4KB page at addr looks like a
// top-level x86-64 page table: entry 0 must be present, writeable, user
// and not a large page, and point somewhere below a 512GB ceiling; the
// second half of the page must contain one entry that maps the page
// itself (the way Windows kernel PML4s map themselves) and more than five
// entries whose low byte is 0x63.
func findX64PageTable(addr address.Address, page []byte) bool {
	const maxMem = 512 * address.GB
	pte := binary.LittleEndian.Uint64(page[0:8])
	if pte&0x0000_0000_0000_0087 != 0x7 || pte&0x0000_ffff_ffff_f000 > maxMem {
		return false
	}

	foundSelfRef := false
	kernelEntries := 0
	for off := 0x800; off+8 <= len(page); off += 8 {
		entry := binary.LittleEndian.Uint64(page[off : off+8])
		if (entry^0x0000_0000_0000_0063)&^(uint64(1)<<63) == addr.Uint64() {
			foundSelfRef = true
		}
		if entry&0xff == 0x63 {
			kernelEntries++
		}
	}
	return foundSelfRef && kernelEntries > 5
}

// FindX64Fallback scans up to 16MB of low physical memory for a raw PML4
// page table when the lowstub trampoline scan fails (a hibernated or
// otherwise-booted image without the AP trampoline intact).
func FindX64Fallback(mem []byte) (*StartBlock, error) {
	pageSize := 0x1000
	for base := 0; base+pageSize <= len(mem); base += pageSize {
		addr := address.Address(uint64(base))
		if findX64PageTable(addr, mem[base:base+pageSize]) {
			return &StartBlock{Arch: arch.X86_64, KernelHint: address.Null, DTB: addr}, nil
		}
	}
	return nil, &memerr.InitializationError{Stage: "startblock/x64/fallback", Err: fmt.Errorf("no x64 dtb found in low 16MB")}
}

// FindX86PAE scans for a top-level PAE PDPT: each of its four entries i
// must equal the page's own base + i*0x1000 + 0x1001, and every remaining
// qword in the page must be zero.
func FindX86PAE(mem []byte) (*StartBlock, error) {
	pageSize := 0x1000
	checkPage := func(base uint64, page []byte) bool {
		for i := 0; i+8 <= len(page); i += 8 {
			qword := binary.LittleEndian.Uint64(page[i : i+8])
			idx := uint64(i / 8)
			if idx < 4 {
				if qword != base+(idx*8<<9)+0x1001 {
					return false
				}
			} else if qword != 0 {
				return false
			}
		}
		return true
	}

	for base := 0; base+pageSize <= len(mem); base += pageSize {
		if checkPage(uint64(base), mem[base:base+pageSize]) {
			return &StartBlock{Arch: arch.X86PAE, KernelHint: address.Null, DTB: address.Address(uint64(base))}, nil
		}
	}
	return nil, &memerr.InitializationError{Stage: "startblock/x86pae", Err: fmt.Errorf("no x86_pae dtb found in low 16MB")}
}

// FindX86 scans for a top-level 32-bit page directory using the same
// self-reference heuristic as the x64 scan, adapted to 4-byte PDEs:
// entry 0's low byte must be 0x67, the PDE at offset 0xC00 must map the
// page itself (present and writeable), and more than 16 upper-half
// entries must have a 0x63 or 0xe3 low byte.
func FindX86(mem []byte) (*StartBlock, error) {
	pageSize := 0x1000
	for base := 0; base+pageSize <= len(mem); base += pageSize {
		page := mem[base : base+pageSize]
		if page[0] != 0x67 {
			continue
		}
		dword := binary.LittleEndian.Uint32(page[0xc00 : 0xc00+4])
		if dword&0xffff_f003 != uint32(base)+0x3 {
			continue
		}

		count := 0
		for i := 0x200 * 4; i+1 <= len(page); i += 4 {
			b := page[i]
			if b == 0x63 || b == 0xe3 {
				count++
			}
		}
		if count > 16 {
			return &StartBlock{Arch: arch.X86, KernelHint: address.Null, DTB: address.Address(uint64(base))}, nil
		}
	}
	return nil, &memerr.InitializationError{Stage: "startblock/x86", Err: fmt.Errorf("no x86 dtb found in low 16MB")}
}

// Find tries every registered scan against mem's first 16MB, preferring
// the x86-64 lowstub trampoline scan, then its raw page-table fallback,
// then PAE, then plain x86 - the same preference order
// memflow-win32's kernel::start_block::find uses.
func Find(mem physmem.PhysicalMemory) (*StartBlock, error) {
	low16m := make([]byte, 16*address.MB)
	if err := mem.PhysReadRawList([]physmem.ReadRequest{{Addr: address.FromAddress(address.Null), Buf: low16m}}); err != nil {
		return nil, fmt.Errorf("win32: read low 16MB: %w", err)
	}

	if sb, err := FindX64Lowstub(low16m[:1*address.MB]); err == nil {
		return sb, nil
	}
	if sb, err := FindX64Fallback(low16m); err == nil {
		return sb, nil
	}
	if sb, err := FindX86PAE(low16m); err == nil {
		return sb, nil
	}
	if sb, err := FindX86(low16m); err == nil {
		return sb, nil
	}
	return nil, &memerr.InitializationError{Stage: "startblock", Err: fmt.Errorf("unable to find a directory table base with any known scan")}
}
