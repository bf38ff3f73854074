package win32

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/memerr"
	"github.com/tinyrange/memview/virtmem"
)

// KernelImage is the located ntoskrnl.exe image base and extent inside
// the target's virtual address space.
type KernelImage struct {
	Base        address.Address
	SizeOfImage uint32
}

const (
	kernelScanWindow = 256 * address.MB
	kernelScanChunk  = 8 * address.MB
	kernelScanBase   = 2 * address.GB
)

// FindNtoskrnl scans the first 256MB past the 2GB mark of kernel virtual
// memory in 8MB chunks, looking for ntoskrnl.exe's PE header. Grounded
// on memflow-win32's kernel/ntos/x86.rs find, which uses the same
// window because ntoskrnl always loads somewhere in the low few hundred
// megabytes of the kernel's half of the address space regardless of
// bitness.
func FindNtoskrnl(v virtmem.View) (*KernelImage, error) {
	for chunkBase := uint64(0); chunkBase < kernelScanWindow; chunkBase += kernelScanChunk {
		base := address.Address(kernelScanBase + chunkBase)
		buf := make([]byte, kernelScanChunk)
		if err := v.VirtReadRawList([]virtmem.ReadRequest{{Addr: base, Buf: buf}}); err != nil {
			continue
		}

		for off := uint64(0); off+0x40 <= kernelScanChunk; off += 0x1000 {
			page := buf[off:]
			if binary.LittleEndian.Uint16(page[0:2]) != 0x5a4d {
				continue
			}
			elfanew := binary.LittleEndian.Uint32(page[0x3c:0x40])
			if elfanew == 0 || elfanew > 0x800 {
				continue
			}

			candidate := base.AddU(off)
			name, err := tryGetPEName(v, candidate)
			if err != nil || name != "ntoskrnl.exe" {
				continue
			}
			image, err := tryGetPEImage(v, candidate)
			if err != nil {
				continue
			}
			size, err := peSizeOfImage(image)
			if err != nil {
				continue
			}
			return &KernelImage{Base: candidate, SizeOfImage: size}, nil
		}
	}
	return nil, &memerr.InitializationError{Stage: "win32/ntoskrnl", Err: fmt.Errorf("unable to locate ntoskrnl.exe in high memory")}
}

// FindSystemEPROCESS resolves the PsInitialSystemProcess export to
// recover the System process's EPROCESS pointer, the root of the
// doubly-linked active process list. Grounded on flow-win32's
// kernel/sysproc.rs find_exported.
func FindSystemEPROCESS(v virtmem.View, kernel KernelImage) (address.Address, error) {
	image, err := tryGetPEImage(v, kernel.Base)
	if err != nil {
		return address.Invalid, err
	}
	rva, err := findExportRVA(image, "PsInitialSystemProcess")
	if err != nil {
		return address.Invalid, err
	}
	return virtmem.VirtReadAddr64(v, kernel.Base.AddU(uint64(rva)))
}

func findExportRVA(image []byte, symbol string) (uint32, error) {
	f, err := pe.NewFile(bytes.NewReader(image))
	if err != nil {
		return 0, fmt.Errorf("win32: parse pe: %w", err)
	}
	defer f.Close()

	var exportRVA, exportSize uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		exportRVA, exportSize = oh.DataDirectory[0].VirtualAddress, oh.DataDirectory[0].Size
	case *pe.OptionalHeader64:
		exportRVA, exportSize = oh.DataDirectory[0].VirtualAddress, oh.DataDirectory[0].Size
	}
	if exportRVA == 0 || int(exportRVA)+int(exportSize) > len(image) {
		return 0, fmt.Errorf("win32: no export directory")
	}

	numNames := binary.LittleEndian.Uint32(image[exportRVA+24 : exportRVA+28])
	addrOfFunctions := binary.LittleEndian.Uint32(image[exportRVA+28 : exportRVA+32])
	addrOfNames := binary.LittleEndian.Uint32(image[exportRVA+32 : exportRVA+36])
	addrOfOrdinals := binary.LittleEndian.Uint32(image[exportRVA+36 : exportRVA+40])

	for i := uint32(0); i < numNames; i++ {
		nameRVA := binary.LittleEndian.Uint32(image[addrOfNames+i*4 : addrOfNames+i*4+4])
		end := bytes.IndexByte(image[nameRVA:], 0)
		if end < 0 {
			continue
		}
		if string(image[nameRVA:nameRVA+uint32(end)]) != symbol {
			continue
		}
		ordinal := binary.LittleEndian.Uint16(image[addrOfOrdinals+i*2 : addrOfOrdinals+i*2+2])
		funcRVA := binary.LittleEndian.Uint32(image[addrOfFunctions+uint32(ordinal)*4 : addrOfFunctions+uint32(ordinal)*4+4])
		return funcRVA, nil
	}
	return 0, fmt.Errorf("win32: export %q not found", symbol)
}
