package win32

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/memerr"
	"github.com/tinyrange/memview/virtmem"
)

const (
	peOptionalHeaderOffsetFromCOFF = 4 + 20 // "PE\0\0" + IMAGE_FILE_HEADER
	peSizeOfImageOffset            = 56     // identical in PE32 and PE32+
	peDebugDirectoryIndex          = 6      // IMAGE_DIRECTORY_ENTRY_DEBUG
	imageDebugTypeCodeView         = 2
)

// peSizeOfImage reads SizeOfImage straight out of a DOS+COFF+optional
// header probe, the way memflow-win32's pehelper.rs peeks a page before
// deciding how much of the image is worth reading in full.
func peSizeOfImage(header []byte) (uint32, error) {
	if len(header) < 0x40 {
		return 0, fmt.Errorf("win32: pe header probe too short")
	}
	if binary.LittleEndian.Uint16(header[0:2]) != 0x5a4d {
		return 0, fmt.Errorf("win32: missing MZ signature")
	}
	elfanew := binary.LittleEndian.Uint32(header[0x3c:0x40])
	if elfanew == 0 || elfanew > 0x800 || int(elfanew)+peOptionalHeaderOffsetFromCOFF+peSizeOfImageOffset+4 > len(header) {
		return 0, fmt.Errorf("win32: implausible e_lfanew %#x", elfanew)
	}
	if !bytes.Equal(header[elfanew:elfanew+4], []byte("PE\x00\x00")) {
		return 0, fmt.Errorf("win32: missing PE signature")
	}

	optHeaderOff := elfanew + peOptionalHeaderOffsetFromCOFF
	magic := binary.LittleEndian.Uint16(header[optHeaderOff : optHeaderOff+2])
	if magic != 0x10b && magic != 0x20b {
		return 0, fmt.Errorf("win32: unrecognized optional header magic %#x", magic)
	}

	sizeOff := optHeaderOff + peSizeOfImageOffset
	size := binary.LittleEndian.Uint32(header[sizeOff : sizeOff+4])
	if size == 0 {
		return 0, fmt.Errorf("win32: pe size_of_image is zero")
	}
	return size, nil
}

// tryGetPEImage probes probeAddr for a plausible PE header and, if
// found, reads the full image SizeOfImage describes.
func tryGetPEImage(v virtmem.View, probeAddr address.Address) ([]byte, error) {
	probe := make([]byte, 4*address.KB)
	if err := v.VirtReadRawList([]virtmem.ReadRequest{{Addr: probeAddr, Buf: probe}}); err != nil {
		return nil, err
	}
	size, err := peSizeOfImage(probe)
	if err != nil {
		return nil, err
	}

	image := make([]byte, size)
	if err := v.VirtReadRawList([]virtmem.ReadRequest{{Addr: probeAddr, Buf: image}}); err != nil {
		return nil, err
	}
	return image, nil
}

// tryGetPEName reads probeAddr's export directory and returns the DLL
// name it advertises, so a kernel scan can confirm it found
// ntoskrnl.exe rather than some other mapped image.
func tryGetPEName(v virtmem.View, probeAddr address.Address) (string, error) {
	image, err := tryGetPEImage(v, probeAddr)
	if err != nil {
		return "", err
	}
	f, err := pe.NewFile(bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("win32: parse pe: %w", err)
	}
	defer f.Close()

	dir, err := exportDirectory(f, image)
	if err != nil {
		return "", err
	}
	return dir.name, nil
}

type exportDir struct {
	name string
}

// exportDirectory reads IMAGE_EXPORT_DIRECTORY.Name directly out of the
// captured virtual image: since image was read from virtual memory
// rather than from disk, RVAs are valid offsets into it directly, no
// section-table translation needed.
func exportDirectory(f *pe.File, image []byte) (*exportDir, error) {
	var exportRVA uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if len(oh.DataDirectory) < 1 {
			return nil, fmt.Errorf("win32: no data directories")
		}
		exportRVA = oh.DataDirectory[0].VirtualAddress
	case *pe.OptionalHeader64:
		if len(oh.DataDirectory) < 1 {
			return nil, fmt.Errorf("win32: no data directories")
		}
		exportRVA = oh.DataDirectory[0].VirtualAddress
	default:
		return nil, fmt.Errorf("win32: unsupported optional header type")
	}
	if exportRVA == 0 || int(exportRVA)+40 > len(image) {
		return nil, fmt.Errorf("win32: no export directory")
	}

	nameRVA := binary.LittleEndian.Uint32(image[exportRVA+12 : exportRVA+16])
	if int(nameRVA) >= len(image) {
		return nil, fmt.Errorf("win32: export directory name rva out of range")
	}
	end := bytes.IndexByte(image[nameRVA:], 0)
	if end < 0 {
		return nil, fmt.Errorf("win32: unterminated export directory name")
	}
	return &exportDir{name: string(image[nameRVA : nameRVA+uint32(end)])}, nil
}

// DebugGUID is the CodeView PDB identity (file name, GUID and age) a PE
// image's debug directory advertises, used to key into OffsetTable.
type DebugGUID struct {
	PDBFileName string
	GUID        string
	Age         uint32
}

// String renders the GUID+age as the hex identity Microsoft's symbol
// servers expect in a request path.
func (d DebugGUID) String() string {
	return fmt.Sprintf("%s%X", strings.ToUpper(d.GUID), d.Age)
}

// CodeViewGUID extracts the RSDS CodeView record from image's debug
// directory. image must have been captured from virtual memory (RVAs
// are direct offsets), as produced by tryGetPEImage.
func CodeViewGUID(image []byte) (*DebugGUID, error) {
	f, err := pe.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("win32: parse pe: %w", err)
	}
	defer f.Close()

	var dbgRVA, dbgSize uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if len(oh.DataDirectory) <= peDebugDirectoryIndex {
			return nil, fmt.Errorf("win32: no debug directory")
		}
		dbgRVA = oh.DataDirectory[peDebugDirectoryIndex].VirtualAddress
		dbgSize = oh.DataDirectory[peDebugDirectoryIndex].Size
	case *pe.OptionalHeader64:
		if len(oh.DataDirectory) <= peDebugDirectoryIndex {
			return nil, fmt.Errorf("win32: no debug directory")
		}
		dbgRVA = oh.DataDirectory[peDebugDirectoryIndex].VirtualAddress
		dbgSize = oh.DataDirectory[peDebugDirectoryIndex].Size
	default:
		return nil, fmt.Errorf("win32: unsupported optional header type")
	}
	if dbgRVA == 0 || int(dbgRVA)+int(dbgSize) > len(image) {
		return nil, fmt.Errorf("win32: no debug directory present")
	}

	const entrySize = 28
	for off := dbgRVA; off+entrySize <= dbgRVA+dbgSize; off += entrySize {
		entryType := binary.LittleEndian.Uint32(image[off+12 : off+16])
		if entryType != imageDebugTypeCodeView {
			continue
		}
		rawRVA := binary.LittleEndian.Uint32(image[off+20 : off+24])
		return parseCodeView(image, rawRVA)
	}
	return nil, fmt.Errorf("win32: no CodeView debug entry")
}

func parseCodeView(image []byte, rva uint32) (*DebugGUID, error) {
	if int(rva)+24 > len(image) {
		return nil, fmt.Errorf("win32: codeview record out of range")
	}
	if !bytes.Equal(image[rva:rva+4], []byte("RSDS")) {
		return nil, &memerr.InitializationError{Stage: "win32/codeview", Err: fmt.Errorf("not an RSDS record")}
	}
	guid := image[rva+4 : rva+20]
	age := binary.LittleEndian.Uint32(image[rva+20 : rva+24])

	nameStart := rva + 24
	end := bytes.IndexByte(image[nameStart:], 0)
	if end < 0 {
		return nil, fmt.Errorf("win32: unterminated pdb file name")
	}
	// The first three GUID fields are stored little-endian; print them as
	// numbers so the string matches the GUID's conventional textual form.
	guidStr := fmt.Sprintf("%08x%04x%04x%s",
		binary.LittleEndian.Uint32(guid[0:4]),
		binary.LittleEndian.Uint16(guid[4:6]),
		binary.LittleEndian.Uint16(guid[6:8]),
		hex.EncodeToString(guid[8:16]))
	return &DebugGUID{
		PDBFileName: string(image[nameStart : nameStart+uint32(end)]),
		GUID:        guidStr,
		Age:         age,
	}, nil
}
