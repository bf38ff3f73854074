package physmem

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/memmap"
)

// Coredump header constants for a WinDbg full-memory dump, spec §6.
const (
	coredumpSignature = 0x45474150 // "PAGE"
	coredumpFullDump  = 1

	coredumpPageSize     = 0x1000
	coredumpMaxRuns      = 32
	coredumpHeaderSize32 = 0x1000
	coredumpHeaderSize64 = 0x2000
)

// CoredumpVariant selects the word size of the PhysicalMemoryDescriptor
// (number_of_pages is u32 on x86 dumps, u64 on x64 dumps).
type CoredumpVariant int

const (
	CoredumpX86 CoredumpVariant = iota
	CoredumpX64
)

// CoredumpRun is one contiguous run of physical pages in the dump.
type CoredumpRun struct {
	BasePage  uint64
	PageCount uint64
}

// CoredumpHeader holds the parsed PhysicalMemoryDescriptor.
type CoredumpHeader struct {
	Variant         CoredumpVariant
	NumberOfRuns    uint32
	NumberOfPages   uint64
	Runs            []CoredumpRun
	DataStartOffset int64
}

// ReadCoredumpHeader parses a WinDbg full-dump header from r, which must
// be positioned at the start of the file.
func ReadCoredumpHeader(r io.Reader, variant CoredumpVariant) (*CoredumpHeader, error) {
	var signature, dumpType uint32
	if err := binary.Read(r, binary.LittleEndian, &signature); err != nil {
		return nil, fmt.Errorf("physmem: read coredump signature: %w", err)
	}
	if signature != coredumpSignature {
		return nil, fmt.Errorf("physmem: invalid coredump signature %#x, want %#x", signature, coredumpSignature)
	}
	if err := binary.Read(r, binary.LittleEndian, &dumpType); err != nil {
		return nil, fmt.Errorf("physmem: read coredump dump type: %w", err)
	}
	if dumpType != coredumpFullDump {
		return nil, fmt.Errorf("physmem: unsupported coredump type %d, only full dumps are supported", dumpType)
	}

	h := &CoredumpHeader{Variant: variant}

	if err := binary.Read(r, binary.LittleEndian, &h.NumberOfRuns); err != nil {
		return nil, fmt.Errorf("physmem: read number_of_runs: %w", err)
	}
	if h.NumberOfRuns > coredumpMaxRuns {
		return nil, fmt.Errorf("physmem: number_of_runs %d exceeds maximum of %d", h.NumberOfRuns, coredumpMaxRuns)
	}

	if variant == CoredumpX64 {
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("physmem: read number_of_pages: %w", err)
		}
		h.NumberOfPages = n
		h.DataStartOffset = coredumpHeaderSize64
	} else {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("physmem: read number_of_pages: %w", err)
		}
		h.NumberOfPages = uint64(n)
		h.DataStartOffset = coredumpHeaderSize32
	}

	for i := uint32(0); i < coredumpMaxRuns; i++ {
		var run CoredumpRun
		if variant == CoredumpX64 {
			if err := binary.Read(r, binary.LittleEndian, &run.BasePage); err != nil {
				return nil, fmt.Errorf("physmem: read run %d base_page: %w", i, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &run.PageCount); err != nil {
				return nil, fmt.Errorf("physmem: read run %d page_count: %w", i, err)
			}
		} else {
			var base, count uint32
			if err := binary.Read(r, binary.LittleEndian, &base); err != nil {
				return nil, fmt.Errorf("physmem: read run %d base_page: %w", i, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
				return nil, fmt.Errorf("physmem: read run %d page_count: %w", i, err)
			}
			run.BasePage, run.PageCount = uint64(base), uint64(count)
		}
		if i < h.NumberOfRuns {
			h.Runs = append(h.Runs, run)
		}
	}

	return h, nil
}

// BuildMap constructs a memmap.Map that places each run's guest-physical
// pages contiguously in the file, starting right after the header.
func (h *CoredumpHeader) BuildMap() (*memmap.Map, error) {
	m := memmap.New()
	fileOffset := uint64(h.DataStartOffset)
	for _, run := range h.Runs {
		inBase := run.BasePage * coredumpPageSize
		length := run.PageCount * coredumpPageSize
		if err := m.PushRemap(address.Address(inBase), length, address.Address(fileOffset)); err != nil {
			return nil, fmt.Errorf("physmem: coredump run overlaps: %w", err)
		}
		fileOffset += length
	}
	return m, nil
}
