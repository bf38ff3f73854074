//go:build linux || darwin

package physmem

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/memerr"
	"github.com/tinyrange/memview/memmap"
)

// Mmap is a PhysicalMemory backend over a host mmap region, used for
// shared guest RAM (QEMU's -mem-path, or a KVM guest's userspace memory
// slot). It memcpys directly between the mapped region and the caller's
// buffer instead of issuing syscalls per request, mirroring how
// internal/hv/kvm/kvm.go maps guest RAM with unix.Mmap and hands out a
// []byte view over it.
type Mmap struct {
	data     []byte
	m        *memmap.Map
	readonly bool
}

// NewMmapFile maps the file open as fd (from offset 0 through size bytes) and wraps it
// as a PhysicalMemory backend using m to translate addresses to offsets
// within the mapping.
func NewMmapFile(fd int, size int, m *memmap.Map, readonly bool) (*Mmap, error) {
	prot := unix.PROT_READ
	if !readonly {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(fd, 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("physmem: mmap: %w", err)
	}
	return &Mmap{data: data, m: m, readonly: readonly}, nil
}

// NewMmapBytes wraps an already-mapped (or anonymous) byte slice.
func NewMmapBytes(data []byte, m *memmap.Map, readonly bool) *Mmap {
	return &Mmap{data: data, m: m, readonly: readonly}
}

// Close unmaps the backing region. Only valid for mappings created with
// NewMmapFile.
func (m *Mmap) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

func (m *Mmap) Metadata() Metadata {
	max := address.Null
	var real uint64
	for _, e := range m.m.Entries() {
		if end := e.InBase.AddU(e.Length); end > max {
			max = end
		}
		real += e.Length
	}
	return Metadata{MaxAddress: max, RealSize: real, Readonly: m.readonly}
}

func (m *Mmap) PhysReadRawList(list []ReadRequest) error {
	for _, req := range list {
		if err := m.ioOne(req.Addr.Address, req.Buf, false); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mmap) PhysWriteRawList(list []WriteRequest) error {
	if m.readonly {
		return memerr.ErrReadOnly
	}
	for _, req := range list {
		if err := m.ioOne(req.Addr.Address, req.Buf, true); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mmap) ioOne(addr address.Address, buf []byte, write bool) error {
	items := []memmap.Item[memmap.ByteBuf]{{Addr: addr, Buf: memmap.ByteBuf(buf)}}

	var outErr error
	memmap.Iter(m.m, items,
		func(c memmap.OutputChunk, chunk memmap.ByteBuf) {
			if outErr != nil {
				return
			}
			off := uint64(c.Base)
			if off+uint64(len(chunk)) > uint64(len(m.data)) {
				outErr = &memerr.IOError{Kind: memerr.IOKindShort, Err: memerr.ErrShortIO}
				return
			}
			if write {
				copy(m.data[off:], chunk)
			} else {
				copy(chunk, m.data[off:off+uint64(len(chunk))])
			}
		},
		func(a address.Address, chunk memmap.ByteBuf) {
			if outErr == nil {
				outErr = fmt.Errorf("physmem: %w: %s", memerr.ErrNotMapped, a)
			}
		},
	)
	return outErr
}
