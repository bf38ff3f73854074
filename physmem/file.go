package physmem

import (
	"fmt"
	"io"
	"os"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/memerr"
	"github.com/tinyrange/memview/memmap"
)

// File is a PhysicalMemory backend over a seekable file-like handle (a
// raw disk image, a coredump's payload region, a QEMU shared-memory
// file). Each request is translated through a memmap.Map into a backend
// offset, then seeked and read/written directly, mirroring the
// straight-line seek/read loop in internal/hv/kvm/snapshot_io.go.
type File struct {
	rw       io.ReadWriteSeeker
	closer   io.Closer
	m        *memmap.Map
	readonly bool
	realSize uint64
}

// NewFile wraps rw as a PhysicalMemory backend using m to translate
// guest-physical addresses to offsets within rw.
func NewFile(rw io.ReadWriteSeeker, m *memmap.Map, readonly bool) *File {
	var realSize uint64
	for _, e := range m.Entries() {
		realSize += e.Length
	}
	return &File{rw: rw, m: m, readonly: readonly, realSize: realSize}
}

// OpenFile opens path and wraps it as a File backend. The caller owns m.
func OpenFile(path string, m *memmap.Map, readonly bool) (*File, error) {
	flag := os.O_RDWR
	if readonly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("physmem: open %s: %w", path, err)
	}
	file := NewFile(f, m, readonly)
	file.closer = f
	return file, nil
}

// Close closes the underlying file, if File opened it.
func (f *File) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

func (f *File) Metadata() Metadata {
	max := address.Null
	for _, e := range f.m.Entries() {
		if end := e.InBase.AddU(e.Length); end > max {
			max = end
		}
	}
	return Metadata{MaxAddress: max, RealSize: f.realSize, Readonly: f.readonly}
}

func (f *File) PhysReadRawList(list []ReadRequest) error {
	for _, req := range list {
		if err := f.ioOne(req.Addr.Address, req.Buf, false); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) PhysWriteRawList(list []WriteRequest) error {
	if f.readonly {
		return memerr.ErrReadOnly
	}
	for _, req := range list {
		if err := f.ioOne(req.Addr.Address, req.Buf, true); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) ioOne(addr address.Address, buf []byte, write bool) error {
	items := []memmap.Item[memmap.ByteBuf]{{Addr: addr, Buf: memmap.ByteBuf(buf)}}

	var outErr error
	memmap.Iter(f.m, items,
		func(c memmap.OutputChunk, chunk memmap.ByteBuf) {
			if outErr != nil {
				return
			}
			if _, err := f.rw.Seek(int64(c.Base), io.SeekStart); err != nil {
				outErr = &memerr.IOError{Kind: memerr.IOKindSeek, Err: err}
				return
			}
			if write {
				if _, err := f.rw.Write(chunk); err != nil {
					outErr = &memerr.IOError{Kind: memerr.IOKindWrite, Err: err}
				}
			} else {
				if _, err := io.ReadFull(f.rw, chunk); err != nil {
					outErr = &memerr.IOError{Kind: memerr.IOKindRead, Err: err}
				}
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
