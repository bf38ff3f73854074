// Package virtmem composes a physical memory backend with a translator
// into a scatter virtual-memory view (spec §4.4, component G).
package virtmem

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/arch"
	"github.com/tinyrange/memview/memerr"
	"github.com/tinyrange/memview/memmap"
	"github.com/tinyrange/memview/physmem"
	"github.com/tinyrange/memview/translate"
)

// ReadRequest names one virtual-address range to read into Buf.
type ReadRequest struct {
	Addr address.Address
	Buf  []byte
}

// WriteRequest names one virtual-address range to overwrite from Buf.
type WriteRequest struct {
	Addr address.Address
	Buf  []byte
}

// View is a translated virtual-memory handle over one process (or the
// kernel) address space: a physical memory backend plus the translator
// that resolves this view's addresses against it.
type View struct {
	Mem        physmem.PhysicalMemory
	Translator translate.Translator
}

// New binds mem and tr into a View.
func New(mem physmem.PhysicalMemory, tr translate.Translator) View {
	return View{Mem: mem, Translator: tr}
}

// VirtReadRawList resolves every request's virtual range and reads the
// backing physical pages in a single follow-up physical batch: the walk
// itself is one pass over the page tables, and the data movement for
// every successfully translated chunk is issued together. The walk may
// itself issue one physical read per distinct page-table frame at each
// level, so "one pass" is not a single physical I/O call. If any range
// fails to translate, the translated chunks are still read and the first
// failure is returned as an error.
func (v View) VirtReadRawList(list []ReadRequest) error {
	items := make([]memmap.Item[memmap.ByteBuf], len(list))
	for i, r := range list {
		items[i] = memmap.Item[memmap.ByteBuf]{Addr: r.Addr, Buf: memmap.ByteBuf(r.Buf)}
	}

	successes, failures := v.Translator.VirtToPhysIter(v.Mem, items)

	reads := make([]physmem.ReadRequest, len(successes))
	for i, s := range successes {
		reads[i] = physmem.ReadRequest{Addr: s.Phys, Buf: []byte(s.Buf)}
	}
	if err := v.Mem.PhysReadRawList(reads); err != nil {
		return err
	}
	if len(failures) != 0 {
		return translationError(failures[0])
	}
	return nil
}

// VirtWriteRawList is the write-side counterpart of VirtReadRawList.
func (v View) VirtWriteRawList(list []WriteRequest) error {
	items := make([]memmap.Item[memmap.ByteBuf], len(list))
	for i, r := range list {
		items[i] = memmap.Item[memmap.ByteBuf]{Addr: r.Addr, Buf: memmap.ByteBuf(r.Buf)}
	}

	successes, failures := v.Translator.VirtToPhysIter(v.Mem, items)

	writes := make([]physmem.WriteRequest, len(successes))
	for i, s := range successes {
		writes[i] = physmem.WriteRequest{Addr: s.Phys, Buf: []byte(s.Buf)}
	}
	if err := v.Mem.PhysWriteRawList(writes); err != nil {
		return err
	}
	if len(failures) != 0 {
		return translationError(failures[0])
	}
	return nil
}

func translationError(f arch.WalkFailure[memmap.ByteBuf]) error {
	return fmt.Errorf("virtmem: %w: %s", memerr.ErrNotMapped, f.Virt)
}

// VirtRead reads sizeof(T) bytes at addr into a new T via binary.Read
// semantics, matching the little-endian layout every registered
// architecture uses.
func VirtRead[T any](v View, addr address.Address) (T, error) {
	var out T
	size := binary.Size(out)
	if size <= 0 {
		return out, fmt.Errorf("virtmem: type is not of fixed size")
	}
	buf := make([]byte, size)
	if err := v.VirtReadRawList([]ReadRequest{{Addr: addr, Buf: buf}}); err != nil {
		return out, err
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &out); err != nil {
		return out, fmt.Errorf("virtmem: decode: %w", err)
	}
	return out, nil
}

// VirtReadAddr32 reads a 32-bit pointer value stored at addr and widens
// it to an Address, for walking 32-bit guest data structures.
func VirtReadAddr32(v View, addr address.Address) (address.Address, error) {
	var raw uint32
	buf := make([]byte, 4)
	if err := v.VirtReadRawList([]ReadRequest{{Addr: addr, Buf: buf}}); err != nil {
		return address.Invalid, err
	}
	raw = binary.LittleEndian.Uint32(buf)
	return address.Address(raw), nil
}

// VirtReadAddr64 reads a 64-bit pointer value stored at addr.
func VirtReadAddr64(v View, addr address.Address) (address.Address, error) {
	buf := make([]byte, 8)
	if err := v.VirtReadRawList([]ReadRequest{{Addr: addr, Buf: buf}}); err != nil {
		return address.Invalid, err
	}
	return address.Address(binary.LittleEndian.Uint64(buf)), nil
}

// VirtPageInfo reports the page backing addr, without transferring data.
func (v View) VirtPageInfo(addr address.Address) (address.Page, error) {
	phys, err := v.Translator.VirtToPhys(v.Mem, addr)
	if err != nil {
		return address.InvalidPage, err
	}
	return phys.Page, nil
}

// VirtTranslation is an alias for VirtPageInfo's physical-address form,
// returning the full PhysicalAddress rather than just its Page.
func (v View) VirtTranslation(addr address.Address) (address.PhysicalAddress, error) {
	return v.Translator.VirtToPhys(v.Mem, addr)
}
