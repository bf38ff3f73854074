package arch

import (
	"encoding/binary"
	"testing"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/memmap"
	"github.com/tinyrange/memview/physmem"
)

// fakeMem is a PhysicalMemory backed by whole pages keyed by their base
// address, enough to drive the walker without a real backend.
type fakeMem struct {
	pages map[address.Address][]byte
}

func newFakeMem() *fakeMem {
	return &fakeMem{pages: map[address.Address][]byte{}}
}

func (f *fakeMem) page(addr address.Address, size uint64) []byte {
	p, ok := f.pages[addr]
	if !ok {
		p = make([]byte, size)
		f.pages[addr] = p
	}
	return p
}

func (f *fakeMem) setPTE(frame address.Address, pageSize uint64, idx int, pteSize int, value uint64) {
	p := f.page(frame, pageSize)
	off := idx * pteSize
	if pteSize == 4 {
		binary.LittleEndian.PutUint32(p[off:], uint32(value))
	} else {
		binary.LittleEndian.PutUint64(p[off:], value)
	}
}

func (f *fakeMem) PhysReadRawList(list []physmem.ReadRequest) error {
	for _, req := range list {
		p, ok := f.pages[req.Addr.Address]
		if !ok {
			p = make([]byte, len(req.Buf))
		}
		copy(req.Buf, p)
	}
	return nil
}

func (f *fakeMem) PhysWriteRawList(list []physmem.WriteRequest) error {
	for _, req := range list {
		p := f.page(req.Addr.Address, uint64(len(req.Buf)))
		copy(p, req.Buf)
	}
	return nil
}

func (f *fakeMem) Metadata() physmem.Metadata {
	return physmem.Metadata{}
}

const (
	ptePresent   = 1 << 0
	pteWriteable = 1 << 1
	pteLarge     = 1 << 7
)

func TestWalkX86_64FourLevelSinglePage(t *testing.T) {
	spec := registry[X86_64].MMU
	mem := newFakeMem()
	dtb := address.Address(0x1000)

	mem.setPTE(dtb, spec.PageSize(), 0, 8, uint64(0x2000)|ptePresent|pteWriteable)
	mem.setPTE(address.Address(0x2000), spec.PageSize(), 0, 8, uint64(0x3000)|ptePresent|pteWriteable)
	mem.setPTE(address.Address(0x3000), spec.PageSize(), 0, 8, uint64(0x4000)|ptePresent|pteWriteable)
	mem.setPTE(address.Address(0x4000), spec.PageSize(), 0, 8, uint64(0x5000)|ptePresent|pteWriteable)

	items := []memmap.Item[memmap.ByteBuf]{{Addr: 0, Buf: make(memmap.ByteBuf, 16)}}
	successes, failures := Walk(mem, spec, dtb, items)

	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if len(successes) != 1 {
		t.Fatalf("got %d successes, want 1", len(successes))
	}
	if successes[0].Phys.Address != 0x5000 {
		t.Fatalf("phys addr = %s, want 0x5000", successes[0].Phys.Address)
	}
	if !successes[0].Phys.Page.Type.Is(address.PageWriteable) {
		t.Fatalf("expected writeable page")
	}
}

func TestWalkNotPresentFails(t *testing.T) {
	spec := registry[X86_64].MMU
	mem := newFakeMem()
	dtb := address.Address(0x1000)
	// PML4[0] left zeroed: not present.

	items := []memmap.Item[memmap.ByteBuf]{{Addr: 0, Buf: make(memmap.ByteBuf, 8)}}
	successes, failures := Walk(mem, spec, dtb, items)

	if len(successes) != 0 {
		t.Fatalf("unexpected successes: %+v", successes)
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
}

func TestWalkLargePage(t *testing.T) {
	spec := registry[X86_64].MMU
	mem := newFakeMem()
	dtb := address.Address(0x1000)

	mem.setPTE(dtb, spec.PageSize(), 0, 8, uint64(0x2000)|ptePresent|pteWriteable)
	mem.setPTE(address.Address(0x2000), spec.PageSize(), 0, 8, uint64(0x3000)|ptePresent|pteWriteable)
	// PD[0] is a 2MiB page directly, frame-aligned at 0x200000.
	mem.setPTE(address.Address(0x3000), spec.PageSize(), 0, 8, uint64(0x200000)|ptePresent|pteWriteable|pteLarge)

	virt := address.Address(0x1000) // offset within the 2MiB region
	items := []memmap.Item[memmap.ByteBuf]{{Addr: virt, Buf: make(memmap.ByteBuf, 4)}}
	successes, failures := Walk(mem, spec, dtb, items)

	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if len(successes) != 1 || successes[0].Phys.Address != 0x201000 {
		t.Fatalf("got %+v, want phys 0x201000", successes)
	}
	if successes[0].Phys.Page.Size != 2*address.MB {
		t.Fatalf("page size = %#x, want 2MiB", successes[0].Phys.Page.Size)
	}
}

func TestWalkCanonicalFailure(t *testing.T) {
	spec := registry[X86_64].MMU
	mem := newFakeMem()
	dtb := address.Address(0x1000)

	nonCanonical := address.Address(1) << 60
	items := []memmap.Item[memmap.ByteBuf]{{Addr: nonCanonical, Buf: make(memmap.ByteBuf, 8)}}
	_, failures := Walk(mem, spec, dtb, items)

	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
}

func TestWalkSplitsAcrossPageTableBoundary(t *testing.T) {
	spec := registry[X86_64].MMU
	mem := newFakeMem()
	dtb := address.Address(0x1000)

	mem.setPTE(dtb, spec.PageSize(), 0, 8, uint64(0x2000)|ptePresent|pteWriteable)
	mem.setPTE(address.Address(0x2000), spec.PageSize(), 0, 8, uint64(0x3000)|ptePresent|pteWriteable)
	mem.setPTE(address.Address(0x3000), spec.PageSize(), 0, 8, uint64(0x4000)|ptePresent|pteWriteable)
	// two adjacent leaf pages
	mem.setPTE(address.Address(0x4000), spec.PageSize(), 0, 8, uint64(0x5000)|ptePresent|pteWriteable)
	mem.setPTE(address.Address(0x4000), spec.PageSize(), 1, 8, uint64(0x6000)|ptePresent|pteWriteable)

	virt := address.Address(0xf00) // 0x100 bytes before the page boundary at 0x1000
	items := []memmap.Item[memmap.ByteBuf]{{Addr: virt, Buf: make(memmap.ByteBuf, 0x200)}}
	successes, failures := Walk(mem, spec, dtb, items)

	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if len(successes) != 2 {
		t.Fatalf("got %d successes, want 2", len(successes))
	}
	if successes[0].Phys.Address != 0x5f00 || successes[0].Buf.Len() != 0x100 {
		t.Fatalf("first chunk = %+v", successes[0])
	}
	if successes[1].Phys.Address != 0x6000 || successes[1].Buf.Len() != 0x100 {
		t.Fatalf("second chunk = %+v", successes[1])
	}
}
