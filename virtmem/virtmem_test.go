package virtmem

import (
	"encoding/binary"
	"testing"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/arch"
	"github.com/tinyrange/memview/physmem"
	"github.com/tinyrange/memview/translate"
)

type fakeMem struct {
	pages map[address.Address][]byte
}

func newFakeMem() *fakeMem { return &fakeMem{pages: map[address.Address][]byte{}} }

func (f *fakeMem) page(addr address.Address, size uint64) []byte {
	p, ok := f.pages[addr]
	if !ok {
		p = make([]byte, size)
		f.pages[addr] = p
	}
	return p
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

func (f *fakeMem) Metadata() physmem.Metadata { return physmem.Metadata{} }

func mapVirtPageZero(t *testing.T, mem *fakeMem, a arch.Architecture, dtb address.Address, dataFrame address.Address) {
	t.Helper()
	set := func(frame address.Address, idx int, value uint64) {
		p := mem.page(frame, a.MMU.PageSize())
		binary.LittleEndian.PutUint64(p[idx*8:], value)
	}
	set(dtb, 0, uint64(0x2000)|1|2)
	set(0x2000, 0, uint64(0x3000)|1|2)
	set(0x3000, 0, uint64(0x4000)|1|2)
	set(0x4000, 0, uint64(dataFrame)|1|2)
}

func TestViewVirtReadRawList(t *testing.T) {
	a, _ := arch.Get(arch.X86_64)
	mem := newFakeMem()
	dtb := address.Address(0x1000)
	mapVirtPageZero(t, mem, a, dtb, 0x5000)

	data := mem.page(0x5000, a.MMU.PageSize())
	copy(data, []byte{0xde, 0xad, 0xbe, 0xef})

	v := New(mem, translate.New(a, dtb))
	buf := make([]byte, 4)
	if err := v.VirtReadRawList([]ReadRequest{{Addr: 0, Buf: buf}}); err != nil {
		t.Fatalf("VirtReadRawList: %v", err)
	}
	if buf[0] != 0xde || buf[3] != 0xef {
		t.Fatalf("buf = %x", buf)
	}
}

func TestViewVirtReadTyped(t *testing.T) {
	a, _ := arch.Get(arch.X86_64)
	mem := newFakeMem()
	dtb := address.Address(0x1000)
	mapVirtPageZero(t, mem, a, dtb, 0x5000)

	data := mem.page(0x5000, a.MMU.PageSize())
	binary.LittleEndian.PutUint32(data, 0xcafef00d)

	v := New(mem, translate.New(a, dtb))
	got, err := VirtRead[uint32](v, 0)
	if err != nil {
		t.Fatalf("VirtRead: %v", err)
	}
	if got != 0xcafef00d {
		t.Fatalf("got %#x, want 0xcafef00d", got)
	}
}

func TestViewVirtReadUnmapped(t *testing.T) {
	a, _ := arch.Get(arch.X86_64)
	mem := newFakeMem()
	v := New(mem, translate.New(a, 0x1000))

	buf := make([]byte, 4)
	if err := v.VirtReadRawList([]ReadRequest{{Addr: 0x1234, Buf: buf}}); err == nil {
		t.Fatalf("expected error for unmapped virtual address")
	}
}

func TestViewVirtWriteRoundTrip(t *testing.T) {
	a, _ := arch.Get(arch.X86_64)
	mem := newFakeMem()
	dtb := address.Address(0x1000)
	mapVirtPageZero(t, mem, a, dtb, 0x5000)

	v := New(mem, translate.New(a, dtb))
	want := []byte{1, 2, 3, 4}
	if err := v.VirtWriteRawList([]WriteRequest{{Addr: 0x10, Buf: want}}); err != nil {
		t.Fatalf("VirtWriteRawList: %v", err)
	}

	got := make([]byte, 4)
	if err := v.VirtReadRawList([]ReadRequest{{Addr: 0x10, Buf: got}}); err != nil {
		t.Fatalf("VirtReadRawList: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %x, want %x", got, want)
		}
	}
}
