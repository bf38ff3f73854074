// Package translate wraps a per-architecture page-table walk behind a
// small (mmu_spec, dtb) handle, mirroring how a connector binds one
// address space's translator once and reuses it for every subsequent
// read.
package translate

import (
	"fmt"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/arch"
	"github.com/tinyrange/memview/memmap"
	"github.com/tinyrange/memview/physmem"
)

// Translator resolves virtual addresses for one process (or the kernel)
// address space, identified by its directory table base, against one
// architecture's paging scheme.
type Translator struct {
	Arch arch.Architecture
	DTB  address.Address
}

// New binds a, dtb into a reusable Translator.
func New(a arch.Architecture, dtb address.Address) Translator {
	return Translator{Arch: a, DTB: dtb}
}

// VirtToPhysIter batches a page-table walk across every item, splitting
// and regrouping memory reads the way arch.Walk does.
func (t Translator) VirtToPhysIter(mem physmem.PhysicalMemory, items []memmap.Item[memmap.ByteBuf]) ([]arch.WalkSuccess[memmap.ByteBuf], []arch.WalkFailure[memmap.ByteBuf]) {
	return arch.Walk(mem, t.Arch.MMU, t.DTB, items)
}

// VirtToPhys resolves a single virtual address to its physical address
// and containing page, without touching any of the page's data.
func (t Translator) VirtToPhys(mem physmem.PhysicalMemory, addr address.Address) (address.PhysicalAddress, error) {
	items := []memmap.Item[memmap.ByteBuf]{{Addr: addr, Buf: make(memmap.ByteBuf, 1)}}
	successes, failures := t.VirtToPhysIter(mem, items)
	if len(failures) != 0 {
		return address.InvalidPhysicalAddress, fmt.Errorf("translate: %w", failures[0].Err)
	}
	return successes[0].Phys, nil
}
