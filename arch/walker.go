package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/memerr"
	"github.com/tinyrange/memview/memmap"
	"github.com/tinyrange/memview/physmem"
)

// WalkSuccess is one fully translated chunk of a Walk input item: Buf has
// already been trimmed to whatever fits in Phys.Page.
type WalkSuccess[T memmap.Splittable[T]] struct {
	Phys address.PhysicalAddress
	Buf  T
}

// WalkFailure is the portion of an input item that could not be
// translated, together with the reason.
type WalkFailure[T memmap.Splittable[T]] struct {
	Err  error
	Virt address.Address
	Buf  T
}

type tracked[T memmap.Splittable[T]] struct {
	virt      address.Address
	buf       T
	writeable bool
	nx        bool
}

// Walk translates every item's virtual address range to physical
// addresses through the page tables rooted at dtb, batching page-table
// reads so that every item sharing a page-table page at a given level is
// resolved from a single physical read of that page (spec §4.3). It
// never recurses: the outer loop runs exactly NumLevels times, so
// self-referential or malformed page tables cannot cause unbounded work.
func Walk[T memmap.Splittable[T]](mem physmem.PhysicalMemory, spec *MMUSpec, dtb address.Address, items []memmap.Item[T]) (successes []WalkSuccess[T], failures []WalkFailure[T]) {
	splits := spec.VirtualAddressSplits
	numLevels := spec.NumLevels()
	offsetBits := spec.offsetBits()

	frames := map[address.Address][]*tracked[T]{}
	for _, it := range items {
		if spec.CanonicalCheck && !isCanonical(it.Addr, spec.AddressSpaceBits) {
			failures = append(failures, WalkFailure[T]{
				Err:  &memerr.PageTableError{Level: 0, Reason: memerr.ReasonCanonical, Addr: it.Addr},
				Virt: it.Addr,
				Buf:  it.Buf,
			})
			continue
		}
		frames[dtb] = append(frames[dtb], &tracked[T]{virt: it.Addr, buf: it.Buf, writeable: true, nx: false})
	}

	for level := 0; level < numLevels; level++ {
		nextFrames := map[address.Address][]*tracked[T]{}

		for frame, queue := range frames {
			page := make([]byte, spec.PageSize())
			if err := mem.PhysReadRawList([]physmem.ReadRequest{{Addr: address.FromAddress(frame), Buf: page}}); err != nil {
				for _, w := range queue {
					failures = append(failures, WalkFailure[T]{
						Err:  fmt.Errorf("arch: read page table frame %s: %w", frame, err),
						Virt: w.virt,
						Buf:  w.buf,
					})
				}
				continue
			}

			// queue can grow in place: a split remainder is appended and
			// processed within this same frame's loop, since it shares
			// the page we just read (it lands on a sibling entry).
			for i := 0; i < len(queue); i++ {
				w := queue[i]

				regionBits := sumSplitsFrom(splits, level+1)
				regionSize := uint64(1) << regionBits
				regionBase := w.virt.AlignDown(regionSize)
				offsetInRegion := w.virt.Uint64() - regionBase.Uint64()
				remainInRegion := regionSize - offsetInRegion
				if uint64(w.buf.Len()) > remainInRegion {
					head, tail := w.buf.SplitAt(int(remainInRegion))
					w.buf = head
					queue = append(queue, &tracked[T]{
						virt:      w.virt.AddU(remainInRegion),
						buf:       tail,
						writeable: w.writeable,
						nx:        w.nx,
					})
				}

				idx := tableIndex(w.virt, splits, level)
				off := uint64(idx) * uint64(spec.PteSize)
				pte := readPTE(page, off, spec)

				if !spec.Present(pte) {
					failures = append(failures, WalkFailure[T]{
						Err:  &memerr.PageTableError{Level: level, Reason: memerr.ReasonNotPresent, Addr: w.virt},
						Virt: w.virt,
						Buf:  w.buf,
					})
					continue
				}

				writeable := w.writeable && spec.Writeable(pte)
				nx := w.nx || spec.NX(pte)

				isFinal := level == numLevels-1
				isLarge := !isFinal && spec.ValidFinalPageSteps[level] && spec.LargePage(pte)

				if isFinal || isLarge {
					frameMask := makeBitMask(uint8(regionBits), spec.PhysAddrBits-1)
					frameBase := address.Address(pte & frameMask)
					physAddr := frameBase.AddU(w.virt.Uint64() & (regionSize - 1))

					pType := address.PageNone.WithWritable(writeable).WithNoExec(nx)
					pg := address.Page{Type: pType, Base: frameBase, Size: regionSize}
					successes = append(successes, WalkSuccess[T]{
						Phys: address.PhysicalAddress{Address: physAddr, Page: pg},
						Buf:  w.buf,
					})
					continue
				}

				nextFrame := address.Address(pte & makeBitMask(offsetBits, spec.PhysAddrBits-1))
				nextFrames[nextFrame] = append(nextFrames[nextFrame], &tracked[T]{
					virt: w.virt, buf: w.buf, writeable: writeable, nx: nx,
				})
			}
		}

		frames = nextFrames
	}

	return successes, failures
}

func tableIndex(virt address.Address, splits []uint8, level int) uint64 {
	shift := sumSplitsFrom(splits, level+1)
	mask := (uint64(1) << splits[level]) - 1
	return (virt.Uint64() >> shift) & mask
}

func readPTE(page []byte, off uint64, spec *MMUSpec) uint64 {
	b := page[off : off+uint64(spec.PteSize)]
	switch spec.PteSize {
	case 4:
		if spec.Endian == address.BigEndian {
			return uint64(binary.BigEndian.Uint32(b))
		}
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		if spec.Endian == address.BigEndian {
			return binary.BigEndian.Uint64(b)
		}
		return binary.LittleEndian.Uint64(b)
	}
}
