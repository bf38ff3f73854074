package memmap

import "github.com/tinyrange/memview/address"

// Splittable is anything that can be cut into two contiguous pieces at a
// byte offset, the Go shape of the source's split_at/length contract used
// by TranslateData and every batched buffer in the core.
type Splittable[T any] interface {
	// SplitAt returns the first n bytes and the remainder. n must be in
	// [0, Len()].
	SplitAt(n int) (head, tail T)
	Len() int
}

// Item pairs an address with a splittable payload, the unit the MMU
// walker and the memory map iterate over.
type Item[T Splittable[T]] struct {
	Addr address.Address
	Buf  T
}

// OutputChunk is one successfully mapped region: backend bytes
// [Base, Base+Remaining) are available for this chunk's sub-payload,
// where Remaining is how much of the owning entry is left from Base.
type OutputChunk struct {
	Base      address.Address
	Remaining uint64
}

// Iter walks items against the map, splitting each payload at entry
// boundaries so every emitted chunk lies in exactly one entry. Addresses
// (or payload suffixes) not covered by any entry are routed to onFail.
// Zero-length payloads are silently discarded, matching spec §4.1.
func Iter[T Splittable[T]](m *Map, items []Item[T], onChunk func(OutputChunk, T), onFail func(address.Address, T)) {
	for _, it := range items {
		iterOne(m, it, onChunk, onFail)
	}
}

func iterOne[T Splittable[T]](m *Map, it Item[T], onChunk func(OutputChunk, T), onFail func(address.Address, T)) {
	addr := it.Addr
	buf := it.Buf

	for buf.Len() > 0 {
		entry, ok := m.Lookup(addr)
		if !ok {
			// Find how far the gap extends so we only fail the
			// unmapped prefix and keep splitting the rest.
			gapLen := gapLength(m, addr, buf.Len())
			head, tail := buf.SplitAt(gapLen)
			onFail(addr, head)
			if tail.Len() == 0 {
				return
			}
			addr = addr.AddU(uint64(gapLen))
			buf = tail
			continue
		}

		remaining := uint64(entry.inEnd()) - uint64(addr)
		chunkLen := buf.Len()
		if uint64(chunkLen) > remaining {
			chunkLen = int(remaining)
		}

		head, tail := buf.SplitAt(chunkLen)
		offset := uint64(addr) - uint64(entry.InBase)
		onChunk(OutputChunk{
			Base:      entry.OutBase.AddU(offset),
			Remaining: entry.Length - offset,
		}, head)

		if tail.Len() == 0 {
			return
		}
		addr = addr.AddU(uint64(chunkLen))
		buf = tail
	}
}

// gapLength returns how many bytes starting at addr, up to max, are not
// covered by any entry (i.e. up to the start of the next entry or max).
func gapLength(m *Map, addr address.Address, max int) int {
	entries := m.Entries()
	for _, e := range entries {
		if e.InBase > addr {
			gap := uint64(e.InBase - addr)
			if gap < uint64(max) {
				return int(gap)
			}
			return max
		}
	}
	return max
}

// ByteBuf is a Splittable adapter over a byte slice, used by
// physical-memory batches whose payload is the bytes to read into or
// write from.
type ByteBuf []byte

func (b ByteBuf) SplitAt(n int) (ByteBuf, ByteBuf) {
	return b[:n], b[n:]
}

func (b ByteBuf) Len() int { return len(b) }
