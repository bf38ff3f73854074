// Package physmem implements the physical-memory boundary of spec §4.2:
// a single interface over heterogeneous backends (file-backed, mmap, or
// opaque), batched scatter read/write, and the gap-aware memory map that
// routes each request to its backend offset.
package physmem

import (
	"github.com/tinyrange/memview/address"
)

// ReadRequest pairs a physical address with the buffer to fill.
type ReadRequest struct {
	Addr address.PhysicalAddress
	Buf  []byte
}

// WriteRequest pairs a physical address with the bytes to write.
type WriteRequest struct {
	Addr address.PhysicalAddress
	Buf  []byte
}

// Metadata describes the static properties of a physical-memory backend.
type Metadata struct {
	MaxAddress address.Address
	RealSize   uint64
	Readonly   bool
}

// PhysicalMemory is the capability every connector backend (file, mmap,
// network bridge) must satisfy. Implementations must fill every requested
// byte on success; overlapping physical addresses across requests are
// permitted, but a caller must never pass two requests whose buffers
// alias the same memory (the type system here does not prevent it, so
// callers are responsible, matching spec §4.2's contract note).
type PhysicalMemory interface {
	PhysReadRawList(list []ReadRequest) error
	PhysWriteRawList(list []WriteRequest) error
	Metadata() Metadata
}
