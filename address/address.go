// Package address defines the primitive address and page types shared by
// every layer of the memory-introspection core: guest virtual/physical
// addresses, the page descriptors attached to a physical translation, and
// the byte-size helpers used throughout the walker and caches.
package address

import "fmt"

// Address is a 64-bit guest virtual or physical byte address.
type Address uint64

// Null and Invalid are the two address sentinels used throughout the core.
// Null denotes address zero; Invalid denotes "no address" (all bits set)
// and is returned by lookups that found nothing rather than an error.
const (
	Null    Address = 0
	Invalid Address = ^Address(0)
)

// Valid reports whether a is neither Null nor Invalid.
func (a Address) Valid() bool {
	return a != Null && a != Invalid
}

// IsNull reports whether a is the Null sentinel.
func (a Address) IsNull() bool {
	return a == Null
}

// Add returns a offset by a signed delta.
func (a Address) Add(delta int64) Address {
	return Address(int64(a) + delta)
}

// AddU returns a offset by an unsigned delta.
func (a Address) AddU(delta uint64) Address {
	return a + Address(delta)
}

// Sub returns the unsigned byte distance from b to a. The caller must
// ensure a >= b; this mirrors pointer subtraction and is not checked.
func (a Address) Sub(b Address) uint64 {
	return uint64(a - b)
}

// Mask returns a with only the bits in mask retained.
func (a Address) Mask(mask uint64) Address {
	return Address(uint64(a) & mask)
}

// AlignDown rounds a down to the nearest multiple of pageSize, which must
// be a power of two.
func (a Address) AlignDown(pageSize uint64) Address {
	return Address(uint64(a) &^ (pageSize - 1))
}

// AlignUp rounds a up to the nearest multiple of pageSize, which must be a
// power of two.
func (a Address) AlignUp(pageSize uint64) Address {
	return Address((uint64(a) + pageSize - 1) &^ (pageSize - 1))
}

// PageOffset returns the low bits of a within a page of the given size.
func (a Address) PageOffset(pageSize uint64) uint64 {
	return uint64(a) & (pageSize - 1)
}

// Uint64 returns the raw address value.
func (a Address) Uint64() uint64 {
	return uint64(a)
}

func (a Address) String() string {
	switch a {
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("0x%x", uint64(a))
	}
}

// IsPowerOfTwo reports whether n is a nonzero power of two, used to
// validate page sizes supplied by callers.
func IsPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}
