package address

import "fmt"

// PageType is a bitflag set describing the properties of a physical page.
// WRITEABLE and READ_ONLY are mutually exclusive; setting one clears the
// other, mirroring the source's write(bool) setter.
type PageType uint8

const (
	PageNone PageType = 0b0000_0000
	// PageUnknown marks a page whose flags could not be determined.
	PageUnknown   PageType = 0b0000_0001
	PagePageTable PageType = 0b0000_0010
	PageWriteable PageType = 0b0000_0100
	PageReadOnly  PageType = 0b0000_1000
	PageNoExec    PageType = 0b0001_0000
)

// WithWritable returns a copy of t with the writeable/read-only/unknown
// bits replaced to reflect writable.
func (t PageType) WithWritable(writable bool) PageType {
	t &^= PageUnknown | PageWriteable | PageReadOnly
	if writable {
		return t | PageWriteable
	}
	return t | PageReadOnly
}

// WithNoExec returns a copy of t with the NOEXEC bit set or cleared.
func (t PageType) WithNoExec(noexec bool) PageType {
	t &^= PageNoExec
	if noexec {
		return t | PageNoExec
	}
	return t
}

// WithPageTable returns a copy of t with the PAGE_TABLE bit set or cleared.
func (t PageType) WithPageTable(isPT bool) PageType {
	t &^= PagePageTable | PageUnknown
	if isPT {
		return t | PagePageTable
	}
	return t
}

// Is reports whether all bits in mask are set in t.
func (t PageType) Is(mask PageType) bool {
	return t&mask == mask
}

// Intersects reports whether t and mask share any bit.
func (t PageType) Intersects(mask PageType) bool {
	return t&mask != 0
}

func (t PageType) String() string {
	if t == PageNone {
		return "none"
	}
	names := []struct {
		bit  PageType
		name string
	}{
		{PageUnknown, "unknown"},
		{PagePageTable, "page_table"},
		{PageWriteable, "writeable"},
		{PageReadOnly, "read_only"},
		{PageNoExec, "noexec"},
	}
	s := ""
	for _, n := range names {
		if t&n.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return fmt.Sprintf("PageType(%#x)", uint8(t))
	}
	return s
}

// Page describes a physical page: its type flags, its page-aligned base
// address, and its size (always a power of two).
type Page struct {
	Type PageType
	Base Address
	Size uint64
}

// InvalidPage is returned whenever a page's identity is unknown, matching
// the source's Page::INVALID sentinel.
var InvalidPage = Page{Type: PageUnknown, Base: Invalid, Size: 0}

// Valid reports whether p has a real base and a nonzero size.
func (p Page) Valid() bool {
	return p.Base != Invalid && p.Size != 0
}

// Contains reports whether addr falls within p.
func (p Page) Contains(addr Address) bool {
	return p.Valid() && addr >= p.Base && uint64(addr-p.Base) < p.Size
}

// PhysicalAddress pairs a guest-physical address with the (possibly
// unknown) page that encloses it. When Page is the zero/invalid value the
// address carries no known flags.
type PhysicalAddress struct {
	Address Address
	Page    Page
}

// NullPhysicalAddress and InvalidPhysicalAddress are the sentinel physical
// addresses used when a translation fails or is not yet known.
var (
	NullPhysicalAddress    = PhysicalAddress{Address: Null, Page: InvalidPage}
	InvalidPhysicalAddress = PhysicalAddress{Address: Invalid, Page: InvalidPage}
)

// FromAddress wraps a bare address with no known page metadata.
func FromAddress(a Address) PhysicalAddress {
	return PhysicalAddress{Address: a, Page: InvalidPage}
}

func (p PhysicalAddress) String() string {
	return p.Address.String()
}
