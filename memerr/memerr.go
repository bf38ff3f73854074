// Package memerr defines the error kinds shared across the memory core,
// following the sentinel-error style of internal/hv/common.go (plain
// errors.New values checked with errors.Is) combined with structured
// wrapper types for errors that carry data a caller needs to inspect.
package memerr

import (
	"errors"
	"fmt"

	"github.com/tinyrange/memview/address"
)

var (
	// ErrInvalidArchitecture is returned when an operation references an
	// architecture identifier that is not in the registry.
	ErrInvalidArchitecture = errors.New("invalid architecture")
	// ErrNotMapped is returned when an address falls outside a memory map.
	ErrNotMapped = errors.New("address not mapped")
	// ErrShortIO is returned when a backend filled fewer bytes than requested.
	ErrShortIO = errors.New("short read or write")
	// ErrReadOnly is returned when a write targets a read-only backend.
	ErrReadOnly = errors.New("backend is read-only")
)

// IOKind discriminates the stage of a failed backend I/O operation.
type IOKind int

const (
	IOKindSeek IOKind = iota
	IOKindRead
	IOKindWrite
	IOKindShort
)

func (k IOKind) String() string {
	switch k {
	case IOKindSeek:
		return "seek"
	case IOKindRead:
		return "read"
	case IOKindWrite:
		return "write"
	case IOKindShort:
		return "short"
	default:
		return "unknown"
	}
}

// IOError wraps a backend I/O failure with the stage that failed.
type IOError struct {
	Kind IOKind
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io failed (%s): %v", e.Kind, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// PageTableReason discriminates why a page-table walk step failed.
type PageTableReason int

const (
	ReasonNotPresent PageTableReason = iota
	ReasonNXViolation
	ReasonBadFrame
	ReasonCanonical
)

func (r PageTableReason) String() string {
	switch r {
	case ReasonNotPresent:
		return "not_present"
	case ReasonNXViolation:
		return "nx_violation"
	case ReasonBadFrame:
		return "bad_frame"
	case ReasonCanonical:
		return "canonical"
	default:
		return "unknown"
	}
}

// PageTableError is emitted per virtual address by the MMU walker when a
// translation cannot proceed past a given level.
type PageTableError struct {
	Level  int
	Reason PageTableReason
	Addr   address.Address
}

func (e *PageTableError) Error() string {
	return fmt.Sprintf("page table walk failed at level %d (%s) for %s", e.Level, e.Reason, e.Addr)
}

// PartialResultError is returned by batched read/write operations when
// some but not all items succeeded. SuccessfulPrefix counts bytes (or
// items, depending on the caller) that completed before FirstError.
type PartialResultError struct {
	SuccessfulPrefix uint64
	FirstError       error
}

func (e *PartialResultError) Error() string {
	return fmt.Sprintf("partial result after %d bytes: %v", e.SuccessfulPrefix, e.FirstError)
}

func (e *PartialResultError) Unwrap() error { return e.FirstError }

// InitializationError reports which stage of kernel/StartBlock/PE
// location failed.
type InitializationError struct {
	Stage string
	Err   error
}

func (e *InitializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("initialization failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("initialization failed at %s", e.Stage)
}

func (e *InitializationError) Unwrap() error { return e.Err }
