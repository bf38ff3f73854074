// Package memmap implements the ordered, overlap-free mapping from
// guest-physical ranges to backend offsets described in spec §4.1. The
// map is built once at session setup (push_remap) and is read-only
// thereafter, matching the teacher's address_space.go pattern of a
// mutex-guarded, sorted set of ranges searched by binary search.
package memmap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tinyrange/memview/address"
)

// Entry is one non-overlapping range in a Map: bytes [InBase, InBase+Length)
// are redirected to the backend range starting at OutBase.
type Entry struct {
	InBase  address.Address
	Length  uint64
	OutBase address.Address
}

func (e Entry) inEnd() address.Address { return e.InBase.AddU(e.Length) }

// contains reports whether addr falls in [InBase, InBase+Length).
func (e Entry) contains(addr address.Address) bool {
	return addr >= e.InBase && addr < e.inEnd()
}

// Map is a sorted, non-overlapping set of remap entries. The zero value
// is an empty map ready to use.
type Map struct {
	mu      sync.RWMutex
	entries []Entry
}

// New returns an empty memory map.
func New() *Map {
	return &Map{}
}

// PushRemap inserts a new entry covering [inBase, inBase+length) mapped to
// outBase. It fails if the new range overlaps any existing entry.
func (m *Map) PushRemap(inBase address.Address, length uint64, outBase address.Address) error {
	if length == 0 {
		return fmt.Errorf("memmap: cannot push zero-length entry at %s", inBase)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	newEntry := Entry{InBase: inBase, Length: length, OutBase: outBase}
	idx := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].InBase > inBase
	})

	if idx > 0 {
		prev := m.entries[idx-1]
		if prev.inEnd() > inBase {
			return fmt.Errorf("memmap: entry [%s-%s) overlaps existing entry [%s-%s)",
				inBase, newEntry.inEnd(), prev.InBase, prev.inEnd())
		}
	}
	if idx < len(m.entries) {
		next := m.entries[idx]
		if newEntry.inEnd() > next.InBase {
			return fmt.Errorf("memmap: entry [%s-%s) overlaps existing entry [%s-%s)",
				inBase, newEntry.inEnd(), next.InBase, next.inEnd())
		}
	}

	m.entries = append(m.entries, Entry{})
	copy(m.entries[idx+1:], m.entries[idx:])
	m.entries[idx] = newEntry

	return nil
}

// Lookup returns the entry containing addr, if any.
func (m *Map) Lookup(addr address.Address) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].inEnd() > addr
	})
	if i < len(m.entries) && m.entries[i].contains(addr) {
		return m.entries[i], true
	}
	return Entry{}, false
}

// Len returns the number of entries currently in the map.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Entries returns a copy of the map's entries in sorted order.
func (m *Map) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
