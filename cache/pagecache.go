package cache

import (
	"sync"

	"github.com/tinyrange/memview/address"
)

// AdmissionPolicy decides whether a page is worth caching at all. A nil
// policy admits everything.
type AdmissionPolicy func(page address.Page) bool

type pageSlot struct {
	valid bool
	tag   address.Address
	data  []byte
}

// PageCache is a set-associative, write-through cache of fixed-size
// physical pages, grounded on memflow's cached_memory_access.rs
// PageCache: pages are bucketed into sets by address, each set holds a
// fixed number of ways, and a write updates any cached copy in place
// rather than invalidating it.
type PageCache struct {
	mu        sync.Mutex
	pageSize  uint64
	ways      int
	sets      int
	slots     []pageSlot
	validator Validator
	admit     AdmissionPolicy
}

// NewPageCache builds a cache of the given total byte size, holding
// pageSize-sized pages in sets of ways-way associativity.
func NewPageCache(size, pageSize uint64, ways int, validator Validator, admit AdmissionPolicy) *PageCache {
	totalSlots := int(size / pageSize)
	if totalSlots < ways {
		totalSlots = ways
	}
	sets := totalSlots / ways
	if sets == 0 {
		sets = 1
	}
	total := sets * ways
	validator.Resize(total)
	return &PageCache{
		pageSize:  pageSize,
		ways:      ways,
		sets:      sets,
		slots:     make([]pageSlot, total),
		validator: validator,
		admit:     admit,
	}
}

func (c *PageCache) setFor(base address.Address) int {
	return int((base.Uint64() / c.pageSize) % uint64(c.sets))
}

// Lookup returns a copy of the cached page containing addr, if present
// and still valid.
func (c *PageCache) Lookup(addr address.Address) ([]byte, bool) {
	base := addr.AlignDown(c.pageSize)
	set := c.setFor(base)

	c.mu.Lock()
	defer c.mu.Unlock()
	for way := 0; way < c.ways; way++ {
		idx := set*c.ways + way
		slot := &c.slots[idx]
		if slot.valid && slot.tag == base && c.validator.Valid(idx) {
			out := make([]byte, len(slot.data))
			copy(out, slot.data)
			return out, true
		}
	}
	return nil, false
}

// Insert admits a freshly read page into the cache, evicting the first
// invalid way in its set or, failing that, way 0.
func (c *PageCache) Insert(addr address.Address, page address.Page, data []byte) {
	if c.admit != nil && !c.admit(page) {
		return
	}
	base := addr.AlignDown(c.pageSize)
	set := c.setFor(base)

	c.mu.Lock()
	defer c.mu.Unlock()
	victim := set * c.ways
	for way := 0; way < c.ways; way++ {
		idx := set*c.ways + way
		if !c.slots[idx].valid {
			victim = idx
			break
		}
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	c.slots[victim] = pageSlot{valid: true, tag: base, data: stored}
	c.validator.Validate(victim)
}

// WriteThrough updates any cached copy of addr's page in place. The
// caller is still responsible for issuing the write to the backing
// physical memory; this only keeps the cache from serving stale data
// afterward.
func (c *PageCache) WriteThrough(addr address.Address, data []byte) {
	base := addr.AlignDown(c.pageSize)
	off := addr.Uint64() - base.Uint64()
	set := c.setFor(base)

	c.mu.Lock()
	defer c.mu.Unlock()
	for way := 0; way < c.ways; way++ {
		idx := set*c.ways + way
		slot := &c.slots[idx]
		if slot.valid && slot.tag == base {
			copy(slot.data[off:], data)
			return
		}
	}
}

// Invalidate drops any cached copy of addr's page.
func (c *PageCache) Invalidate(addr address.Address) {
	base := addr.AlignDown(c.pageSize)
	set := c.setFor(base)

	c.mu.Lock()
	defer c.mu.Unlock()
	for way := 0; way < c.ways; way++ {
		idx := set*c.ways + way
		if c.slots[idx].valid && c.slots[idx].tag == base {
			c.slots[idx].valid = false
			c.validator.Invalidate(idx)
		}
	}
}
