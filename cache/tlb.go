package cache

import (
	"sync"

	"github.com/tinyrange/memview/address"
)

type tlbKey struct {
	dtb      address.Address
	pageBase address.Address
}

type tlbSlot struct {
	key  tlbKey
	used bool
	phys address.Address
	page address.Page
}

// TLBCache memoizes virt-page-base -> physical-frame translations per
// address space, grounded on memflow's tlb_cache.rs: a fixed-capacity,
// hash-indexed table with FIFO eviction rather than true LRU, since a
// translation's recency of use is a weak predictor of whether the page
// table it came from is still mapped the same way.
type TLBCache struct {
	mu        sync.Mutex
	capacity  int
	validator Validator
	slots     []tlbSlot
	index     map[tlbKey]int
	next      int
}

// NewTLBCache builds a cache with room for capacity distinct entries.
func NewTLBCache(capacity int, validator Validator) *TLBCache {
	validator.Resize(capacity)
	return &TLBCache{
		capacity:  capacity,
		validator: validator,
		slots:     make([]tlbSlot, capacity),
		index:     make(map[tlbKey]int, capacity),
	}
}

// TryEntry returns the cached translation for (dtb, pageBase), if any.
func (c *TLBCache) TryEntry(dtb, pageBase address.Address) (address.Address, address.Page, bool) {
	key := tlbKey{dtb: dtb, pageBase: pageBase}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.index[key]
	if !ok {
		return address.Invalid, address.InvalidPage, false
	}
	if !c.validator.Valid(idx) {
		delete(c.index, key)
		c.slots[idx].used = false
		return address.Invalid, address.InvalidPage, false
	}
	slot := c.slots[idx]
	return slot.phys, slot.page, true
}

// Insert records a successful translation, evicting the oldest entry in
// FIFO order once the cache is full.
func (c *TLBCache) Insert(dtb, pageBase, phys address.Address, page address.Page) {
	key := tlbKey{dtb: dtb, pageBase: pageBase}

	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.index[key]; ok {
		c.slots[idx] = tlbSlot{key: key, used: true, phys: phys, page: page}
		c.validator.Validate(idx)
		return
	}

	idx := c.next % c.capacity
	c.next++
	if old := c.slots[idx]; old.used {
		delete(c.index, old.key)
	}
	c.slots[idx] = tlbSlot{key: key, used: true, phys: phys, page: page}
	c.index[key] = idx
	c.validator.Validate(idx)
}

// InvalidateDTB drops every entry belonging to dtb, for use on a
// process context switch (CR3 reload) where old translations are no
// longer trustworthy even if the validator hasn't expired them yet.
func (c *TLBCache) InvalidateDTB(dtb address.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, idx := range c.index {
		if key.dtb == dtb {
			delete(c.index, key)
			c.slots[idx].used = false
			c.validator.Invalidate(idx)
		}
	}
}
