// Package cache implements the page cache (component H) and TLB cache
// (component I) that sit in front of a physical memory backend and a
// translator respectively, each gated by a pluggable Validator
// (component J), grounded on memflow's timed_validator.rs/timed_tlb.rs
// count-vs-time staleness split.
package cache

import (
	"sync"
	"time"
)

// Validator decides whether a cache slot is still fresh. Slot indices
// are dense and pre-allocated by Resize before any Valid/Validate call.
type Validator interface {
	Resize(slots int)
	Valid(slot int) bool
	Validate(slot int)
	Invalidate(slot int)
}

// TimedValidator expires a slot ttl after it was last validated, for
// targets (a live VM, a hypervisor snapshot feed) where staleness is a
// wall-clock property.
type TimedValidator struct {
	mu        sync.Mutex
	ttl       time.Duration
	validated []time.Time
}

func NewTimedValidator(ttl time.Duration) *TimedValidator {
	return &TimedValidator{ttl: ttl}
}

func (v *TimedValidator) Resize(slots int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validated = make([]time.Time, slots)
}

func (v *TimedValidator) Valid(slot int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := v.validated[slot]
	return !t.IsZero() && time.Since(t) < v.ttl
}

func (v *TimedValidator) Validate(slot int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validated[slot] = time.Now()
}

func (v *TimedValidator) Invalidate(slot int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validated[slot] = time.Time{}
}

// CountValidator expires a slot after limit Tick calls have elapsed
// since it was last validated, for targets (a static coredump) where a
// fixed number of intervening operations, not elapsed time, is the
// right staleness signal.
type CountValidator struct {
	mu          sync.Mutex
	limit       int
	tick        int
	validatedAt []int
}

func NewCountValidator(limit int) *CountValidator {
	return &CountValidator{limit: limit}
}

func (v *CountValidator) Resize(slots int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validatedAt = make([]int, slots)
	for i := range v.validatedAt {
		v.validatedAt[i] = -v.limit - 1
	}
}

// Tick advances the global operation counter. Call it once per
// cache-consulting operation (e.g. once per virtual read batch).
func (v *CountValidator) Tick() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tick++
}

func (v *CountValidator) Valid(slot int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tick-v.validatedAt[slot] < v.limit
}

func (v *CountValidator) Validate(slot int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validatedAt[slot] = v.tick
}

func (v *CountValidator) Invalidate(slot int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validatedAt[slot] = -v.limit - 1
}
