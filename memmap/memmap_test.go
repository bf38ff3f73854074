package memmap

import (
	"testing"

	"github.com/tinyrange/memview/address"
)

func TestPushRemapOverlapRejected(t *testing.T) {
	m := New()
	if err := m.PushRemap(0x1000, 0x1000, 0); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := m.PushRemap(0x1800, 0x1000, 0x2000); err == nil {
		t.Fatalf("expected overlap error")
	}
}

func TestLookupAtMostOneEntry(t *testing.T) {
	m := New()
	must(t, m.PushRemap(0, 0x1000, 0x5000))
	must(t, m.PushRemap(0x2000, 0x1000, 0x9000))

	for _, addr := range []address.Address{0, 0xfff, 0x1000, 0x1fff, 0x2000, 0x2fff, 0x3000} {
		e, ok := m.Lookup(addr)
		if addr < 0x1000 || (addr >= 0x2000 && addr < 0x3000) {
			if !ok {
				t.Fatalf("expected a mapping at %s", addr)
			}
			_ = e
		} else {
			if ok {
				t.Fatalf("expected no mapping at %s", addr)
			}
		}
	}
}

func TestPushRemapExactCoverageRoundTrip(t *testing.T) {
	m := New()
	must(t, m.PushRemap(0x3000, 0x1000, 0x7000))

	var chunks []OutputChunk
	Iter(m, []Item[ByteBuf]{{Addr: 0x3000, Buf: make(ByteBuf, 0x1000)}},
		func(c OutputChunk, buf ByteBuf) { chunks = append(chunks, c) },
		func(address.Address, ByteBuf) { t.Fatalf("unexpected failure") },
	)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Base != 0x7000 {
		t.Fatalf("got base %s, want 0x7000", chunks[0].Base)
	}
}

// S2. Memory map split: a payload spanning a mapped range, a gap, and
// another mapped range must produce two successful chunks and one failure
// whose lengths together account for every byte of the payload.
func TestMapIterSplitAcrossGap(t *testing.T) {
	m := New()
	must(t, m.PushRemap(0x0000, 0x1000, 0x0))
	must(t, m.PushRemap(0x2000, 0x1000, 0x1000))

	buf := make(ByteBuf, 0x2000)
	var gotChunks []OutputChunk
	var gotFails []address.Address
	var gotFailLens []int

	Iter(m, []Item[ByteBuf]{{Addr: 0x800, Buf: buf}},
		func(c OutputChunk, b ByteBuf) { gotChunks = append(gotChunks, c) },
		func(a address.Address, b ByteBuf) {
			gotFails = append(gotFails, a)
			gotFailLens = append(gotFailLens, b.Len())
		},
	)

	if len(gotChunks) != 2 {
		t.Fatalf("expected 2 successful chunks, got %d: %+v", len(gotChunks), gotChunks)
	}
	if len(gotFails) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(gotFails))
	}
	if gotFails[0] != 0x1000 {
		t.Fatalf("failure at %s, want 0x1000", gotFails[0])
	}
	if gotFailLens[0] != 0x1000 {
		t.Fatalf("failure length %d, want 0x1000", gotFailLens[0])
	}
	if gotChunks[0].Base != 0x800 || gotChunks[0].Remaining != 0x800 {
		t.Fatalf("first chunk %+v", gotChunks[0])
	}
	if gotChunks[1].Base != 0x1000 || gotChunks[1].Remaining != 0x1000 {
		t.Fatalf("second chunk %+v", gotChunks[1])
	}
}

func TestPushRemapZeroLengthRejected(t *testing.T) {
	m := New()
	if err := m.PushRemap(0, 0, 0); err == nil {
		t.Fatalf("expected error for zero-length entry")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
