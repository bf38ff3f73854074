package address

import "testing"

func TestAddressAlign(t *testing.T) {
	a := Address(0x1234)
	if got := a.AlignDown(0x1000); got != 0x1000 {
		t.Fatalf("AlignDown: got %#x, want 0x1000", got)
	}
	if got := a.AlignUp(0x1000); got != 0x2000 {
		t.Fatalf("AlignUp: got %#x, want 0x2000", got)
	}
	if got := a.PageOffset(0x1000); got != 0x234 {
		t.Fatalf("PageOffset: got %#x, want 0x234", got)
	}
}

func TestAddressArithmetic(t *testing.T) {
	a := Address(0x2000)
	if got := a.Add(-0x1000); got != 0x1000 {
		t.Fatalf("Add(-0x1000): got %#x, want 0x1000", got)
	}
	if got := a.AddU(0x500); got != 0x2500 {
		t.Fatalf("AddU: got %#x, want 0x2500", got)
	}
	if got := a.Sub(Address(0x1800)); got != 0x800 {
		t.Fatalf("Sub: got %#x, want 0x800", got)
	}
}

func TestAddressSentinels(t *testing.T) {
	if Null.Valid() {
		t.Fatalf("Null must not be Valid")
	}
	if Invalid.Valid() {
		t.Fatalf("Invalid must not be Valid")
	}
	if !Address(1).Valid() {
		t.Fatalf("1 must be Valid")
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	cases := map[uint64]bool{0: false, 1: true, 2: true, 3: false, 4096: true, 4097: false}
	for n, want := range cases {
		if got := IsPowerOfTwo(n); got != want {
			t.Fatalf("IsPowerOfTwo(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestPageTypeWritableExclusive(t *testing.T) {
	pt := PageUnknown.WithWritable(true)
	if !pt.Is(PageWriteable) || pt.Is(PageReadOnly) {
		t.Fatalf("WithWritable(true): got %v", pt)
	}
	pt = pt.WithWritable(false)
	if !pt.Is(PageReadOnly) || pt.Is(PageWriteable) {
		t.Fatalf("WithWritable(false): got %v", pt)
	}
}

func TestPhysicalAddressInvalid(t *testing.T) {
	pa := InvalidPhysicalAddress
	if pa.Page.Valid() {
		t.Fatalf("InvalidPhysicalAddress.Page must be invalid")
	}
}
