package win32

import (
	"encoding/binary"
	"testing"
)

func TestFindX64Lowstub(t *testing.T) {
	stub := make([]byte, 4*0x1000)
	page := stub[0x1000:0x2000]
	binary.LittleEndian.PutUint64(page[0:8], 0x0000_0001_0006_00e9)
	binary.LittleEndian.PutUint64(page[0x70:0x78], 0xffff_f800_1234_5000)
	binary.LittleEndian.PutUint64(page[0xa0:0xa8], 0x0000_0000_0018_0000)

	sb, err := FindX64Lowstub(stub)
	if err != nil {
		t.Fatalf("FindX64Lowstub: %v", err)
	}
	if sb.DTB != 0x180000 {
		t.Fatalf("DTB = %s, want 0x180000", sb.DTB)
	}
	if sb.KernelHint != 0xffff_f800_1234_5000 {
		t.Fatalf("KernelHint = %s", sb.KernelHint)
	}
}

func TestFindX64LowstubNoMatch(t *testing.T) {
	stub := make([]byte, 4*0x1000)
	if _, err := FindX64Lowstub(stub); err == nil {
		t.Fatalf("expected no match in all-zero stub")
	}
}

func TestFindX64FallbackSelfReference(t *testing.T) {
	mem := make([]byte, 2*0x1000)
	page := mem[0:0x1000]
	binary.LittleEndian.PutUint64(page[0:8], 0x1000|0x7)
	for i := 0; i < 6; i++ {
		off := 0x800 + i*8
		binary.LittleEndian.PutUint64(page[off:off+8], 0x0000_0000_0000_0063)
	}

	sb, err := FindX64Fallback(mem)
	if err != nil {
		t.Fatalf("FindX64Fallback: %v", err)
	}
	if sb.DTB != 0 {
		t.Fatalf("DTB = %s, want 0", sb.DTB)
	}
}

func TestFindX86PAE(t *testing.T) {
	mem := make([]byte, 2*0x1000)
	page := mem[0:0x1000]
	base := uint64(0)
	for i := 0; i < 4; i++ {
		v := base + (uint64(i)*8)<<9 + 0x1001
		binary.LittleEndian.PutUint64(page[i*8:i*8+8], v)
	}
	sb, err := FindX86PAE(mem)
	if err != nil {
		t.Fatalf("FindX86PAE: %v", err)
	}
	if sb.DTB != 0 {
		t.Fatalf("DTB = %s, want 0", sb.DTB)
	}
}

func TestFindX86(t *testing.T) {
	mem := make([]byte, 2*0x1000)
	page := mem[0:0x1000]
	page[0] = 0x67
	binary.LittleEndian.PutUint32(page[0xc00:0xc04], 0x3)
	for i := 0x200; i < 0x400; i++ {
		page[i*4] = 0x63
	}
	sb, err := FindX86(mem)
	if err != nil {
		t.Fatalf("FindX86: %v", err)
	}
	if sb.DTB != 0 {
		t.Fatalf("DTB = %s, want 0", sb.DTB)
	}
}

func TestLookupOffsetsKnownBuild(t *testing.T) {
	off, err := LookupOffsets("win10_19041_x64")
	if err != nil {
		t.Fatalf("LookupOffsets: %v", err)
	}
	if off.EprocLink == 0 {
		t.Fatalf("expected non-zero EprocLink")
	}
}

func TestLookupOffsetsUnknownBuild(t *testing.T) {
	if _, err := LookupOffsets("nonexistent"); err == nil {
		t.Fatalf("expected error for unknown build")
	}
}

func TestPESizeOfImage(t *testing.T) {
	header := make([]byte, 0x200)
	binary.LittleEndian.PutUint16(header[0:2], 0x5a4d)
	binary.LittleEndian.PutUint32(header[0x3c:0x40], 0x80)
	copy(header[0x80:0x84], []byte("PE\x00\x00"))
	optOff := 0x80 + peOptionalHeaderOffsetFromCOFF
	binary.LittleEndian.PutUint16(header[optOff:optOff+2], 0x20b)
	binary.LittleEndian.PutUint32(header[optOff+peSizeOfImageOffset:optOff+peSizeOfImageOffset+4], 0x45000)

	size, err := peSizeOfImage(header)
	if err != nil {
		t.Fatalf("peSizeOfImage: %v", err)
	}
	if size != 0x45000 {
		t.Fatalf("size = %#x, want 0x45000", size)
	}
}
