package win32

import "fmt"

// OffsetTable holds the PDB-derived EPROCESS/KPROCESS/ETHREAD/TEB field
// offsets a given ntoskrnl build uses, mirroring memflow-win32's
// Win32OffsetsData (offsets/offset_data.rs) field-for-field: the
// production system resolves these from ntoskrnl's own PDB via a symbol
// server keyed by DebugGUID, so only a small, explicitly-labeled seed
// table ships here.
type OffsetTable struct {
	ListBlink        uint32 // LIST_ENTRY.Blink
	EprocLink        uint32 // EPROCESS.ActiveProcessLinks
	KprocDTB         uint32 // KPROCESS.DirectoryTableBase
	EprocPID         uint32 // EPROCESS.UniqueProcessId
	EprocName        uint32 // EPROCESS.ImageFileName
	EprocPeb         uint32 // EPROCESS.Peb
	EprocThreadList  uint32 // EPROCESS.ThreadListHead
	EprocWow64       uint32 // EPROCESS.WoW64Process
	KthreadTeb       uint32 // KTHREAD.Teb
	EthreadListEntry uint32 // ETHREAD.ThreadListEntry
	TebPeb           uint32 // TEB.ProcessEnvironmentBlock
	TebPebX86        uint32 // TEB32.ProcessEnvironmentBlock (WoW64)
}

// win32_10_19041_x64 is a representative Windows 10 20H1 x64 offset
// set, seeded for out-of-the-box EPROCESS walking without a symbol
// server round trip.
var win32_10_19041_x64 = OffsetTable{
	ListBlink:        0x8,
	EprocLink:        0x448,
	KprocDTB:         0x28,
	EprocPID:         0x440,
	EprocName:        0x5a8,
	EprocPeb:         0x550,
	EprocThreadList:  0x5e0,
	EprocWow64:       0x580,
	KthreadTeb:       0x0f8,
	EthreadListEntry: 0x4e8,
	TebPeb:           0x060,
	TebPebX86:        0x030,
}

var offsetRegistry = map[string]OffsetTable{
	"win10_19041_x64": win32_10_19041_x64,
}

// LookupOffsets returns the offset table registered under key (a
// (pdb name, GUID, age) derived identity, or a short build alias).
func LookupOffsets(key string) (OffsetTable, error) {
	t, ok := offsetRegistry[key]
	if !ok {
		return OffsetTable{}, fmt.Errorf("win32: no offset table registered for %q", key)
	}
	return t, nil
}

// RegisterOffsets adds or replaces a build's offset table, for callers
// that resolve offsets from a live symbol server at runtime.
func RegisterOffsets(key string, t OffsetTable) {
	offsetRegistry[key] = t
}
