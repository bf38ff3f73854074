package win32

import (
	"fmt"

	"github.com/tinyrange/memview/address"
	"github.com/tinyrange/memview/virtmem"
)

// Process is one entry recovered from the active process list.
type Process struct {
	EPROCESS address.Address
	PID      uint64
	Name     string
	DTB      address.Address
	PEB      address.Address
}

// WalkProcessList follows EPROCESS.ActiveProcessLinks.Blink starting
// from sysEPROCESS (the System process, as found by
// FindSystemEPROCESS) until it loops back around, reading each entry's
// PID, name, DTB and PEB using off. Grounded on the same ActiveProcessLinks
// traversal every Windows process enumerator (flow-win32's
// win/process/user_iter.rs included) performs.
func WalkProcessList(v virtmem.View, sysEPROCESS address.Address, off OffsetTable) ([]Process, error) {
	var procs []Process
	seen := map[address.Address]bool{}

	cur := sysEPROCESS
	for {
		if seen[cur] {
			break
		}
		seen[cur] = true

		p, err := readProcess(v, cur, off)
		if err != nil {
			return procs, fmt.Errorf("win32: read eprocess at %s: %w", cur, err)
		}
		procs = append(procs, p)

		linkEntry := cur.AddU(uint64(off.EprocLink))
		blink, err := virtmem.VirtReadAddr64(v, linkEntry.AddU(uint64(off.ListBlink)))
		if err != nil {
			return procs, fmt.Errorf("win32: read ActiveProcessLinks.Blink: %w", err)
		}
		next := blink.Add(-int64(off.EprocLink))
		if next == sysEPROCESS || next.IsNull() {
			break
		}
		cur = next
	}
	return procs, nil
}

func readProcess(v virtmem.View, eprocess address.Address, off OffsetTable) (Process, error) {
	pid, err := virtmem.VirtReadAddr64(v, eprocess.AddU(uint64(off.EprocPID)))
	if err != nil {
		return Process{}, err
	}
	dtb, err := virtmem.VirtReadAddr64(v, eprocess.AddU(uint64(off.KprocDTB)))
	if err != nil {
		return Process{}, err
	}
	peb, err := virtmem.VirtReadAddr64(v, eprocess.AddU(uint64(off.EprocPeb)))
	if err != nil {
		return Process{}, err
	}

	nameBuf := make([]byte, 15)
	if err := v.VirtReadRawList([]virtmem.ReadRequest{{Addr: eprocess.AddU(uint64(off.EprocName)), Buf: nameBuf}}); err != nil {
		return Process{}, err
	}
	name := cString(nameBuf)

	return Process{
		EPROCESS: eprocess,
		PID:      pid.Uint64(),
		Name:     name,
		DTB:      dtb,
		PEB:      peb,
	}, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
