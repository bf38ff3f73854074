package address

// Byte-size helpers, mirroring the kb/mb/gb helpers original_source keeps
// in flow-core/src/types/size.rs.

const (
	KB uint64 = 1 << 10
	MB uint64 = 1 << 20
	GB uint64 = 1 << 30
)

// Endianess identifies the byte order of an architecture's page-table
// entries and pointer-sized values.
type Endianess int

const (
	LittleEndian Endianess = iota
	BigEndian
)

func (e Endianess) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}
