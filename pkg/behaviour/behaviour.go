// Package behaviour computes the checksums stones use to advertise which
// behaviour rules they hold, so a client can tell whether its copy is in
// sync without reading every rule.
package behaviour

import (
	"encoding/binary"
	"sort"
)

// Fletcher32 returns the Fletcher-32 checksum of data read as little-endian
// 16-bit words. An odd trailing byte is padded with zero.
func Fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32 = 0xFFFF, 0xFFFF
	for i := 0; i < len(data); i += 2 {
		w := uint32(data[i])
		if i+1 < len(data) {
			w |= uint32(data[i+1]) << 8
		}
		sum1 = (sum1 + w) % 0xFFFF
		sum2 = (sum2 + sum1) % 0xFFFF
	}
	return sum2<<16 | sum1
}

// Record is one serialized behaviour rule at its slot on the stone.
type Record struct {
	Index uint8
	Data  []byte
}

// Hash returns the checksum of one rule.
func Hash(r Record) uint32 {
	return Fletcher32(r.Data)
}

// MasterHash summarizes a rule set. Each rule contributes
// index(1) | 0x00 | hash(4 LE), ordered by index. Input order does not
// matter.
func MasterHash(records []Record) uint32 {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	buf := make([]byte, 0, 6*len(sorted))
	for _, r := range sorted {
		buf = append(buf, r.Index, 0)
		buf = binary.LittleEndian.AppendUint32(buf, Hash(r))
	}
	return Fletcher32(buf)
}

// Short folds a master hash into the 16 bits carried by the alternative
// state broadcast.
func Short(master uint32) uint16 {
	return uint16(master) ^ uint16(master>>16)
}
