package servicedata

import "time"

const halfWrap = 0x8000

// ReconstructTimestamp returns the full 32-bit timestamp whose low 16 bits
// are lsb and which lies closest to now. Broadcasts only carry the low
// half of the stone's clock.
func ReconstructTimestamp(now time.Time, lsb uint16) uint32 {
	current := uint32(now.Unix())
	candidate := current&0xFFFF0000 | uint32(lsb)
	currentLow := uint16(current)

	switch {
	case currentLow >= lsb && currentLow-lsb >= halfWrap:
		// The stone's clock wrapped its low half ahead of ours.
		candidate += 0x10000
	case lsb > currentLow && lsb-currentLow > halfWrap && candidate >= 0x10000:
		candidate -= 0x10000
	}
	return candidate
}
