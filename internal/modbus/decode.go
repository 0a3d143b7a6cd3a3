package modbus

import "errors"

// ErrDegenerateRange marks a channel whose raw_min equals raw_max. The value
// cannot be calibrated; the caller records the channel absent for the cycle.
var ErrDegenerateRange = errors.New("raw_min equals raw_max")

// DecodeAnalog returns the value of channel index from an ET-7017 register
// block: one word per channel, values above 32767 reinterpreted as negative
// two's-complement int16. ok is false for an out-of-range index or a missing
// block; that channel is absent for the cycle, never an error.
func DecodeAnalog(words []uint16, index int) (int, bool) {
	if index < 0 || index >= len(words) {
		return 0, false
	}
	v := int(words[index])
	if v > 32767 {
		v -= 65536
	}
	return v, true
}

// DecodePulse returns the value of channel index from an ET-7284 register
// block: two consecutive words per channel, low word first, combined into an
// unsigned 32-bit counter.
func DecodePulse(words []uint16, index int) (uint32, bool) {
	lo := index * 2
	hi := lo + 1
	if index < 0 || hi >= len(words) {
		return 0, false
	}
	return uint32(words[hi])<<16 | uint32(words[lo]), true
}

// Normalize maps a raw value onto the physical range by linear interpolation.
// Used for every signal type; encoder channels use raw_min=0, raw_max=PPM,
// phys 0..1 so the same formula yields meters or m/s.
func Normalize(raw, rawMin, rawMax, physMin, physMax float64) (float64, error) {
	if rawMax == rawMin {
		return 0, ErrDegenerateRange
	}
	return physMin + (raw-rawMin)/(rawMax-rawMin)*(physMax-physMin), nil
}
