package encoding

import "math"

const signMask uint64 = 0x8000000000000000

// EncodeF64ToCmpUint64 folds an IEEE-754 double into a uint64 whose unsigned
// byte order matches numeric order over all finite floats: the sign bit is
// flipped for non-negative values and all bits are inverted for negatives.
// Both zero bit patterns land on the same cmp value. NaN is rejected by
// callers before reaching here.
func EncodeF64ToCmpUint64(score float64) uint64 {
	b := math.Float64bits(score)
	if score >= 0 {
		b |= signMask
	} else {
		b = ^b
	}
	return b
}

// DecodeCmpUint64ToF64 reverses EncodeF64ToCmpUint64.
func DecodeCmpUint64ToF64(v uint64) float64 {
	if v&signMask != 0 {
		return math.Float64frombits(v &^ signMask)
	}
	return math.Float64frombits(^v)
}
