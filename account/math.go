package account

import (
	"math"
	"math/bits"
)

// SaturatingAdd returns a+b, clamped to math.MaxUint64 instead of wrapping.
func SaturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// saturatingInc8 increments v by one, clamped to limit.
func saturatingInc8(v, limit uint8) uint8 {
	if v >= limit {
		return limit
	}
	return v + 1
}
