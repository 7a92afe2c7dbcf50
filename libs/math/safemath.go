package math

import "math"

// SafeAddUint64 adds two uint64 integers and reports whether the sum
// overflowed.
func SafeAddUint64(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, true
	}
	return a + b, false
}

// SafeAddClipUint64 adds two uint64 integers and clips the result to
// math.MaxUint64 on overflow.
func SafeAddClipUint64(a, b uint64) uint64 {
	c, overflow := SafeAddUint64(a, b)
	if overflow {
		return math.MaxUint64
	}
	return c
}

// MinUint64 returns the smaller of a and b.
func MinUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
