// Package sizing provides overflow-safe offset arithmetic for archive tables.
package sizing

import "math"

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// Slot returns the position of slot i in a table of fixed-width records
// starting at base, i.e. base + width*i, as an int64 offset.
func Slot(base uint64, width, i uint64, overflowErr error) (int64, error) {
	if width != 0 && i > math.MaxUint64/width {
		return 0, overflowErr
	}
	pos, ok := AddUint64(base, width*i)
	if !ok {
		return 0, overflowErr
	}
	return ToInt64(pos, overflowErr)
}

// InBounds reports whether the range [off, off+length) lies within [0, size).
func InBounds(off, length, size int64) bool {
	if off < 0 || length < 0 || size < 0 {
		return false
	}
	return off <= size && length <= size-off
}
