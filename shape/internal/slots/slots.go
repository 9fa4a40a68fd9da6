package slots

import "math"

// AlignTo rounds offset up to the next multiple of align. align must be a
// power of two or zero.
func AlignTo(offset, align int) int {
	if align <= 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// Place returns the aligned offset for a value of the given width in an area
// filled up to used bytes, and whether it fits within capacity.
func Place(used, width, capacity int) (offset int, ok bool) {
	offset = AlignTo(used, width)
	end, ok := SafeAdd(offset, width)
	if !ok || end > capacity {
		return 0, false
	}
	return offset, true
}

// SafeAdd adds two non-negative ints, reporting overflow.
func SafeAdd(a, b int) (int, bool) {
	if a > math.MaxInt-b {
		return 0, false
	}
	return a + b, true
}
