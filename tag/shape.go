package tag

import "fmt"

// MaxDimensions is the largest array rank accepted on the cached path.
const MaxDimensions = 3

// Shape describes which elements of a tag a request covers.
//
// Length == 0 is a scalar. Length > 0 with Count == 0 is the whole array.
// Count > 0 selects Count elements starting at Start.
type Shape struct {
	Length int
	Start  int
	Count  int
}

// Scalar addresses a single value.
func Scalar() Shape { return Shape{} }

// Array addresses a whole fixed-length array.
func Array(length int) Shape { return Shape{Length: length} }

// Range addresses count elements of an array of the given length, starting
// at start.
func Range(length, start, count int) Shape {
	return Shape{Length: length, Start: start, Count: count}
}

// IsScalar reports whether the shape addresses a single value.
func (s Shape) IsScalar() bool { return s.Length == 0 }

// IsRange reports whether the shape selects a sub-range.
func (s Shape) IsRange() bool { return s.Length > 0 && s.Count > 0 }

// Validate checks the shape before any I/O is attempted.
func (s Shape) Validate() error {
	if s.Length < 0 || s.Start < 0 || s.Count < 0 {
		return fmt.Errorf("%w: negative length, start or count", ErrMismatchLength)
	}
	if s.Count > 0 && s.Start+s.Count > s.Length {
		return ErrMismatchLength
	}
	return nil
}

// CheckSpan verifies that n elements starting at start fit in length.
func CheckSpan(length, start, n int) error {
	if start < 0 || n < 0 || start+n > length {
		return ErrMismatchLength
	}
	return nil
}

// CheckDimensions verifies an array dimension list against MaxDimensions
// and returns the total element count it describes. Zero entries terminate
// the list, matching how callers pad unused dimensions.
func CheckDimensions(dims []int) (int, error) {
	if len(dims) > MaxDimensions {
		return 0, ErrInvalidArrayDim
	}
	total := 1
	for _, d := range dims {
		if d < 0 {
			return 0, ErrInvalidArrayDim
		}
		if d == 0 {
			break
		}
		total *= d
	}
	return total, nil
}
