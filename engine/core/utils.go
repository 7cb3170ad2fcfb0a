package core

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// RoundUp returns `v` rounded up to the next multiple of `multiple`.
// `multiple` must be greater than zero.
func RoundUp[T constraints.Integer](v, multiple T) T {
	rem := v % multiple
	if rem == 0 {
		return v
	}
	return v + multiple - rem
}
