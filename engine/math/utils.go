package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// Saturate clamps a color channel to [0, 1].
func Saturate[T constraints.Float](v T) T {
	return Clamp(v, 0, 1)
}

// UnormToByte converts a [0, 1] channel to an 8 bit unorm value, rounding to
// the nearest step. Out of range input saturates.
func UnormToByte[T constraints.Float](v T) uint8 {
	return uint8(Saturate(v)*255 + 0.5)
}
