package emath

import "math"

// Some functions that only operate on basic types, that are useful

// https://www.sjbrown.co.uk/posts/gamma-correct-rendering/ - "linear RGB to sRGB"
// `f` is assumed to be in the range [0,1]
func GammaExpand_F64(f float64) float64 {
	if f <= 0.0031308 {
		return 12.92 * f
	}
	return 1.055*math.Pow(f, 1.0/2.4) - 0.055
}

// Clamp01 pins f into [0,1]; NaN becomes 0.
func Clamp01(f float64) float64 {
	if f > 1 {
		return 1
	} else if f >= 0 {
		return f
	}
	return 0
}
