package radiance

import (
	"fmt"
	"math"
)

const (
	ZMin = 0
	ZMax = 255
	ZMid = 128
)

// A ResponseCurve holds g(z) = ln(E·Δt) for each 8 bit pixel value z, per
// channel (0=R, 1=G, 2=B).
type ResponseCurve [3][256]float64

// LinearCurve is the response of an ideal linear sensor, anchored so that
// g(ZMid) = 0.
func LinearCurve() ResponseCurve {
	c := ResponseCurve{}
	for ch := 0; ch < 3; ch++ {
		for z := 0; z < 256; z++ {
			c[ch][z] = math.Log(math.Max(float64(z), 0.5) / ZMid)
		}
	}
	return c
}

// Exposure returns E·Δt for pixel value z on channel ch.
func (c *ResponseCurve) Exposure(ch int, z uint8) float64 { return math.Exp(c[ch][z]) }

// Monotone reports whether g never decreases, on every channel.
func (c *ResponseCurve) Monotone() bool {
	for ch := 0; ch < 3; ch++ {
		for z := 1; z < 256; z++ {
			if c[ch][z] < c[ch][z-1] {
				return false
			}
		}
	}
	return true
}

// Weight is the Debevec "hat" function: full confidence mid-range, none at
// the clipped ends.
func Weight(z uint8) float64 {
	if z <= ZMid {
		return float64(z - ZMin)
	}
	return float64(ZMax - z)
}

func (c ResponseCurve) String() string {
	str := "ResponseCurve [\n"
	for _, z := range []int{0, 32, 64, 128, 192, 255} {
		str += fmt.Sprintf("  g(%3d) = [% 7.3f, % 7.3f, % 7.3f]\n", z, c[0][z], c[1][z], c[2][z])
	}
	return str + "]"
}
