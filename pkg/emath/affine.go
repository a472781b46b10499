package emath

// Affine transformations, used to shift images into alignment.

import (
	"fmt"

	"golang.org/x/image/math/f64" // Will be "image/math/f64" at some point
)

// Use a local type so we can hang methods off it
type Aff3 f64.Aff3

// Mult composes two transforms; q is applied first.
func (p Aff3) Mult(q Aff3) Aff3 {
	return Aff3{
		p[3*0+0]*q[3*0+0] + p[3*0+1]*q[3*1+0],
		p[3*0+0]*q[3*0+1] + p[3*0+1]*q[3*1+1],
		p[3*0+0]*q[3*0+2] + p[3*0+1]*q[3*1+2] + p[3*0+2],
		p[3*1+0]*q[3*0+0] + p[3*1+1]*q[3*1+0],
		p[3*1+0]*q[3*0+1] + p[3*1+1]*q[3*1+1],
		p[3*1+0]*q[3*0+2] + p[3*1+1]*q[3*1+2] + p[3*1+2],
	}
}

func Identity() Aff3 {
	return Aff3{1, 0, 0, 0, 1, 0}
}

func (m1 Aff3) Translate(tx, ty float64) Aff3 {
	return m1.Mult(Aff3{1, 0, tx, 0, 1, ty})
}

// Apply maps the point (x,y) through the transform.
func (m Aff3) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

func (m Aff3) String() string {
	return fmt.Sprintf("[%6.2f %6.2f %6.2f | %6.2f %6.2f %6.2f]", m[0], m[1], m[2], m[3], m[4], m[5])
}
