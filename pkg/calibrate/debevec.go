// Package calibrate recovers a camera's response curve from a stack of
// exposures of the same scene (Debevec & Malik, 1997).
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/abworrall/hdrmerge/pkg/radiance"
)

// Debevec solves for g(z) = ln(E·Δt) by least squares, over a sample of
// pixel locations, with a second-derivative smoothness penalty.
type Debevec struct {
	Samples int     // number of pixel locations sampled
	Lambda  float64 // weight of the smoothness term
}

func NewDebevec() Debevec {
	return Debevec{Samples: 70, Lambda: 10.0}
}

// SamplePoints spreads n points over a grid covering r, row by row.
func SamplePoints(r image.Rectangle, n int) []image.Point {
	if n < 1 || r.Empty() {
		return nil
	}
	cols := int(math.Ceil(math.Sqrt(float64(n) * float64(r.Dx()) / float64(r.Dy()))))
	if cols < 1 {
		cols = 1
	}
	rows := (n + cols - 1) / cols

	pts := []image.Point{}
	for j := 0; j < rows; j++ {
		for i := 0; i < cols && len(pts) < n; i++ {
			x := r.Min.X + int((float64(i)+0.5)*float64(r.Dx())/float64(cols))
			y := r.Min.Y + int((float64(j)+0.5)*float64(r.Dy())/float64(rows))
			pts = append(pts, image.Point{x, y})
		}
	}
	return pts
}

// pixelValues returns the 8 bit R,G,B values at p.
func pixelValues(img image.Image, p image.Point) [3]uint8 {
	r, g, b, _ := img.At(p.X, p.Y).RGBA()
	return [3]uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
}

// Calibrate returns the response curve for each channel. The curve is
// anchored at g(128) = 0.
func (d Debevec) Calibrate(ctx context.Context, imgs []image.Image, times []float64) (radiance.ResponseCurve, error) {
	curve := radiance.ResponseCurve{}

	if len(imgs) == 0 || len(imgs) != len(times) {
		return curve, fmt.Errorf("%d images with %d exposure times", len(imgs), len(times))
	}
	for _, t := range times {
		if t <= 0 {
			return curve, fmt.Errorf("exposure time %g", t)
		}
	}

	points := SamplePoints(imgs[0].Bounds(), d.Samples)
	samples := make([][][3]uint8, 0, len(points)) // [point][image][channel]
	for _, p := range points {
		s := make([][3]uint8, len(imgs))
		for j, img := range imgs {
			s[j] = pixelValues(img, p)
		}
		samples = append(samples, s)
	}

	for ch := 0; ch < 3; ch++ {
		if err := ctx.Err(); err != nil {
			return curve, err
		}
		g, err := d.solveChannel(samples, times, ch)
		if err != nil {
			return curve, fmt.Errorf("channel %d: %w", ch, err)
		}
		curve[ch] = g
	}

	klog.V(1).Infof("response curve from %d samples x %d images:\n%s", len(points), len(imgs), curve)
	return curve, nil
}

func (d Debevec) solveChannel(samples [][][3]uint8, times []float64, ch int) ([256]float64, error) {
	g := [256]float64{}

	// A sample that is clipped in every image carries no information, and
	// would leave its ln(E) column empty.
	useful := [][][3]uint8{}
	for _, s := range samples {
		for _, v := range s {
			if radiance.Weight(v[ch]) > 0 {
				useful = append(useful, s)
				break
			}
		}
	}

	n := 256
	nSamples := len(useful)
	nRows := nSamples*len(times) + 1 + (n - 2)
	nCols := n + nSamples

	A := mat.NewDense(nRows, nCols, nil)
	b := mat.NewVecDense(nRows, nil)

	k := 0
	for i, s := range useful {
		for j := range times {
			z := s[j][ch]
			w := radiance.Weight(z)
			A.Set(k, int(z), w)
			A.Set(k, n+i, -w)
			b.SetVec(k, w*math.Log(times[j]))
			k++
		}
	}

	// Fix the curve by setting its middle value to 0
	A.Set(k, radiance.ZMid, 1)
	k++

	for z := 1; z < n-1; z++ {
		w := radiance.Weight(uint8(z))
		A.Set(k, z-1, d.Lambda*w)
		A.Set(k, z, -2*d.Lambda*w)
		A.Set(k, z+1, d.Lambda*w)
		k++
	}

	x := mat.NewVecDense(nCols, nil)
	if err := x.SolveVec(A, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return g, err
		}
		klog.Warningf("response curve solve is ill-conditioned (%v)", err)
	}

	for z := 0; z < n; z++ {
		g[z] = x.AtVec(z)
	}
	return g, nil
}
