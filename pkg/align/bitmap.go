package align

import (
	"image"

	"github.com/codahale/hdrhistogram"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/abworrall/hdrmerge/pkg/emath"
)

// GreyGrid converts an image into 8 bit grey levels, using Ward's
// weighting of the sRGB channels.
func GreyGrid(img image.Image) emath.FloatGrid {
	b := img.Bounds()
	g := emath.NewFloatGrid(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c, _ := colorful.MakeColor(img.At(x, y))
			grey := (54*c.R + 183*c.G + 19*c.B) / 256.0
			g.Set(x-b.Min.X, y-b.Min.Y, grey*255.0)
		}
	}
	return g
}

// Median finds the median grey level, to the nearest integer.
func Median(g *emath.FloatGrid) int {
	h := hdrhistogram.New(0, 255, 3)
	for _, v := range g.Values() {
		h.RecordValue(int64(v + 0.5))
	}
	return int(h.ValueAtQuantile(50))
}

// A bitmap is a 1 bit per pixel image.
type bitmap struct {
	w, h int
	bits []bool
}

func newBitmap(w, h int) bitmap { return bitmap{w: w, h: h, bits: make([]bool, w*h)} }

// thresholdBitmaps returns the median threshold bitmap (pixels brighter
// than the median) and the exclusion bitmap (pixels far enough from the
// median that noise won't flip them).
func thresholdBitmaps(g *emath.FloatGrid, exclude int) (bitmap, bitmap) {
	median := float64(Median(g))
	tb := newBitmap(g.Dx(), g.Dy())
	eb := newBitmap(g.Dx(), g.Dy())
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			v := g.Get(x, y)
			tb.bits[y*tb.w+x] = v > median
			eb.bits[y*eb.w+x] = v < median-float64(exclude) || v > median+float64(exclude)
		}
	}
	return tb, eb
}

// diffBits compares ref with cand sampled at an offset of -dx,-dy, over
// the pixels where the two overlap. diff counts disagreements among pixels
// that neither exclusion bitmap masks out; raw counts every disagreement.
// Smooth images often leave diff at zero for a few neighbouring shifts, and
// raw separates those.
func diffBits(refTB, refEB, candTB, candEB bitmap, dx, dy int) (diff, raw, overlap int) {
	for y := 0; y < refTB.h; y++ {
		cy := y - dy
		if cy < 0 || cy >= candTB.h {
			continue
		}
		for x := 0; x < refTB.w; x++ {
			cx := x - dx
			if cx < 0 || cx >= candTB.w {
				continue
			}
			overlap++

			i, j := y*refTB.w+x, cy*candTB.w+cx
			if refTB.bits[i] == candTB.bits[j] {
				continue
			}
			raw++
			if refEB.bits[i] && candEB.bits[j] {
				diff++
			}
		}
	}
	return diff, raw, overlap
}
