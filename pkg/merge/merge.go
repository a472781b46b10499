// Package merge fuses a stack of aligned exposures into one radiance
// image, given the camera's response curve.
package merge

import (
	"context"
	"fmt"
	"image"
	"math"
	"runtime"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"github.com/abworrall/hdrmerge/pkg/radiance"
)

// A PixelFunc computes the radiance of one pixel from its 8 bit values in
// each exposure. in[i] and times[i] belong to the same exposure.
type PixelFunc func(in [][3]uint8, times []float64, curve *radiance.ResponseCurve) (r, g, b float64)

// A Fuser runs a PixelFunc over every pixel.
type Fuser struct {
	Name    string
	Pixel   PixelFunc
	Workers int // goroutines, each taking a band of rows; <1 means GOMAXPROCS
}

var Fusers = []string{"debevec", "mostexposed"}

// NewFuser looks up a fusion strategy by name. maxY is the luminance above
// which "mostexposed" considers a pixel overexposed.
func NewFuser(name string, maxY float64) (Fuser, error) {
	switch name {
	case "", "debevec":
		return Fuser{Name: "debevec", Pixel: FuseByDebevec}, nil
	case "mostexposed":
		return Fuser{Name: name, Pixel: FuseByPickMostExposed(maxY)}, nil
	}
	return Fuser{}, fmt.Errorf("no Fuser strategy named '%s', wanted %v", name, Fusers)
}

// ldr is an image flattened to 8 bit R,G,B.
type ldr struct {
	rect image.Rectangle
	pix  [][3]uint8
}

func toLDR(img image.Image) ldr {
	b := img.Bounds()
	l := ldr{rect: b, pix: make([][3]uint8, b.Dx()*b.Dy())}
	if rgba, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				o := rgba.PixOffset(x, y)
				l.pix[(y-b.Min.Y)*b.Dx()+(x-b.Min.X)] = [3]uint8{rgba.Pix[o], rgba.Pix[o+1], rgba.Pix[o+2]}
			}
		}
		return l
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			l.pix[(y-b.Min.Y)*b.Dx()+(x-b.Min.X)] = [3]uint8{uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8)}
		}
	}
	return l
}

// Merge fuses the exposures. All images must be the same size.
func (f Fuser) Merge(ctx context.Context, imgs []image.Image, times []float64, curve radiance.ResponseCurve) (*radiance.Image, error) {
	if len(imgs) == 0 || len(imgs) != len(times) {
		return nil, fmt.Errorf("%d images with %d exposure times", len(imgs), len(times))
	}

	size := imgs[0].Bounds().Size()
	layers := make([]ldr, len(imgs))
	for i, img := range imgs {
		if img.Bounds().Size() != size {
			return nil, fmt.Errorf("image %d is %v, image 0 is %v", i, img.Bounds().Size(), size)
		}
		layers[i] = toLDR(img)
	}

	klog.Infof("Fusing %d exposures (%s) over %v", len(imgs), f.Name, size)
	out := radiance.NewImage(image.Rectangle{Max: size})

	workers := f.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	rowsPer := (size.Y + workers - 1) / workers

	eg, ctx := errgroup.WithContext(ctx)
	for y0 := 0; y0 < size.Y; y0 += rowsPer {
		y0, y1 := y0, y0+rowsPer
		if y1 > size.Y {
			y1 = size.Y
		}
		eg.Go(func() error {
			in := make([][3]uint8, len(layers))
			for y := y0; y < y1; y++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				for x := 0; x < size.X; x++ {
					for i := range layers {
						in[i] = layers[i].pix[y*size.X+x]
					}
					r, g, b := f.Pixel(in, times, &curve)
					out.Set(x, y, r, g, b)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if klog.V(1).Enabled() {
		klog.Infof("radiance: %s", Summarize(out))
	}
	return out, nil
}

// FuseByDebevec is the weighted average of each exposure's estimate of
// ln(E), trusting mid-range values most. If every exposure is clipped at
// a pixel, it uses the one that bounds the radiance most tightly.
func FuseByDebevec(in [][3]uint8, times []float64, curve *radiance.ResponseCurve) (float64, float64, float64) {
	out := [3]float64{}
	for ch := 0; ch < 3; ch++ {
		num, den := 0.0, 0.0
		for i := range in {
			z := in[i][ch]
			w := radiance.Weight(z)
			num += w * (curve[ch][z] - math.Log(times[i]))
			den += w
		}

		if den > 0 {
			out[ch] = math.Exp(num / den)
			continue
		}

		// All clipped: bright pixels are best bounded by the shortest
		// exposure, dark pixels by the longest.
		best := 0
		for i := range in {
			if in[i][ch] >= radiance.ZMid {
				if times[i] < times[best] {
					best = i
				}
			} else if times[i] > times[best] {
				best = i
			}
		}
		z := in[best][ch]
		out[ch] = math.Exp(curve[ch][z] - math.Log(times[best]))
	}
	return out[0], out[1], out[2]
}

// FuseByPickMostExposed looks for the exposure that is most-exposed
// (i.e. has received the most photons and will thus have lowest noise),
// but not over-exposed at this pixel, and takes its radiance.
func FuseByPickMostExposed(maxY float64) PixelFunc {
	return func(in [][3]uint8, times []float64, curve *radiance.ResponseCurve) (float64, float64, float64) {
		// Longest exposures (most photons, least noise) first
		order := make([]int, len(in))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return times[order[a]] > times[order[b]] })

		pick := order[len(order)-1]
		for n, i := range order {
			// If this looks too exposed, and we can move on to another exposure, move on.
			if n < len(order)-1 {
				c := colorful.Color{R: float64(in[i][0]) / 255, G: float64(in[i][1]) / 255, B: float64(in[i][2]) / 255}
				if _, Y, _ := c.Xyz(); Y > maxY {
					continue
				}
			}
			pick = i
			break
		}

		lnT := math.Log(times[pick])
		return math.Exp(curve[0][in[pick][0]] - lnT),
			math.Exp(curve[1][in[pick][1]] - lnT),
			math.Exp(curve[2][in[pick][2]] - lnT)
	}
}

// Stats describes the luminance of a radiance image.
type Stats struct {
	Min, Max, Mean, Median, P99 float64
}

func (s Stats) String() string {
	return fmt.Sprintf("lum{min:%.4g, median:%.4g, mean:%.4g, p99:%.4g, max:%.4g}", s.Min, s.Median, s.Mean, s.P99, s.Max)
}

func Summarize(img *radiance.Image) Stats {
	b := img.Bounds()
	lum := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			lum = append(lum, img.Luminance(x, y))
		}
	}
	if len(lum) == 0 {
		return Stats{}
	}
	sort.Float64s(lum)

	return Stats{
		Min:    lum[0],
		Max:    lum[len(lum)-1],
		Mean:   stat.Mean(lum, nil),
		Median: stat.Quantile(0.5, stat.Empirical, lum, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, lum, nil),
	}
}
