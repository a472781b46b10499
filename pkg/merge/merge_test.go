package merge

import (
	"context"
	"image"
	"math"
	"testing"

	"github.com/abworrall/hdrmerge/pkg/bracket"
	"github.com/abworrall/hdrmerge/pkg/radiance"
)

// gammaCurve is the exact inverse of bracket.Respond.
func gammaCurve(gamma float64) radiance.ResponseCurve {
	c := radiance.ResponseCurve{}
	for ch := 0; ch < 3; ch++ {
		for z := 0; z < 256; z++ {
			c[ch][z] = gamma * math.Log(math.Max(float64(z), 0.5)/255)
		}
	}
	return c
}

func TestDebevecMatchesScene(t *testing.T) {
	opts := bracket.DefaultOptions()
	times := []float64{1.0 / 1000, 1.0 / 250, 1.0 / 60}
	imgs := []image.Image{}
	for _, tm := range times {
		imgs = append(imgs, bracket.Expose(opts, tm))
	}

	fuser, err := NewFuser("debevec", 0)
	if err != nil {
		t.Fatal(err)
	}
	fuser.Workers = 3
	out, err := fuser.Merge(context.Background(), imgs, times, gammaCurve(opts.Gamma))
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds().Dx() != opts.Width || out.Bounds().Dy() != opts.Height {
		t.Fatalf("bounds %v", out.Bounds())
	}

	checked := 0
	for y := 0; y < opts.Height; y++ {
		for x := 0; x < opts.Width; x++ {
			want, _, _ := bracket.Radiance(x, y, opts.Width, opts.Height)

			// Only pixels that at least one exposure caught well.
			usable := false
			for _, img := range imgs {
				if z := img.(*image.RGBA).RGBAAt(x, y).R; z >= 20 && z <= 235 {
					usable = true
				}
			}
			if !usable {
				continue
			}

			got, _, _ := out.RGB(x, y)
			if math.Abs(got-want)/want > 0.2 {
				t.Fatalf("(%d,%d): radiance %g, scene %g", x, y, got, want)
			}
			checked++
		}
	}
	if checked < opts.Width*opts.Height/2 {
		t.Errorf("only %d pixels were checkable", checked)
	}
}

func TestFuseByDebevecAllClipped(t *testing.T) {
	curve := gammaCurve(2.2)
	times := []float64{0.01, 0.001, 0.1}

	r, _, _ := FuseByDebevec([][3]uint8{{255, 0, 0}, {255, 0, 0}, {255, 0, 0}}, times, &curve)
	if want := 1 / 0.001; math.Abs(r-want) > 1e-6*want {
		t.Errorf("saturated: %g, want %g (shortest exposure)", r, want)
	}

	_, g, _ := FuseByDebevec([][3]uint8{{255, 0, 0}, {255, 0, 0}, {255, 0, 0}}, times, &curve)
	if want := math.Exp(curve[1][0]) / 0.1; math.Abs(g-want) > 1e-6*want {
		t.Errorf("black: %g, want %g (longest exposure)", g, want)
	}
}

func TestFuseByPickMostExposed(t *testing.T) {
	curve := gammaCurve(2.2)
	times := []float64{1.0 / 250, 1.0 / 60}
	in := [][3]uint8{{100, 100, 100}, {250, 250, 250}}

	fuser, err := NewFuser("mostexposed", 0.8)
	if err != nil {
		t.Fatal(err)
	}

	r, g, b := fuser.Pixel(in, times, &curve)
	want := math.Exp(curve[0][100]) * 250
	for _, v := range []float64{r, g, b} {
		if math.Abs(v-want) > 1e-6*want {
			t.Errorf("got %g, want %g (from the 1/250 exposure)", v, want)
		}
	}

	// Nothing overexposed: use the longest exposure.
	in = [][3]uint8{{40, 40, 40}, {120, 120, 120}}
	r, _, _ = fuser.Pixel(in, times, &curve)
	if want := math.Exp(curve[0][120]) * 60; math.Abs(r-want) > 1e-6*want {
		t.Errorf("got %g, want %g (from the 1/60 exposure)", r, want)
	}
}

func TestMergeErrors(t *testing.T) {
	fuser, _ := NewFuser("", 0)
	a := image.NewRGBA(image.Rect(0, 0, 4, 4))
	b := image.NewRGBA(image.Rect(0, 0, 5, 4))

	if _, err := fuser.Merge(context.Background(), []image.Image{a, b}, []float64{1, 2}, radiance.LinearCurve()); err == nil {
		t.Error("expected an error for mismatched sizes")
	}
	if _, err := fuser.Merge(context.Background(), []image.Image{a}, []float64{1, 2}, radiance.LinearCurve()); err == nil {
		t.Error("expected an error for mismatched lengths")
	}
	if _, err := NewFuser("median", 0); err == nil {
		t.Error("expected an error for an unknown fuser")
	}
}

func TestSummarize(t *testing.T) {
	img := radiance.NewImage(image.Rect(0, 0, 10, 10))
	for i := 0; i < 100; i++ {
		v := float64(i + 1)
		img.Set(i%10, i/10, v, v, v)
	}
	s := Summarize(img)
	if math.Abs(s.Min-1) > 1e-6 || math.Abs(s.Max-100) > 1e-6 {
		t.Errorf("min/max %v", s)
	}
	if math.Abs(s.Mean-50.5) > 1e-4 {
		t.Errorf("mean %v", s)
	}
	if s.Median < 50 || s.Median > 51 {
		t.Errorf("median %v", s)
	}
}
