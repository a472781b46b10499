package align

import (
	"context"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/abworrall/hdrmerge/pkg/bracket"
)

// texture is smooth but not periodic over the test image.
func texture(x, y float64) float64 {
	v := 128.0
	v += 50 * math.Sin(2*math.Pi*x/71+0.3) * math.Sin(2*math.Pi*y/59)
	v += 35 * math.Sin(2*math.Pi*(x+2*y)/113)
	v += 20 * math.Cos(2*math.Pi*(x-y)/89)
	return math.Max(0, math.Min(255, v))
}

// scene renders the texture with its origin moved to (ox,oy), and
// scaled by gain to mimic a different exposure.
func scene(w, h, ox, oy int, gain float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := math.Min(255, texture(float64(x-ox), float64(y-oy))*gain)
			img.Set(x, y, color.RGBA{uint8(v), uint8(v), uint8(v), 0xFF})
		}
	}
	return img
}

func TestCalculateShiftRecoversTranslation(t *testing.T) {
	tests := []struct {
		name   string
		ox, oy int
	}{
		{"none", 0, 0},
		{"right-up", 3, -2},
		{"left", -5, 0},
		{"diagonal", 6, 7},
	}

	m := NewMTB()
	m.MaxBits = 4
	ref := scene(160, 128, 0, 0, 1.0)
	refPyr := m.pyramid(ref, 0)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cand := scene(160, 128, tc.ox, tc.oy, 0.8)
			xform := m.CalculateShift(refPyr, m.pyramid(cand, 1))

			// cand(x,y) = ref(x-ox, y-oy), so it needs moving by -ox,-oy
			if xform.TranslateByX != float64(-tc.ox) || xform.TranslateByY != float64(-tc.oy) {
				t.Errorf("got %s, want (%d,%d)", xform, -tc.ox, -tc.oy)
			}
		})
	}
}

func TestAlignKeepsOrderAndReference(t *testing.T) {
	imgs := []image.Image{
		scene(96, 96, 2, 1, 1.4),
		scene(96, 96, 0, 0, 1.0),
		scene(96, 96, -1, 3, 0.6),
	}

	out, err := NewMTB().Align(context.Background(), imgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(imgs) {
		t.Fatalf("got %d images back, want %d", len(out), len(imgs))
	}
	if out[1] != imgs[1] {
		t.Error("reference image was replaced")
	}

	// Away from the borders the aligned image should match the reference
	// scene exposed at its own gain.
	want := scene(96, 96, 0, 0, 1.4)
	for y := 10; y < 86; y++ {
		for x := 10; x < 86; x++ {
			r1, _, _, _ := out[0].At(x, y).RGBA()
			r2, _, _, _ := want.At(x, y).RGBA()
			if d := int(r1>>8) - int(r2>>8); d > 1 || d < -1 {
				t.Fatalf("(%d,%d): aligned %d, want %d", x, y, r1>>8, r2>>8)
			}
		}
	}
}

// A bracket of very different exposures, with the camera drifting between
// frames, lines up exactly on the middle frame.
func TestShiftsUndoCameraDrift(t *testing.T) {
	drifts := []image.Point{{0, 0}, {2, -1}, {3, 1}, {-2, 2}, {1, 0}, {5, 3}, {-4, -3}}
	times := []float64{1.0 / 1000, 1.0 / 250, 1.0 / 60}

	for _, drift := range drifts {
		t.Run(drift.String(), func(t *testing.T) {
			opts := bracket.DefaultOptions()
			opts.Width, opts.Height = 96, 64
			opts.Subject = bracket.Blocks

			imgs := []image.Image{}
			for i, tm := range times {
				frame := opts
				frame.Shift = drift.Mul(i - 1)
				imgs = append(imgs, bracket.Expose(frame, tm))
			}

			xforms, err := NewMTB().Shifts(context.Background(), imgs)
			if err != nil {
				t.Fatal(err)
			}
			for i, xform := range xforms {
				want := drift.Mul(1 - i)
				if xform.TranslateByX != float64(want.X) || xform.TranslateByY != float64(want.Y) {
					t.Errorf("image %d: got %s, want %v", i, xform, want)
				}
			}
		})
	}
}

func TestDebugDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mtb")
	m := NewMTB()
	m.DebugDir = dir
	imgs := []image.Image{scene(64, 64, 1, 0, 0.8), scene(64, 64, 0, 0, 1)}
	if _, err := m.Align(context.Background(), imgs); err != nil {
		t.Fatal(err)
	}

	// 64 -> 32 -> 16 -> 8 gives four levels for each image.
	for _, name := range []string{"img00-mtb-0.png", "img00-mtb-3.png", "img01-mtb-0.png", "img01-mtb-3.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Error(err)
		}
	}
}

// Steps of 20, 120 and 220 across the image. The median is 120, so the
// middle step is excluded and a two pixel shift of the 120/220 edge costs
// nothing outside the exclusion band.
func TestScoreBreaksTiesOnRawDisagreement(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 32; x++ {
			v := uint8(20)
			if x >= 20 {
				v = 220
			} else if x >= 12 {
				v = 120
			}
			img.Set(x, y, color.RGBA{v, v, v, 0xFF})
		}
	}
	grey := GreyGrid(img)
	tb, eb := thresholdBitmaps(&grey, 4)

	diff, raw, overlap := diffBits(tb, eb, tb, eb, 0, 0)
	if diff != 0 || raw != 0 || overlap != 32*8 {
		t.Errorf("no shift: diff %d raw %d overlap %d", diff, raw, overlap)
	}
	diff, raw, overlap = diffBits(tb, eb, tb, eb, 2, 0)
	if diff != 0 || raw != 2*8 || overlap != 30*8 {
		t.Errorf("shift by 2: diff %d raw %d overlap %d", diff, raw, overlap)
	}

	// The wrong shift is listed first, so only the raw count can save us.
	xforms := []AlignmentTransform{{TranslateByX: 2}, {}}
	if got := NewMTB().scoreXFormsConcurrently(tb, eb, tb, eb, xforms); !got.IsIdentity() {
		t.Errorf("picked %s, want no shift", got)
	}
}

func TestAlignErrors(t *testing.T) {
	imgs := []image.Image{scene(32, 32, 0, 0, 1), scene(40, 32, 0, 0, 1)}
	if _, err := NewMTB().Align(context.Background(), imgs); err == nil {
		t.Error("expected an error for mismatched sizes")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	imgs = []image.Image{scene(32, 32, 0, 0, 1), scene(32, 32, 1, 0, 1)}
	if _, err := NewMTB().Align(ctx, imgs); err == nil {
		t.Error("expected an error from a cancelled context")
	}

	one := []image.Image{scene(16, 16, 0, 0, 1)}
	if out, err := NewMTB().Align(context.Background(), one); err != nil || len(out) != 1 {
		t.Errorf("single image: %v, %d", err, len(out))
	}
}

func TestMedian(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 5, 1))
	for x, v := range []uint8{10, 200, 50, 90, 255} {
		img.Set(x, 0, color.RGBA{v, v, v, 0xFF})
	}
	g := GreyGrid(img)
	if got := Median(&g); got < 89 || got > 91 {
		t.Errorf("Median = %d, want ~90", got)
	}
}
