// Package bracket renders synthetic exposure brackets: a fixed high dynamic
// range scene, photographed at a list of shutter speeds through a known
// camera response, saved as EXIF-tagged JPEGs.
package bracket

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/abworrall/hdrmerge/pkg/exposure"
	"github.com/abworrall/hdrmerge/pkg/radiance"
)

// DefaultTimes is the classic three shot bracket: 1/1000, 1/250, 1/60.
var DefaultTimes = []exposure.Rational{{1, 1000}, {1, 250}, {1, 60}}

// A SceneFunc gives the radiance at pixel (x,y) of a w*h frame. It must
// accept coordinates outside the frame.
type SceneFunc func(x, y, w, h int) (float64, float64, float64)

type Options struct {
	Width, Height int
	Gamma         float64   // sensor response is (E·Δt)^(1/Gamma)
	Quality       int       // JPEG quality
	Subject       SceneFunc // nil means Radiance

	// Shift is where the scene's origin lands in the frame. Write treats it
	// as camera drift between consecutive frames instead: frame i of n is
	// offset by (i - n/2)·Shift, so the middle frame stays put.
	Shift image.Point
}

func DefaultOptions() Options {
	return Options{Width: 192, Height: 128, Gamma: 2.2, Quality: 95}
}

// Radiance is the scene: a dim, coloured foreground, a sky that brightens
// towards the top, and a very bright sun. Values span about 1 to 3000.
func Radiance(x, y, w, h int) (float64, float64, float64) {
	fx, fy := float64(x)/float64(w), float64(y)/float64(h)

	// sky, brighter near the top
	sky := 20 + 300*(1-fy)*(1-fy)
	r, g, b := 0.7*sky, 0.85*sky, sky

	// sun
	if d := math.Hypot(fx-0.75, fy-0.2); d < 0.08 {
		r, g, b = 3000, 2800, 2400
	} else if d < 0.16 {
		glow := 600 * (0.16 - d) / 0.08
		r, g, b = r+glow, g+glow*0.9, b+glow*0.7
	}

	// ground, in coloured bands
	if fy > 0.6 {
		base := 1 + 40*(1-fy)*math.Abs(math.Sin(fx*9))
		switch int(fx*4) % 3 {
		case 0:
			r, g, b = base*2, base, base*0.5
		case 1:
			r, g, b = base*0.6, base*1.8, base*0.7
		default:
			r, g, b = base, base, base*1.6
		}
	}

	return r, g, b
}

// tileHash scrambles tile coordinates into 32 bits.
func tileHash(tx, ty int) uint32 {
	h := uint32(tx)*73856093 ^ uint32(ty)*19349663
	h ^= h >> 13
	h *= 0x5bd1e995
	h ^= h >> 15
	return h
}

// Blocks is a scene with plenty of sharp edges, for exercising alignment:
// a strip of sky over a wall of 12 tiles across, each lit at a random
// level between 2 and 80 and tinted slightly. Fewer than half its pixels
// clip at 1/60s, so each frame of DefaultTimes has a usable median.
func Blocks(x, y, w, h int) (float64, float64, float64) {
	fx, fy := float64(x)/float64(w), float64(y)/float64(h)
	if fy < 0.3 {
		sky := 100 + 400*(0.3-fy)/0.3
		return 0.7 * sky, 0.85 * sky, sky
	}

	tx, ty := int(math.Floor(fx*12)), int(math.Floor((fy-0.3)*10))
	hash := tileHash(tx, ty)
	lum := 2 * math.Pow(40, float64(hash%1024)/1024)

	r, g, b := lum, lum, lum
	switch (hash >> 10) % 3 {
	case 0:
		r *= 1.2
	case 1:
		g *= 1.1
	default:
		b *= 1.25
	}
	return r, g, b
}

func (opts Options) subject() SceneFunc {
	if opts.Subject == nil {
		return Radiance
	}
	return opts.Subject
}

// Scene renders the subject into a radiance.Image.
func Scene(opts Options) *radiance.Image {
	subject := opts.subject()
	img := radiance.NewImage(image.Rect(0, 0, opts.Width, opts.Height))
	for y := 0; y < opts.Height; y++ {
		for x := 0; x < opts.Width; x++ {
			r, g, b := subject(x-opts.Shift.X, y-opts.Shift.Y, opts.Width, opts.Height)
			img.Set(x, y, r, g, b)
		}
	}
	return img
}

// Respond maps sensor exposure (E·Δt) to an 8 bit value.
func Respond(e, gamma float64) uint8 {
	if e <= 0 {
		return 0
	}
	v := math.Pow(e, 1/gamma)
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// Expose photographs the scene with shutter speed t seconds.
func Expose(opts Options, t float64) *image.RGBA {
	subject := opts.subject()
	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	for y := 0; y < opts.Height; y++ {
		for x := 0; x < opts.Width; x++ {
			r, g, b := subject(x-opts.Shift.X, y-opts.Shift.Y, opts.Width, opts.Height)
			img.Set(x, y, color.RGBA{
				Respond(r*t, opts.Gamma),
				Respond(g*t, opts.Gamma),
				Respond(b*t, opts.Gamma),
				0xFF,
			})
		}
	}
	return img
}

// Write renders one JPEG per exposure time into dir, named so that they
// sort in the order given. Returns the paths written.
func Write(dir string, times []exposure.Rational, opts Options) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir '%s': %w", dir, err)
	}

	paths := []string{}
	for i, rat := range times {
		t, err := rat.Seconds()
		if err != nil {
			return nil, err
		}

		frame := opts
		frame.Shift = opts.Shift.Mul(i - len(times)/2)

		path := filepath.Join(dir, fmt.Sprintf("bracket-%02d.jpg", i))
		if err := writeOne(path, Expose(frame, t), opts.Quality, rat); err != nil {
			return nil, err
		}
		klog.V(1).Infof("wrote %s (%s)", path, rat)
		paths = append(paths, path)
	}
	return paths, nil
}

func writeOne(path string, img image.Image, quality int, rat exposure.Rational) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open+w '%s': %w", path, err)
	}
	if err := exposure.EncodeJPEG(f, img, quality, rat); err != nil {
		f.Close()
		return fmt.Errorf("encode '%s': %w", path, err)
	}
	return f.Close()
}
