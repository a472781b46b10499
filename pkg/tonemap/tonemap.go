// Package tonemap squeezes a radiance image into an 8 bit preview.
package tonemap

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/tmo"
	"github.com/nfnt/resize"
	"k8s.io/klog/v2"

	"github.com/abworrall/hdrmerge/pkg/emath"
)

var (
	Tonemappers = []string{"drago03", "durand", "icam06", "linear", "reinhard05"}
)

func ListTonemappers() string {
	return fmt.Sprintf("%v", Tonemappers)
}

// Params are the knobs of the operators; each operator reads the ones it
// understands.
type Params struct {
	Gamma       float64 `yaml:"gamma"`        // display gamma, applied as v^(1/Gamma)
	Brightness  float64 `yaml:"brightness"`   // reinhard05
	Chromatic   float64 `yaml:"chromatic"`    // reinhard05, [0,1]
	Light       float64 `yaml:"light"`        // reinhard05, [0,1]
	Bias        float64 `yaml:"bias"`         // drago03
	Contrast    float64 `yaml:"contrast"`     // icam06
	GammaExpand bool    `yaml:"gamma_expand"` // also apply the sRGB transfer curve
	Width       int     `yaml:"width"`        // resize the preview to this width; 0 keeps the size
}

func DefaultParams() Params {
	return Params{
		Gamma:     1.5,
		Chromatic: 0.0,
		Light:     1.0,
		Bias:      0.85,
		Contrast:  0.7,
	}
}

// An Operator is a named tone mapping operator plus its parameters.
type Operator struct {
	Name   string
	Params Params
}

func New(name string, p Params) (Operator, error) {
	if name == "" {
		name = "reinhard05"
	}
	for _, n := range Tonemappers {
		if n == name {
			return Operator{Name: name, Params: p}, nil
		}
	}
	return Operator{}, fmt.Errorf("ToneMapper '%s' not recognized, wanted %s", name, ListTonemappers())
}

// SetupTonemapper builds the library's operator for img.
func (o Operator) SetupTonemapper(img hdr.Image) tmo.ToneMappingOperator {
	switch o.Name {
	case "drago03":
		op := tmo.NewDefaultDrago03(img)
		op.Bias = o.Params.Bias
		return op

	case "durand":
		return tmo.NewDefaultDurand(img)

	case "icam06":
		op := tmo.NewDefaultICam06(img)
		op.Contrast = o.Params.Contrast
		return op

	case "linear":
		return tmo.NewLinear(img)
	}

	op := tmo.NewDefaultReinhard05(img)
	op.Brightness = o.Params.Brightness
	op.Chromatic = o.Params.Chromatic
	op.Light = o.Params.Light
	return op
}

// ToneMap runs the operator, then normalises to [0,1], applies the display
// gamma, and scales into 8 bits. Every output value is within [0,255].
func (o Operator) ToneMap(ctx context.Context, img hdr.Image) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("tonemap: empty image")
	}

	klog.Infof("Tonemapping: %s", o.Name)
	ldr := o.SetupTonemapper(img).Perform()
	if ldr == nil {
		return nil, fmt.Errorf("tonemap %s: no output", o.Name)
	}

	out := o.finish(ldr)

	if w := o.Params.Width; w > 0 && w < out.Bounds().Dx() {
		out = toRGBA(resize.Resize(uint(w), 0, out, resize.Lanczos3))
	}
	return out, nil
}

// finish does the per-pixel work after the operator.
func (o Operator) finish(ldr image.Image) *image.RGBA {
	b := ldr.Bounds()

	max := 0.0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := ldr.At(x, y).RGBA()
			max = math.Max(max, float64(r))
			max = math.Max(max, math.Max(float64(g), float64(bl)))
		}
	}
	if max <= 0 {
		max = 1
	}

	gamma := o.Params.Gamma
	if gamma <= 0 {
		gamma = 1
	}

	px := func(v uint32) uint8 {
		f := emath.Clamp01(float64(v) / max)
		f = math.Pow(f, 1/gamma)
		if o.Params.GammaExpand {
			f = emath.GammaExpand_F64(f)
		}
		return uint8(emath.Clamp01(f)*255 + 0.5)
	}

	out := image.NewRGBA(image.Rectangle{Max: b.Size()})
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := ldr.At(x, y).RGBA()
			out.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{px(r), px(g), px(bl), 0xFF})
		}
	}
	return out
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rectangle{Max: b.Size()})
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
