// Package radiance holds the fused HDR image, the camera response curve
// it was recovered with, and the code that reads and writes them.
package radiance

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/hdrcolor"
)

// Image is a linear, floating point RGB image of scene radiance (arbitrary
// units). Implements image.Image and hdr.Image, so it can go straight to
// the RGBE encoder and the tone mapping operators.
type Image struct {
	Rect image.Rectangle
	Pix  []float32 // R,G,B per pixel, rows top to bottom
}

var _ hdr.Image = (*Image)(nil)

func NewImage(r image.Rectangle) *Image {
	return &Image{
		Rect: r,
		Pix:  make([]float32, 3*r.Dx()*r.Dy()),
	}
}

// FromHDR copies any hdr.Image into an Image.
func FromHDR(src hdr.Image) *Image {
	b := src.Bounds()
	img := NewImage(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.HDRAt(x, y).HDRRGBA()
			img.Set(x, y, r, g, bl)
		}
	}
	return img
}

func (img *Image) offset(x, y int) int {
	return 3 * ((y-img.Rect.Min.Y)*img.Rect.Dx() + (x - img.Rect.Min.X))
}

func (img *Image) Set(x, y int, r, g, b float64) {
	if !(image.Point{x, y}.In(img.Rect)) {
		return
	}
	i := img.offset(x, y)
	img.Pix[i+0] = float32(r)
	img.Pix[i+1] = float32(g)
	img.Pix[i+2] = float32(b)
}

func (img *Image) RGB(x, y int) (float64, float64, float64) {
	if !(image.Point{x, y}.In(img.Rect)) {
		return 0, 0, 0
	}
	i := img.offset(x, y)
	return float64(img.Pix[i+0]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
}

// Luminance is the Rec.709 weighted sum of the channels.
func (img *Image) Luminance(x, y int) float64 {
	r, g, b := img.RGB(x, y)
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// MinMax returns the smallest and largest channel values in the image.
func (img *Image) MinMax() (float64, float64) {
	if len(img.Pix) == 0 {
		return 0, 0
	}
	min, max := math.MaxFloat64, -math.MaxFloat64
	for _, v := range img.Pix {
		f := float64(v)
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
	}
	return min, max
}

// Implement image.Image
func (img *Image) ColorModel() color.Model { return hdrcolor.RGBModel }
func (img *Image) Bounds() image.Rectangle { return img.Rect }
func (img *Image) At(x, y int) color.Color { return img.HDRAt(x, y) }

// Implement hdr.Image
func (img *Image) Size() int { return img.Rect.Dx() * img.Rect.Dy() }
func (img *Image) HDRAt(x, y int) hdrcolor.Color {
	r, g, b := img.RGB(x, y)
	return hdrcolor.RGB{R: r, G: g, B: b}
}

func (img *Image) String() string {
	min, max := img.MinMax()
	return fmt.Sprintf("radiance.Image%v [%g, %g]", img.Rect, min, max)
}
