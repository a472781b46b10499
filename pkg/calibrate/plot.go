package calibrate

import (
	"fmt"
	"math"

	"github.com/fogleman/gg"

	"github.com/abworrall/hdrmerge/pkg/radiance"
)

// PlotResponse draws the three channel curves, pixel value along the
// bottom and ln(exposure) up the side, and saves it as a PNG.
func PlotResponse(curve radiance.ResponseCurve, filename string) error {
	const (
		w, h   = 640, 480
		margin = 40.0
	)

	min, max := math.MaxFloat64, -math.MaxFloat64
	for ch := 0; ch < 3; ch++ {
		for _, v := range curve[ch] {
			min = math.Min(min, v)
			max = math.Max(max, v)
		}
	}
	if max <= min {
		max = min + 1
	}

	toX := func(z int) float64 { return margin + float64(z)*(w-2*margin)/255.0 }
	toY := func(g float64) float64 { return h - margin - (g-min)*(h-2*margin)/(max-min) }

	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	// Axes, and the g=0 line
	dc.SetRGB(0.3, 0.3, 0.3)
	dc.SetLineWidth(1)
	dc.MoveTo(margin, margin)
	dc.LineTo(margin, h-margin)
	dc.LineTo(w-margin, h-margin)
	dc.Stroke()
	if min < 0 && max > 0 {
		dc.SetRGB(0.8, 0.8, 0.8)
		dc.MoveTo(margin, toY(0))
		dc.LineTo(w-margin, toY(0))
		dc.Stroke()
	}

	colors := [3][3]float64{{0.85, 0.1, 0.1}, {0.1, 0.65, 0.1}, {0.1, 0.1, 0.85}}
	for ch := 0; ch < 3; ch++ {
		dc.SetRGB(colors[ch][0], colors[ch][1], colors[ch][2])
		dc.SetLineWidth(2)
		dc.MoveTo(toX(0), toY(curve[ch][0]))
		for z := 1; z < 256; z++ {
			dc.LineTo(toX(z), toY(curve[ch][z]))
		}
		dc.Stroke()
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawString("pixel value", w/2-30, h-10)
	dc.DrawString(fmt.Sprintf("ln E [%.2f, %.2f]", min, max), margin+5, margin-10)

	if err := dc.SavePNG(filename); err != nil {
		return fmt.Errorf("PlotResponse, '%s': %w", filename, err)
	}
	return nil
}
