package align

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"     // replace by "image/draw" at some point
	"golang.org/x/image/math/f64" // replace by "image/math/f64" at some point

	"github.com/abworrall/hdrmerge/pkg/emath"
)

// An AlignmentTransform maps a pixel location in one exposure to the
// pixel location in the reference exposure that saw the same point of
// the scene.
type AlignmentTransform struct {
	Name string

	TranslateByX float64
	TranslateByY float64

	ErrorMetric float64
}

func (xform AlignmentTransform) String() string {
	str := fmt.Sprintf("Align[%s (%6.2f,%6.2f)", xform.Name, xform.TranslateByX, xform.TranslateByY)
	if xform.ErrorMetric != 0.0 {
		str += fmt.Sprintf(", err:%.4f", xform.ErrorMetric)
	}
	return str + "]"
}

func (xform AlignmentTransform) IsIdentity() bool {
	return xform.TranslateByX == 0 && xform.TranslateByY == 0
}

func (xform AlignmentTransform) ToMatrix() emath.Aff3 {
	return emath.Identity().Translate(xform.TranslateByX, xform.TranslateByY)
}

// XFormImage returns a shifted copy of src, the same size. Pixels that
// shift in from outside the frame are black.
func (xform AlignmentTransform) XFormImage(src image.Image) image.Image {
	if xform.IsIdentity() {
		return src
	}
	dst := image.NewRGBA64(src.Bounds())
	draw.CatmullRom.Transform(dst, f64.Aff3(xform.ToMatrix()), src, src.Bounds(), draw.Src, nil)
	return dst
}
