// Package photoset finds and decodes the bracketed photos that make up
// one HDR exposure stack.
package photoset

import (
	"fmt"
	"image"
	"path/filepath"
	"time"
)

// A Photo is one exposure of the scene.
type Photo struct {
	Path         string
	Image        image.Image
	ExposureTime float64 // seconds
}

func (p Photo) Filename() string { return filepath.Base(p.Path) }

func (p Photo) String() string {
	b := image.Rectangle{}
	if p.Image != nil {
		b = p.Image.Bounds()
	}
	return fmt.Sprintf("%s: %v, %s", p.Filename(), time.Duration(p.ExposureTime*float64(time.Second)), b)
}

// A PhotoSet is ordered; entry i's exposure time belongs to entry i's pixels.
type PhotoSet struct {
	Photos []Photo
}

func New(decoded []Decoded) PhotoSet {
	ps := PhotoSet{Photos: make([]Photo, 0, len(decoded))}
	for _, d := range decoded {
		ps.Photos = append(ps.Photos, Photo{Path: d.Path, Image: d.Image})
	}
	return ps
}

func (ps PhotoSet) Len() int { return len(ps.Photos) }

func (ps PhotoSet) Paths() []string {
	ret := make([]string, len(ps.Photos))
	for i, p := range ps.Photos {
		ret[i] = p.Path
	}
	return ret
}

func (ps PhotoSet) Images() []image.Image {
	ret := make([]image.Image, len(ps.Photos))
	for i, p := range ps.Photos {
		ret[i] = p.Image
	}
	return ret
}

func (ps PhotoSet) ExposureTimes() []float64 {
	ret := make([]float64, len(ps.Photos))
	for i, p := range ps.Photos {
		ret[i] = p.ExposureTime
	}
	return ret
}

// SetExposureTimes pairs times[i] with photo i.
func (ps *PhotoSet) SetExposureTimes(times []float64) error {
	if len(times) != len(ps.Photos) {
		return fmt.Errorf("%d exposure times for %d photos", len(times), len(ps.Photos))
	}
	for i := range ps.Photos {
		ps.Photos[i].ExposureTime = times[i]
	}
	return nil
}

// SetImages swaps in new pixel buffers (e.g. after alignment), keeping the order.
func (ps *PhotoSet) SetImages(imgs []image.Image) error {
	if len(imgs) != len(ps.Photos) {
		return fmt.Errorf("%d images for %d photos", len(imgs), len(ps.Photos))
	}
	for i := range ps.Photos {
		ps.Photos[i].Image = imgs[i]
	}
	return nil
}

// Validate checks the set is ready to be fused: every photo has pixels and a
// positive exposure time, and all images are the same size.
func (ps PhotoSet) Validate() error {
	if len(ps.Photos) == 0 {
		return fmt.Errorf("no photos")
	}
	bounds := image.Rectangle{}
	for i, p := range ps.Photos {
		if p.Image == nil {
			return fmt.Errorf("'%s': no image data", p.Path)
		}
		if p.ExposureTime <= 0 {
			return fmt.Errorf("'%s': exposure time %g", p.Path, p.ExposureTime)
		}
		if i == 0 {
			bounds = p.Image.Bounds()
		} else if p.Image.Bounds().Size() != bounds.Size() {
			return fmt.Errorf("'%s': size %v differs from '%s' %v",
				p.Path, p.Image.Bounds().Size(), ps.Photos[0].Path, bounds.Size())
		}
	}
	return nil
}

func (ps PhotoSet) String() string {
	str := fmt.Sprintf("PhotoSet (%d) [\n", len(ps.Photos))
	for _, p := range ps.Photos {
		str += fmt.Sprintf("  %s\n", p)
	}
	return str + "]"
}
