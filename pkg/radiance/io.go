package radiance

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/codec/rgbe"
	"k8s.io/klog/v2"
)

// WriteHDR outputs a Radiance RGBE (.hdr) file. You can load this into
// photoshop or other HDR tools.
func WriteHDR(img hdr.Image, filename string) error {
	writer, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("WriteHDR, open+w '%s': %w", filename, err)
	}

	if err := rgbe.Encode(writer, img); err != nil {
		writer.Close()
		return fmt.Errorf("WriteHDR, encoding RGBE file '%s': %w", filename, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("WriteHDR, close '%s': %w", filename, err)
	}

	klog.V(1).Infof("wrote %s (%s)", filename, img.Bounds())
	return nil
}

// ReadHDR loads a Radiance RGBE file written by WriteHDR (or anything else).
func ReadHDR(filename string) (*Image, error) {
	reader, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("ReadHDR, open+r '%s': %w", filename, err)
	}
	defer reader.Close()

	// The rgbe package registers itself with image.Decode.
	m, format, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("ReadHDR, decode '%s': %w", filename, err)
	}
	hm, ok := m.(hdr.Image)
	if !ok {
		return nil, fmt.Errorf("ReadHDR, '%s' is %s, not a HDR image", filename, format)
	}
	return FromHDR(hm), nil
}

// PreviewEncoder picks an encoder from the filename's extension; anything
// that isn't .png or .bmp is written as JPEG.
func PreviewEncoder(filename string, quality int) imgio.Encoder {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return imgio.PNGEncoder()
	case ".bmp":
		return imgio.BMPEncoder()
	}
	if quality < 1 || quality > 100 {
		quality = 95
	}
	return imgio.JPEGEncoder(quality)
}

// WritePreview saves an 8 bit preview image.
func WritePreview(img image.Image, filename string, quality int) error {
	if err := imgio.Save(filename, img, PreviewEncoder(filename, quality)); err != nil {
		return fmt.Errorf("WritePreview, '%s': %w", filename, err)
	}
	klog.V(1).Infof("wrote %s (%s)", filename, img.Bounds())
	return nil
}
