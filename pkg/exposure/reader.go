// Package exposure pulls the exposure time (shutter speed) out of a
// photo's embedded metadata.
package exposure

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
	"k8s.io/klog/v2"
)

// A Reader returns the exposure time, in seconds, of an image file.
type Reader interface {
	ExposureTime(path string) (float64, error)
}

// ExifReader decodes the EXIF block itself, in pure Go.
type ExifReader struct{}

func (ExifReader) ExposureTime(path string) (float64, error) {
	r, err := ExifReader{}.Rational(path)
	if err != nil {
		return 0, err
	}

	secs, err := r.Seconds()
	if err != nil {
		return 0, &MetadataError{Path: path, Field: "ExposureTime", Err: err}
	}

	klog.V(2).Infof("%s: ExposureTime %s (%gs)", path, r, secs)
	return secs, nil
}

// Rational returns the raw ExposureTime tag, without interpreting it.
func (ExifReader) Rational(path string) (Rational, error) {
	reader, err := os.Open(path)
	if err != nil {
		return Rational{}, fmt.Errorf("open+r exif '%s': %w", path, err)
	}
	defer reader.Close()

	ex, err := exif.Decode(reader)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// No APP1 segment anywhere in the file
		return Rational{}, &MetadataError{Path: path, Field: "EXIF", Err: ErrMetadataMissing}
	case strings.Contains(err.Error(), "failed to find exif intro marker"):
		// An APP1 segment that holds something else, usually XMP
		return Rational{}, &MetadataError{Path: path, Field: "EXIF", Err: ErrMetadataMissing}
	case ex != nil && !exif.IsCriticalError(err):
		klog.V(1).Infof("exif parsing '%s', non-critical: %v", path, err)
	default:
		return Rational{}, &MetadataError{Path: path, Field: "EXIF", Err: fmt.Errorf("%w: %v", ErrMetadataMalformed, err)}
	}

	if tag, err := ex.Get(exif.ExposureTime); err != nil {
		if exif.IsTagNotPresentError(err) {
			return Rational{}, &MetadataError{Path: path, Field: "ExposureTime", Err: ErrMetadataMissing}
		}
		return Rational{}, &MetadataError{Path: path, Field: "ExposureTime", Err: fmt.Errorf("%w: %v", ErrMetadataMalformed, err)}
	} else if tag.Count == 0 {
		return Rational{}, &MetadataError{Path: path, Field: "ExposureTime", Err: fmt.Errorf("%w: empty tag", ErrMetadataMalformed)}
	} else if num, denom, err := tag.Rat2(0); err != nil {
		return Rational{}, &MetadataError{Path: path, Field: "ExposureTime", Err: fmt.Errorf("%w: %v", ErrMetadataMalformed, err)}
	} else {
		return Rational{num, denom}, nil
	}
}

// ExiftoolReader asks a long-running exiftool process. It copes with
// more file formats than ExifReader (HEIC, most raw formats), but needs
// the exiftool binary installed.
type ExiftoolReader struct {
	et *exiftool.Exiftool
}

func NewExiftoolReader() (*ExiftoolReader, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	return &ExiftoolReader{et: et}, nil
}

func (r *ExiftoolReader) Close() error { return r.et.Close() }

func (r *ExiftoolReader) ExposureTime(path string) (float64, error) {
	fm := r.et.ExtractMetadata(path)[0]
	if fm.Err != nil {
		return 0, &MetadataError{Path: path, Field: "EXIF", Err: fmt.Errorf("%w: %v", ErrMetadataMissing, fm.Err)}
	}

	val, err := fm.GetString("ExposureTime")
	if errors.Is(err, exiftool.ErrKeyNotFound) {
		return 0, &MetadataError{Path: path, Field: "ExposureTime", Err: ErrMetadataMissing}
	} else if err != nil {
		return 0, &MetadataError{Path: path, Field: "ExposureTime", Err: fmt.Errorf("%w: %v", ErrMetadataMalformed, err)}
	}

	secs, err := ParseRational(val)
	if err != nil {
		return 0, &MetadataError{Path: path, Field: "ExposureTime", Err: err}
	}
	return secs, nil
}

// NewReader returns the backend named in the config: "exif" (default) or "exiftool".
func NewReader(backend string) (Reader, error) {
	switch strings.ToLower(backend) {
	case "", "exif", "goexif":
		return ExifReader{}, nil
	case "exiftool":
		r, err := NewExiftoolReader()
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("no exposure reader named '%s'", backend)
	}
}

// ReadAll reads the exposure of every path, in order. An empty list is
// not an error; it yields an empty result.
func ReadAll(r Reader, paths []string) ([]float64, error) {
	times := make([]float64, 0, len(paths))
	for _, path := range paths {
		t, err := r.ExposureTime(path)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, nil
}

// A Batch reads a whole stack at once, with the Reader doing each file.
type Batch struct {
	Reader
}

func (b Batch) ReadAll(paths []string) ([]float64, error) { return ReadAll(b.Reader, paths) }

// Close shuts down the Reader, if it holds anything open.
func (b Batch) Close() error {
	if c, ok := b.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
