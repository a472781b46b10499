package exposure

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
)

const (
	tagExifIFDPointer = 0x8769
	tagExposureTime   = 0x829A

	tiffTypeLong     = 4
	tiffTypeRational = 5
)

// exifBlock builds the smallest TIFF structure goexif (and exiftool)
// will accept: IFD0 holding just the Exif IFD pointer, and an Exif IFD
// holding just ExposureTime.
func exifBlock(exposure Rational) []byte {
	const (
		ifd0Offset    = 8
		exifIFDOffset = ifd0Offset + 2 + 12 + 4
		ratOffset     = exifIFDOffset + 2 + 12 + 4
	)

	le := binary.LittleEndian
	b := &bytes.Buffer{}
	w := func(v interface{}) { binary.Write(b, le, v) }

	b.WriteString("II")
	w(uint16(42))
	w(uint32(ifd0Offset))

	w(uint16(1))
	w(uint16(tagExifIFDPointer))
	w(uint16(tiffTypeLong))
	w(uint32(1))
	w(uint32(exifIFDOffset))
	w(uint32(0))

	w(uint16(1))
	w(uint16(tagExposureTime))
	w(uint16(tiffTypeRational))
	w(uint32(1))
	w(uint32(ratOffset))
	w(uint32(0))

	w(uint32(exposure[0]))
	w(uint32(exposure[1]))

	return b.Bytes()
}

// EncodeJPEG writes img as a baseline JPEG whose EXIF block records the
// given exposure time.
func EncodeJPEG(out io.Writer, img image.Image, quality int, exposure Rational) error {
	for _, v := range exposure {
		if v < 0 || v > math.MaxUint32 {
			return fmt.Errorf("%w: %s doesn't fit an EXIF RATIONAL", ErrMetadataMalformed, exposure)
		}
	}

	body := &bytes.Buffer{}
	if err := jpeg.Encode(body, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("jpeg encode: %w", err)
	}
	jpg := body.Bytes()
	if len(jpg) < 2 || jpg[0] != 0xFF || jpg[1] != 0xD8 {
		return fmt.Errorf("jpeg encode: no SOI marker")
	}

	payload := append([]byte("Exif\x00\x00"), exifBlock(exposure)...)

	app1 := &bytes.Buffer{}
	app1.Write([]byte{0xFF, 0xD8, 0xFF, 0xE1})
	binary.Write(app1, binary.BigEndian, uint16(len(payload)+2))
	app1.Write(payload)

	if _, err := out.Write(app1.Bytes()); err != nil {
		return err
	}
	_, err := out.Write(jpg[2:])
	return err
}
