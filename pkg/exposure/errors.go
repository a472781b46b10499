package exposure

import (
	"errors"
	"fmt"
)

var (
	ErrMetadataMissing   = errors.New("exposure metadata missing")
	ErrMetadataMalformed = errors.New("exposure metadata malformed")
)

// A MetadataError names the file whose exposure could not be read.
type MetadataError struct {
	Path  string
	Field string
	Err   error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("exif %s '%s': %v", e.Field, e.Path, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }
