package photo

import "errors"

var (
	// ErrUnsupportedFormat is returned for files whose extension has no image encoder.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDefaultPhoto is returned when a mutation targets the shared placeholder.
	ErrDefaultPhoto = errors.New("default photo is read-only")
	// ErrEmptyCrop is returned when a crop rectangle misses the image entirely.
	ErrEmptyCrop = errors.New("crop area lies outside the photo")
	// ErrTooManyPixels is returned for images whose header declares more than MaxPixels.
	ErrTooManyPixels = errors.New("image has too many pixels")
)
