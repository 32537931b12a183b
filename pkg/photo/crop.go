package photo

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"labweb/pkg/storage"
)

// Rect is a crop request in pixels of the stored photo.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// Bounds converts r to integer pixel edges, rounding each edge.
func (r Rect) Bounds() image.Rectangle {
	x0 := int(math.Round(r.X))
	y0 := int(math.Round(r.Y))
	x1 := int(math.Round(r.X + r.Width))
	y1 := int(math.Round(r.Y + r.Height))
	return image.Rect(x0, y0, x1, y1)
}

// Crop cuts r out of the image stored at ref and overwrites it. The result
// keeps r's dimensions and is not scaled back to Size. r is not checked
// against the image bounds; the part of r outside the image is dropped, and
// ErrEmptyCrop is returned when nothing is left.
func Crop(st storage.Storage, ref string, r Rect) error {
	img, err := load(st, ref)
	if err != nil {
		return err
	}
	out := imaging.Crop(img, r.Bounds())
	if out.Bounds().Empty() {
		return ErrEmptyCrop
	}
	return save(st, ref, out)
}
