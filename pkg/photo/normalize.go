package photo

import (
	"image"

	"github.com/disintegration/imaging"

	"labweb/pkg/storage"
)

// Size is the edge length of a normalized profile photo.
const Size = 500

// Normalize rewrites the image stored at ref as a Size x Size thumbnail cut
// from the center of the image.
func Normalize(st storage.Storage, ref string) error {
	img, err := load(st, ref)
	if err != nil {
		return err
	}
	return save(st, ref, normalizeImage(img))
}

func normalizeImage(img image.Image) *image.NRGBA {
	// downscale only; small images are enlarged by the final resize
	thumb := imaging.Fit(img, Size, Size, imaging.Lanczos)
	b := thumb.Bounds()
	square := imaging.Crop(thumb, centerSquare(b.Dx(), b.Dy()))
	return imaging.Resize(square, Size, Size, imaging.Lanczos)
}

// centerSquare returns the crop box that trims the long axis equally on both
// sides. Margins use floor division and the box ends at size-margin, so for an
// odd difference the box is one pixel longer than the short side.
func centerSquare(w, h int) image.Rectangle {
	x, y := 0, 0
	switch {
	case w > h:
		x = (w - h) / 2
	case h > w:
		y = (h - w) / 2
	}
	return image.Rect(x, y, w-x, h-y)
}
