package photo

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"labweb/models"
	"labweb/pkg/storage"
)

// MaxPixels caps width*height of any image decoded from storage.
const MaxPixels = 40_000_000

// IsDefault reports whether ref is the shared placeholder. References are
// compared in canonical form, so photos/defaultuser.png is not the placeholder.
func IsDefault(ref string) bool {
	return storage.Clean(ref) == models.DefaultPhoto
}

// CheckExtension verifies that name has an extension the encoder supports.
func CheckExtension(name string) error {
	if _, err := imaging.FormatFromFilename(name); err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	return nil
}

// Dimensions decodes the image stored at ref and returns its size.
func Dimensions(st storage.Storage, ref string) (int, int, error) {
	img, err := load(st, ref)
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// EnsureDefault writes a plain grey placeholder when none exists yet.
func EnsureDefault(st storage.Storage) error {
	if st.Exists(models.DefaultPhoto) {
		return nil
	}
	img := imaging.New(Size, Size, color.NRGBA{R: 0xd9, G: 0xd9, B: 0xd9, A: 0xff})
	return save(st, models.DefaultPhoto, img)
}

func load(st storage.Storage, ref string) (image.Image, error) {
	if err := checkPixels(st, ref); err != nil {
		return nil, err
	}
	rc, err := st.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("open photo %s: %w", ref, err)
	}
	defer rc.Close()
	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode photo %s: %w", ref, err)
	}
	return img, nil
}

// checkPixels reads only the image header.
func checkPixels(st storage.Storage, ref string) error {
	rc, err := st.Open(ref)
	if err != nil {
		return fmt.Errorf("open photo %s: %w", ref, err)
	}
	defer rc.Close()
	cfg, _, err := image.DecodeConfig(rc)
	if err != nil {
		return fmt.Errorf("decode photo %s: %w", ref, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return fmt.Errorf("%w: %s is %dx%d", ErrTooManyPixels, ref, cfg.Width, cfg.Height)
	}
	return nil
}

// save encodes img in the format implied by ref's extension and replaces the
// stored file. Encoding finishes before anything is written.
func save(st storage.Storage, ref string, img image.Image) error {
	format, err := imaging.FormatFromFilename(ref)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ref)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("encode photo %s: %w", ref, err)
	}
	if err := st.Write(ref, &buf); err != nil {
		return fmt.Errorf("store photo %s: %w", ref, err)
	}
	return nil
}
