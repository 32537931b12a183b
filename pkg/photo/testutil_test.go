package photo

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"labweb/pkg/storage"
)

var (
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
)

func newStore(t *testing.T) *storage.Local {
	t.Helper()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return st
}

// bands builds a w x h image split into three vertical (or horizontal, when
// h > w) bands: red margin, blue square center, green margin.
func bands(w, h int) *image.NRGBA {
	img := imaging.New(w, h, blue)
	if w > h {
		m := (w - h) / 2
		for y := 0; y < h; y++ {
			for x := 0; x < m; x++ {
				img.SetNRGBA(x, y, red)
				img.SetNRGBA(w-1-x, y, green)
			}
		}
	} else if h > w {
		m := (h - w) / 2
		for y := 0; y < m; y++ {
			for x := 0; x < w; x++ {
				img.SetNRGBA(x, y, red)
				img.SetNRGBA(x, h-1-y, green)
			}
		}
	}
	return img
}

func put(t *testing.T, st storage.Storage, ref string, img image.Image) {
	t.Helper()
	format, err := imaging.FormatFromFilename(ref)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	require.NoError(t, st.Write(ref, &buf))
}

func get(t *testing.T, st storage.Storage, ref string) image.Image {
	t.Helper()
	rc, err := st.Open(ref)
	require.NoError(t, err)
	defer rc.Close()
	img, err := imaging.Decode(rc)
	require.NoError(t, err)
	return img
}

func raw(t *testing.T, st storage.Storage, ref string) []byte {
	t.Helper()
	rc, err := st.Open(ref)
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	return buf.Bytes()
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}
