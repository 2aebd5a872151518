package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender_ImagePassthroughSinglePage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			src.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	pages, err := Render(buf.Bytes(), "image/png", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, 1, pages[0].PageNum)
	require.NotEmpty(t, pages[0].PNG)
}

func TestRender_MalformedInputIsValidationError(t *testing.T) {
	_, err := Render([]byte("not an image"), "image/png", DefaultOptions())
	require.Error(t, err)
}

func TestRender_MalformedPDFFailsAtProbeStage(t *testing.T) {
	_, err := Render([]byte("not a pdf"), "application/pdf", DefaultOptions())
	require.Error(t, err)
}

func TestProbePageCount_RejectsGarbage(t *testing.T) {
	_, err := probePageCount([]byte("not a pdf"))
	require.Error(t, err)
}

func TestScaleLongEdge_ShrinksToBound(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3000, 1000))
	out := scaleLongEdge(src, 1540)
	b := out.Bounds()
	long := b.Dx()
	if b.Dy() > long {
		long = b.Dy()
	}
	require.LessOrEqual(t, long, 1540)
}

func TestScaleLongEdge_LeavesSmallImagesAlone(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	out := scaleLongEdge(src, 1540)
	require.Equal(t, src.Bounds(), out.Bounds())
}
