package imgtensor

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundingBoxEmpty(t *testing.T) {
	mask := make([]float32, 100)
	img := MaskToImage(mask, 10, 10)
	for i := 3; i < len(img.Pix); i += 4 {
		require.Zero(t, img.Pix[i])
	}
	assert.Equal(t, Box{}, BoundingBox(mask, 10, 10, 0))
	assert.True(t, Box{}.Empty())
}

func TestBoundingBoxSinglePixel(t *testing.T) {
	mask := make([]float32, 100)
	mask[7*10+5] = 0.3
	assert.Equal(t, Box{X: 5, Y: 7, Width: 1, Height: 1}, BoundingBox(mask, 10, 10, 0))
}

func TestBoundingBoxThreshold(t *testing.T) {
	mask := make([]float32, 6*4)
	mask[1*6+1] = 2
	mask[3*6+4] = 0.5
	mask[0*6+5] = 0
	assert.Equal(t, Box{X: 1, Y: 1, Width: 4, Height: 3}, BoundingBox(mask, 6, 4, 0))
	assert.Equal(t, Box{X: 1, Y: 1, Width: 1, Height: 1}, BoundingBox(mask, 6, 4, 1))
}

func TestMaskToImageStrictThreshold(t *testing.T) {
	mask := []float32{-1, 0, 1e-6, 5}
	img := MaskToImage(mask, 2, 2)
	assert.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(1, 0))
	assert.Equal(t, HighlightColor, img.RGBAAt(0, 1))
	assert.Equal(t, HighlightColor, img.RGBAAt(1, 1))
}

func TestBoxNormalize(t *testing.T) {
	b := Box{X: 64, Y: 128, Width: 64, Height: 32}.Normalize(256, 256)
	assert.Equal(t, Bounds{X: 0.25, Y: 0.5, Width: 0.25, Height: 0.125}, b)
	assert.Equal(t, Bounds{}, Box{X: 1}.Normalize(0, 0))
}

func TestBestMask(t *testing.T) {
	assert.Equal(t, 1, BestMask([]float32{0.2, 0.91, 0.91, 0.4}))
	assert.Equal(t, 0, BestMask([]float32{-3, -4}))
	assert.Equal(t, 2, BestMask([]float32{float32(math.NaN()), 0.1, 0.5}))
	assert.Equal(t, -1, BestMask(nil))
}

func TestResizeMask(t *testing.T) {
	src := []float32{1, 2, 3, 4}
	out := ResizeMask(src, 2, 2, 4, 4)
	assert.Equal(t, []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, out)
	assert.Equal(t, []float32{1}, ResizeMask(src, 2, 2, 1, 1))

	same := ResizeMask(src, 2, 2, 2, 2)
	same[0] = 9
	assert.Equal(t, float32(1), src[0])
}

func TestPadToSquare(t *testing.T) {
	cases := []struct{ w, h int }{
		{400, 300}, {300, 400}, {1024, 1}, {7, 1000}, {640, 480}, {64, 64},
	}
	const target = 256
	for _, c := range cases {
		src := image.NewRGBA(image.Rect(0, 0, c.w, c.h))
		out, lb := PadToSquare(src, target)
		assert.Equal(t, target, out.Bounds().Dx())
		assert.Equal(t, target, out.Bounds().Dy())

		// 内容区宽高比与原图一致 (取整误差一个像素内)
		if c.w >= c.h {
			assert.Equal(t, target, lb.ContentW)
			assert.InDelta(t, float64(c.h)*target/float64(c.w), float64(lb.ContentH), 1)
			assert.Equal(t, 0, lb.OffsetX)
			assert.Equal(t, (target-lb.ContentH)/2, lb.OffsetY)
		} else {
			assert.Equal(t, target, lb.ContentH)
			assert.InDelta(t, float64(c.w)*target/float64(c.h), float64(lb.ContentW), 1)
			assert.Equal(t, 0, lb.OffsetY)
			assert.Equal(t, (target-lb.ContentW)/2, lb.OffsetX)
		}
	}
}

func TestPadToSquarePlacement(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 2; x++ {
			src.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	out, lb := PadToSquare(src, 4)
	assert.Equal(t, 1, lb.OffsetX)
	assert.Equal(t, PadColor, out.RGBAAt(0, 0))
	assert.Equal(t, PadColor, out.RGBAAt(3, 3))
	assert.Equal(t, uint8(255), out.RGBAAt(1, 0).R)
	assert.Equal(t, uint8(255), out.RGBAAt(2, 3).R)
}

func TestLetterboxInverse(t *testing.T) {
	lb := NewLetterbox(400, 200, 1024)
	assert.Equal(t, 256, lb.OffsetY)
	x, y := lb.FromSource(100, 50)
	sx, sy := lb.ToSource(x, y)
	assert.InDelta(t, 100, sx, 1e-9)
	assert.InDelta(t, 50, sy, 1e-9)

	// 覆盖整个内容区域的框映射回整张原图
	full := Bounds{X: 0, Y: 0.25, Width: 1, Height: 0.5}
	assert.Equal(t, image.Rect(0, 0, 400, 200), lb.SourceRect(full))

	// 填充区域被裁剪
	all := Bounds{X: 0, Y: 0, Width: 1, Height: 1}
	assert.Equal(t, image.Rect(0, 0, 400, 200), lb.SourceRect(all))
}
