package imgtensor

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/up-zero/gotool/imageutil"
)

// PadColor 填充区域的颜色
var PadColor = color.RGBA{A: 255}

// Letterbox 等比缩放 + 居中填充的参数
type Letterbox struct {
	SourceW, SourceH   int
	Target             int
	Scale              float64
	OffsetX, OffsetY   int
	ContentW, ContentH int
}

// NewLetterbox 计算把 w×h 放进 target×target 的缩放与偏移
func NewLetterbox(w, h, target int) Letterbox {
	lb := Letterbox{SourceW: w, SourceH: h, Target: target}
	switch {
	case w == h:
		lb.ContentW, lb.ContentH = target, target
	case h > w:
		lb.ContentH = target
		lb.ContentW = max(1, int(math.Floor(float64(w)*float64(target)/float64(h))))
	default:
		lb.ContentW = target
		lb.ContentH = max(1, int(math.Floor(float64(h)*float64(target)/float64(w))))
	}
	lb.Scale = float64(target) / float64(max(w, h))
	lb.OffsetX = (target - lb.ContentW) / 2
	lb.OffsetY = (target - lb.ContentH) / 2
	return lb
}

// FromSource 原图坐标 → 填充后坐标
func (lb Letterbox) FromSource(x, y float64) (float64, float64) {
	return x*lb.Scale + float64(lb.OffsetX), y*lb.Scale + float64(lb.OffsetY)
}

// ToSource 填充后坐标 → 原图坐标
func (lb Letterbox) ToSource(x, y float64) (float64, float64) {
	return (x - float64(lb.OffsetX)) / lb.Scale, (y - float64(lb.OffsetY)) / lb.Scale
}

// SourceRect 把相对填充画布归一化的框映射回原图像素, 并裁剪到原图范围内
func (lb Letterbox) SourceRect(b Bounds) image.Rectangle {
	t := float64(lb.Target)
	x0, y0 := lb.ToSource(float64(b.X)*t, float64(b.Y)*t)
	x1, y1 := lb.ToSource(float64(b.X+b.Width)*t, float64(b.Y+b.Height)*t)
	r := image.Rect(
		int(math.Floor(x0)), int(math.Floor(y0)),
		int(math.Ceil(x1)), int(math.Ceil(y1)),
	)
	return r.Intersect(image.Rect(0, 0, lb.SourceW, lb.SourceH))
}

// PadToSquare 等比缩放并居中填充到 target×target
func PadToSquare(img image.Image, target int) (*image.RGBA, Letterbox) {
	b := img.Bounds()
	lb := NewLetterbox(b.Dx(), b.Dy(), target)

	dst := image.NewRGBA(image.Rect(0, 0, target, target))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(PadColor), image.Point{}, draw.Src)

	var scaled image.Image = img
	if lb.ContentW != b.Dx() || lb.ContentH != b.Dy() {
		scaled = imageutil.Resize(img, lb.ContentW, lb.ContentH)
	}
	content := image.Rect(lb.OffsetX, lb.OffsetY, lb.OffsetX+lb.ContentW, lb.OffsetY+lb.ContentH)
	draw.Draw(dst, content, scaled, scaled.Bounds().Min, draw.Src)
	return dst, lb
}
