package imgtensor

import (
	"image"
	"image/color"

	"github.com/chewxy/math32"
)

// HighlightColor mask 内像素的颜色
var HighlightColor = color.RGBA{R: 30, G: 144, B: 255, A: 255}

// Box mask 像素空间的外接框, 宽高包含端点
type Box struct {
	X, Y          int
	Width, Height int
}

// Empty 是否为空框
func (b Box) Empty() bool {
	return b.Width == 0 || b.Height == 0
}

// Normalize 除以 mask 宽高得到 0-1 坐标
func (b Box) Normalize(w, h int) Bounds {
	if w <= 0 || h <= 0 {
		return Bounds{}
	}
	return Bounds{
		X:      float32(b.X) / float32(w),
		Y:      float32(b.Y) / float32(h),
		Width:  float32(b.Width) / float32(w),
		Height: float32(b.Height) / float32(h),
	}
}

// Bounds 归一化到 0-1 的框
type Bounds struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// MaskToImage mask 二值化为图片, 值 > 0 的像素涂高亮色, 其余完全透明
func MaskToImage(mask []float32, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := HighlightColor
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask[y*w+x] > 0 {
				p := img.PixOffset(x, y)
				img.Pix[p] = c.R
				img.Pix[p+1] = c.G
				img.Pix[p+2] = c.B
				img.Pix[p+3] = c.A
			}
		}
	}
	return img
}

// BoundingBox 计算值大于 threshold 的像素外接框, 全部不满足时返回零框
func BoundingBox(mask []float32, w, h int, threshold float32) Box {
	minX, minY := w, h
	maxX, maxY := -1, -1
	for y := 0; y < h; y++ {
		row := mask[y*w : (y+1)*w]
		for x, v := range row {
			if v > threshold {
				minX = min(minX, x)
				maxX = max(maxX, x)
				minY = min(minY, y)
				maxY = max(maxY, y)
			}
		}
	}
	if maxX < 0 {
		return Box{}
	}
	return Box{X: minX, Y: minY, Width: maxX - minX + 1, Height: maxY - minY + 1}
}

// ResizeMask 最近邻缩放 mask logits
func ResizeMask(mask []float32, srcW, srcH, dstW, dstH int) []float32 {
	if srcW == dstW && srcH == dstH {
		return append([]float32(nil), mask...)
	}
	out := make([]float32, dstW*dstH)
	xRatio := float32(srcW) / float32(dstW)
	yRatio := float32(srcH) / float32(dstH)
	for y := 0; y < dstH; y++ {
		srcY := min(int(float32(y)*yRatio), srcH-1)
		for x := 0; x < dstW; x++ {
			srcX := min(int(float32(x)*xRatio), srcW-1)
			out[y*dstW+x] = mask[srcY*srcW+srcX]
		}
	}
	return out
}

// BestMask 返回分数最高的下标, 并列时取第一个; scores 为空时返回 -1
func BestMask(scores []float32) int {
	best := -1
	bestScore := math32.Inf(-1)
	for i, s := range scores {
		if math32.IsNaN(s) {
			continue
		}
		if best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}
