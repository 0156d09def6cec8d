// Package imgtensor 图像与张量之间的转换
package imgtensor

import (
	"fmt"
	"image"

	"github.com/getcharzp/go-clickseg/registry"
)

// PixelsToTensor 将图片转换为 [1,3,H,W] 的 CHW 张量, 取值 [0,1], 丢弃 alpha
func PixelsToTensor(img image.Image) ([]float32, []int64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	data := make([]float32, 3*plane)

	switch src := img.(type) {
	case *image.RGBA:
		fillFromPix(data, src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y), w, h)
	case *image.NRGBA:
		fillFromPix(data, src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y), w, h)
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				idx := y*w + x
				data[idx] = float32(r>>8) / 255.0
				data[plane+idx] = float32(g>>8) / 255.0
				data[2*plane+idx] = float32(bl>>8) / 255.0
			}
		}
	}
	return data, []int64{1, 3, int64(h), int64(w)}
}

// fillFromPix 直接按下标读取 RGBA 像素缓冲
func fillFromPix(data []float32, pix []uint8, stride, offset, w, h int) {
	plane := w * h
	for y := 0; y < h; y++ {
		row := offset + y*stride
		for x := 0; x < w; x++ {
			p := row + x*4
			idx := y*w + x
			data[idx] = float32(pix[p]) / 255.0
			data[plane+idx] = float32(pix[p+1]) / 255.0
			data[2*plane+idx] = float32(pix[p+2]) / 255.0
		}
	}
}

// CHWToHWC [C,H,W] → [H,W,C]
func CHWToHWC(t []float32, c, h, w int) []float32 {
	out := make([]float32, len(t))
	plane := h * w
	for ch := 0; ch < c; ch++ {
		base := ch * plane
		for i := 0; i < plane; i++ {
			out[i*c+ch] = t[base+i]
		}
	}
	return out
}

// HWCToCHW [H,W,C] → [C,H,W]
func HWCToCHW(t []float32, h, w, c int) []float32 {
	out := make([]float32, len(t))
	plane := h * w
	for i := 0; i < plane; i++ {
		for ch := 0; ch < c; ch++ {
			out[ch*plane+i] = t[i*c+ch]
		}
	}
	return out
}

// ApplyPreprocessing 原地预处理 CHW 数据
//
// 先做逐通道归一化 (v*scale - mean) / std, 再做整体缩放 v *= inputRange.
// norm 为 nil 或 inputRange 为 0 时跳过对应步骤
func ApplyPreprocessing(t []float32, channels int, norm *registry.Normalization, inputRange float32) error {
	if channels <= 0 || len(t)%channels != 0 {
		return fmt.Errorf("张量长度 %d 不能按 %d 个通道划分", len(t), channels)
	}
	plane := len(t) / channels
	if norm != nil {
		if channels > len(norm.Mean) {
			return fmt.Errorf("归一化参数只支持 %d 个通道", len(norm.Mean))
		}
		scale := norm.Scale
		if scale == 0 {
			scale = 1
		}
		for c := 0; c < channels; c++ {
			mean, std := norm.Mean[c], norm.Std[c]
			seg := t[c*plane : (c+1)*plane]
			for i, v := range seg {
				seg[i] = (v*scale - mean) / std
			}
		}
	}
	if inputRange != 0 {
		for i := range t {
			t[i] *= inputRange
		}
	}
	return nil
}

// SliceMaskChannel 从 [B,N,H,W] 张量中取出第 index 个 mask 平面 (拷贝)
func SliceMaskChannel(t []float32, dims []int64, index int) ([]float32, error) {
	if len(dims) != 4 {
		return nil, fmt.Errorf("mask 张量维度应为 4, 实际为 %v", dims)
	}
	if index < 0 || int64(index) >= dims[0]*dims[1] {
		return nil, fmt.Errorf("mask 下标 %d 越界, 形状 %v", index, dims)
	}
	stride := int(dims[2] * dims[3])
	start := index * stride
	if start+stride > len(t) {
		return nil, fmt.Errorf("mask 数据长度 %d 不足, 形状 %v", len(t), dims)
	}
	out := make([]float32, stride)
	copy(out, t[start:start+stride])
	return out, nil
}
