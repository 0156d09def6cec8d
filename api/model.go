package api

import (
	"github.com/getcharzp/go-clickseg/engine"
	"github.com/getcharzp/go-clickseg/imgtensor"
	"github.com/getcharzp/go-clickseg/registry"
)

// ModelInfo 模型列表项
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SizeMB      int    `json:"size_mb"`
	Family      string `json:"family"`
	ImageSize   int    `json:"image_size"`
	MaskSize    int    `json:"mask_size"`
}

func modelInfo(d registry.ModelDescriptor) ModelInfo {
	return ModelInfo{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		SizeMB:      d.SizeMB,
		Family:      string(d.Family),
		ImageSize:   d.ImageSize,
		MaskSize:    d.MaskSize,
	}
}

// ImageResponse 上传图片的响应
type ImageResponse struct {
	Success bool `json:"success"`
	Width   int  `json:"width"`
	Height  int  `json:"height"`
}

// PointRequest 归一化的提示点
type PointRequest struct {
	X     float32 `json:"x" binding:"min=0,max=1"`
	Y     float32 `json:"y" binding:"min=0,max=1"`
	Label int     `json:"label" binding:"min=0,max=3"`
}

// SegmentRequest 分割请求
type SegmentRequest struct {
	Points []PointRequest     `json:"points" binding:"dive"`
	Box    *imgtensor.Bounds `json:"box"`
	// Refine 以上一次结果作为细化输入
	Refine bool `json:"refine"`
}

func (p PointRequest) label() engine.Label { return engine.Label(p.Label) }

// BBox 原图像素坐标的框
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SegmentResponse 分割响应
type SegmentResponse struct {
	Success      bool             `json:"success"`
	Score        float32          `json:"score"`
	Index        int              `json:"index"`
	Bounds       imgtensor.Bounds `json:"bounds"`
	SourceBounds BBox             `json:"source_bounds"`
	Mask         string           `json:"mask"` // base64 编码的 PNG
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
