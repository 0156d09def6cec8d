package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/getcharzp/go-clickseg/backend"
)

var (
	// ErrNotInitialized 会话尚未创建
	ErrNotInitialized = errors.New("模型会话尚未初始化")
	// ErrImageNotEncoded 解码前没有编码过图片
	ErrImageNotEncoded = errors.New("图片尚未编码")
	// ErrBackendRun 推理后端执行失败
	ErrBackendRun = errors.New("推理失败")
)

type Label int

const (
	LabelBackground  Label = 0 // 背景/排除
	LabelForeground  Label = 1 // 前景/点击
	LabelBoxTopLeft  Label = 2 // 框选左上
	LabelBoxBotRight Label = 3 // 框选右下
)

// Point 像素坐标的提示点
type Point struct {
	X, Y  float32
	Label Label
}

// State 引擎状态
type State int

const (
	StateUninitialized State = iota
	StateModelsDownloaded
	StateSessionsReady
	StateImageEncoded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateModelsDownloaded:
		return "models_downloaded"
	case StateSessionsReady:
		return "sessions_ready"
	case StateImageEncoded:
		return "image_encoded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EncodedImage 一张图片的编码结果, 下一次编码时整体替换
type EncodedImage struct {
	Embedding *backend.Tensor
	// HighRes 只有 sam2 家族才有
	HighRes [2]*backend.Tensor
}

// DecodeResult 候选 mask 与对应分数, 二者下标一致
type DecodeResult struct {
	Masks  *backend.Tensor // [1, N, H, W]
	Scores *backend.Tensor // [1, N]
}

// Stats 引擎统计
type Stats struct {
	State      string        `json:"state"`
	Backend    string        `json:"backend"`
	Encodes    int           `json:"encodes"`
	Decodes    int           `json:"decodes"`
	LastEncode time.Duration `json:"last_encode"`
	LastDecode time.Duration `json:"last_decode"`
}
