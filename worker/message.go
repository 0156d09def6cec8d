package worker

import (
	"github.com/getcharzp/go-clickseg/artifact"
	"github.com/getcharzp/go-clickseg/backend"
	"github.com/getcharzp/go-clickseg/engine"
)

// MessageType 消息类型
type MessageType string

// 调用方 → worker
const (
	TypePing        MessageType = "ping"
	TypeEncodeImage MessageType = "encodeImage"
	TypeDecodeMask  MessageType = "decodeMask"
	TypeStats       MessageType = "stats"
)

// worker → 调用方
const (
	TypeDownloadInProgress MessageType = "downloadInProgress"
	TypeLoadingInProgress  MessageType = "loadingInProgress"
	TypePong               MessageType = "pong"
	TypeEncodeImageDone    MessageType = "encodeImageDone"
	TypeDecodeMaskResult   MessageType = "decodeMaskResult"
	TypeError              MessageType = "error"
)

// terminal 请求类型对应的成功响应类型
var terminal = map[MessageType]MessageType{
	TypePing:        TypePong,
	TypeEncodeImage: TypeEncodeImageDone,
	TypeDecodeMask:  TypeDecodeMaskResult,
	TypeStats:       TypeStats,
}

func isTerminal(t MessageType) bool {
	switch t {
	case TypeError, TypePong, TypeEncodeImageDone, TypeDecodeMaskResult, TypeStats:
		return true
	}
	return false
}

// Message 通道上传递的消息
//
// 发送后切片的所有权随消息转移, 发送方不得再修改
type Message struct {
	ID   string
	Type MessageType

	// ping
	ModelID string
	// encodeImage
	Tensor []float32
	Shape  []int64
	// decodeMask
	Points    []engine.Point
	Mask      []float32
	MaskShape []int64

	// pong
	Success bool
	Device  string
	// encodeImageDone
	DurationMs float64
	// decodeMaskResult
	Masks          *backend.Tensor
	IoUPredictions *backend.Tensor
	// stats
	Stats *Stats
	// error
	Error string
	// downloadInProgress / loadingInProgress
	File string
}

// Stats worker 内部统计
type Stats struct {
	ModelID   string         `json:"model_id"`
	Engine    engine.Stats   `json:"engine"`
	Artifacts artifact.Stats `json:"artifacts"`
}

// RemoteError worker 端返回的错误
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }
