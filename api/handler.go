// Package api gin 实现的 HTTP 接口
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	_ "image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/getcharzp/go-clickseg"
	"github.com/getcharzp/go-clickseg/imgtensor"
	"github.com/getcharzp/go-clickseg/registry"
	"github.com/getcharzp/go-clickseg/segmenter"
)

// Segmenter 接口依赖的分割能力
type Segmenter interface {
	IsInitialized() bool
	ModelConfig() registry.ModelDescriptor
	SetImage(ctx context.Context, img image.Image) error
	Segment(ctx context.Context, opts segmenter.Options) (*segmenter.Result, error)
	Canvas() (*image.RGBA, imgtensor.Letterbox, bool)
	Stats(ctx context.Context) (*segmenter.Stats, error)
}

// Options Handler 的可选参数
type Options struct {
	// MaxUploadSize 上传图片的大小上限, 0 表示不限制
	MaxUploadSize int64
	Capabilities  segmenter.Capabilities
	// Drawer (可选) 叠加图上的分数文字
	Drawer *clickseg.TextDrawer
	Logger *zap.Logger
}

// Handler 持有一个分割器, 记录最近一次的原图与结果
type Handler struct {
	seg  Segmenter
	opts Options
	log  *zap.Logger

	// busy 串行化 SetImage/Segment, 保证 last 总是基于当前 source
	busy sync.Mutex

	// 最近一次的原图, 填充参数与结果, 三者一起更新
	mu        sync.Mutex
	source    image.Image
	letterbox imgtensor.Letterbox
	last      *segmenter.Result
}

// NewHandler 创建 Handler, opts.Logger 为空时不输出日志
func NewHandler(seg Segmenter, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{seg: seg, opts: opts, log: log}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"model":       h.seg.ModelConfig().ID,
		"initialized": h.seg.IsInitialized(),
	})
}

// Models 内置模型列表
func (h *Handler) Models(c *gin.Context) {
	list := segmenter.Models()
	out := make([]ModelInfo, 0, len(list))
	for _, d := range list {
		out = append(out, modelInfo(d))
	}
	c.JSON(http.StatusOK, gin.H{"current": h.seg.ModelConfig().ID, "models": out})
}

// Capabilities 运行环境能力
func (h *Handler) Capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, h.opts.Capabilities)
}

// SetImage 上传并编码图片
func (h *Handler) SetImage(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		h.fail(c, http.StatusBadRequest, "请上传图片文件", err)
		return
	}
	if h.opts.MaxUploadSize > 0 && file.Size > h.opts.MaxUploadSize {
		h.fail(c, http.StatusRequestEntityTooLarge, "文件大小超过限制", nil)
		return
	}

	img, err := decodeUpload(file)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "无法解析图片", err)
		return
	}
	h.busy.Lock()
	defer h.busy.Unlock()
	if err := h.seg.SetImage(c.Request.Context(), img); err != nil {
		h.fail(c, statusOf(err), "图片编码失败", err)
		return
	}
	_, lb, ok := h.seg.Canvas()
	if !ok {
		h.fail(c, http.StatusInternalServerError, "图片编码失败", segmenter.ErrImageNotSet)
		return
	}

	h.mu.Lock()
	h.source = img
	h.letterbox = lb
	h.last = nil
	h.mu.Unlock()

	b := img.Bounds()
	c.JSON(http.StatusOK, ImageResponse{Success: true, Width: b.Dx(), Height: b.Dy()})
}

func decodeUpload(file *multipart.FileHeader) (image.Image, error) {
	f, err := file.Open()
	if err != nil {
		return nil, errors.Wrap(err, "打开上传文件失败")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "解码 %s 失败", file.Filename)
	}
	return img, nil
}

// Segment 按提示点/框分割
func (h *Handler) Segment(c *gin.Context) {
	var req SegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "请求参数错误", err)
		return
	}

	opts := segmenter.Options{Box: req.Box}
	for _, p := range req.Points {
		opts.Points = append(opts.Points, segmenter.Point{X: p.X, Y: p.Y, Label: p.label()})
	}
	h.busy.Lock()
	defer h.busy.Unlock()
	if req.Refine {
		h.mu.Lock()
		opts.Previous = h.last
		h.mu.Unlock()
	}

	res, err := h.seg.Segment(c.Request.Context(), opts)
	if err != nil {
		h.fail(c, statusOf(err), "分割失败", err)
		return
	}
	h.mu.Lock()
	h.last = res
	h.mu.Unlock()

	var buf bytes.Buffer
	if err := png.Encode(&buf, res.Image); err != nil {
		h.fail(c, http.StatusInternalServerError, "mask 编码失败", err)
		return
	}
	r := res.SourceBounds
	c.JSON(http.StatusOK, SegmentResponse{
		Success:      true,
		Score:        res.Score,
		Index:        res.Index,
		Bounds:       res.Bounds,
		SourceBounds: BBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()},
		Mask:         base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

// Overlay 返回最近一次结果叠加在原图上的 PNG
func (h *Handler) Overlay(c *gin.Context) {
	h.mu.Lock()
	source, lb, last := h.source, h.letterbox, h.last
	h.mu.Unlock()
	if source == nil || last == nil {
		h.fail(c, http.StatusConflict, "还没有分割结果", nil)
		return
	}

	out := clickseg.DrawResult(source, last, lb, h.opts.Drawer)
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		h.fail(c, http.StatusInternalServerError, "图片编码失败", err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// Stats 统计信息
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.seg.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, statusOf(err), "获取统计失败", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) fail(c *gin.Context, status int, msg string, err error) {
	resp := ErrorResponse{Success: false, Message: msg}
	if err != nil {
		resp.Error = err.Error()
		if status >= http.StatusInternalServerError {
			h.log.Error(msg, zap.String("path", c.Request.URL.Path), zap.Error(err))
		}
	}
	c.JSON(status, resp)
}

// statusOf 把分割器错误映射为 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, segmenter.ErrNoPromptProvided):
		return http.StatusBadRequest
	case errors.Is(err, segmenter.ErrNotInitialized), errors.Is(err, segmenter.ErrImageNotSet):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
