// Package segmenter 点击分割的高层接口: 设置图片, 按提示点/框分割
package segmenter

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/getcharzp/go-clickseg/artifact"
	"github.com/getcharzp/go-clickseg/engine"
	"github.com/getcharzp/go-clickseg/imgtensor"
	"github.com/getcharzp/go-clickseg/registry"
	"github.com/getcharzp/go-clickseg/worker"
)

var (
	// ErrNotInitialized 尚未调用 Initialize 或已释放
	ErrNotInitialized = errors.New("分割器尚未初始化")
	// ErrImageNotSet 分割前没有设置图片
	ErrImageNotSet = errors.New("尚未设置图片")
	// ErrNoPromptProvided 既没有提示点也没有框
	ErrNoPromptProvided = errors.New("至少需要一个提示点或一个框")
)

// maskThreshold mask logits 的二值化阈值
const maskThreshold = 0.0

// Point 归一化到 0-1 的提示点, 坐标相对填充后的正方形图片
type Point struct {
	X     float32      `json:"x"`
	Y     float32      `json:"y"`
	Label engine.Label `json:"label"`
}

// Options 一次分割的提示
type Options struct {
	Points []Point
	// Box (可选) 归一化的框, 展开为左上/右下两个点
	Box *imgtensor.Bounds
	// Previous (可选) 上一次的结果, 其 mask 作为细化输入
	Previous *Result
}

// Result 分割结果, 所有字段都是独立的副本
type Result struct {
	Image         *image.RGBA // mask 位图
	Mask          []float32   // 选中的 mask logits
	Width, Height int         // mask 宽高
	Index         int         // 选中的候选下标
	Score         float32
	Bounds        imgtensor.Bounds // 相对 mask 归一化
	SourceBounds  image.Rectangle  // 原图像素坐标
}

// Stats 分割器统计
type Stats struct {
	Model        string        `json:"model"`
	Initialized  bool          `json:"initialized"`
	ImageSet     bool          `json:"image_set"`
	Backend      string        `json:"backend"`
	LastEncodeMs float64       `json:"last_encode_ms"`
	Worker       *worker.Stats `json:"worker,omitempty"`
}

// Segmenter 持有一个后台 worker, 串行化 SetImage/Segment
type Segmenter struct {
	desc     registry.ModelDescriptor
	settings settings
	log      *zap.Logger

	mu        sync.Mutex
	client    *worker.Client
	pending   *initCall
	backend   string
	canvas    *image.RGBA
	letterbox imgtensor.Letterbox
	imageSize int
	encodeMs  float64
}

// New 按模型描述创建分割器
func New(desc registry.ModelDescriptor, opts ...Option) (*Segmenter, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Segmenter{
		desc:     desc.Clone(),
		settings: s,
		log:      s.log.With(zap.String("model", desc.ID)),
	}, nil
}

// NewByID 按内置模型 id 或别名创建分割器
func NewByID(id string, opts ...Option) (*Segmenter, error) {
	desc, err := registry.Get(id)
	if err != nil {
		return nil, err
	}
	return New(desc, opts...)
}

// initCall 一次进行中的初始化, done 关闭后 device/err 可读
type initCall struct {
	done   chan struct{}
	cancel context.CancelFunc
	device string
	err    error
}

// Initialize 启动 worker, 下载模型并创建会话, 返回 encoder 使用的后端
//
// 已初始化时直接返回; 并发调用共享同一次初始化. 下载期间不持有锁,
// IsInitialized/Stats 不会被阻塞, Dispose 会取消进行中的初始化
func (s *Segmenter) Initialize(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.client != nil {
		defer s.mu.Unlock()
		return s.backend, nil
	}
	if call := s.pending; call != nil {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.device, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	initCtx, cancel := context.WithCancel(ctx)
	call := &initCall{done: make(chan struct{}), cancel: cancel}
	s.pending = call
	s.mu.Unlock()

	defer close(call.done)
	defer cancel()

	client := worker.Spawn(s.desc.Clone(), artifact.Options{
		Cache:      s.settings.cache,
		Fetcher:    s.settings.fetcher,
		Providers:  s.settings.providers,
		Logger:     s.settings.log,
		OnProgress: s.settings.progress,
	}, s.settings.log)

	device, err := client.Ping(initCtx, s.desc.ID)

	s.mu.Lock()
	disposed := s.pending != call
	if !disposed {
		s.pending = nil
	}
	if err == nil && !disposed {
		s.client = client
		s.backend = device
		call.device = device
		s.mu.Unlock()
		s.log.Info("segmenter ready", zap.String("backend", device))
		return device, nil
	}
	s.mu.Unlock()

	// Close 会等待 worker 处理完当前请求
	client.Close()
	if err == nil {
		err = ErrNotInitialized
	}
	call.err = fmt.Errorf("初始化 %s 失败: %w", s.desc.ID, err)
	return "", call.err
}

// IsInitialized 是否已初始化
func (s *Segmenter) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// ModelConfig 当前模型描述的副本
func (s *Segmenter) ModelConfig() registry.ModelDescriptor {
	return s.desc.Clone()
}

// SetImage 填充为正方形后编码, 之后的 Segment 都基于这张图片
func (s *Segmenter) SetImage(ctx context.Context, img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return ErrNotInitialized
	}
	if img == nil || img.Bounds().Empty() {
		return fmt.Errorf("图片为空")
	}

	canvas, lb := imgtensor.PadToSquare(img, s.desc.ImageSize)
	data, shape := imgtensor.PixelsToTensor(canvas)

	// 失败时旧的编码结果与新图片不再对应
	s.canvas = nil
	ms, err := s.client.EncodeImage(ctx, data, shape)
	if err != nil {
		return err
	}
	s.canvas = canvas
	s.letterbox = lb
	s.imageSize = s.desc.ImageSize
	s.encodeMs = ms
	s.log.Debug("image set",
		zap.Int("width", lb.SourceW), zap.Int("height", lb.SourceH), zap.Float64("encode_ms", ms))
	return nil
}

// Canvas 编码时使用的填充图片与映射参数
func (s *Segmenter) Canvas() (*image.RGBA, imgtensor.Letterbox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvas, s.letterbox, s.canvas != nil
}

// Segment 按提示生成 mask, 取分数最高的候选
func (s *Segmenter) Segment(ctx context.Context, opts Options) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotInitialized
	}
	if s.canvas == nil {
		return nil, ErrImageNotSet
	}
	if len(opts.Points) == 0 && opts.Box == nil {
		return nil, ErrNoPromptProvided
	}

	size := float32(s.imageSize)
	points := make([]engine.Point, 0, len(opts.Points)+2)
	for _, p := range opts.Points {
		points = append(points, engine.Point{X: p.X * size, Y: p.Y * size, Label: p.Label})
	}
	if b := opts.Box; b != nil {
		points = append(points,
			engine.Point{X: b.X * size, Y: b.Y * size, Label: engine.LabelBoxTopLeft},
			engine.Point{X: (b.X + b.Width) * size, Y: (b.Y + b.Height) * size, Label: engine.LabelBoxBotRight},
		)
	}

	var mask []float32
	var maskShape []int64
	if prev := opts.Previous; prev != nil && len(prev.Mask) > 0 {
		if len(prev.Mask) != prev.Width*prev.Height {
			return nil, fmt.Errorf("上一次 mask 长度(%d)与尺寸 %dx%d 不匹配", len(prev.Mask), prev.Width, prev.Height)
		}
		m := s.desc.MaskSize
		mask = imgtensor.ResizeMask(prev.Mask, prev.Width, prev.Height, m, m)
		maskShape = s.desc.MaskShape()
	}

	decoded, err := s.client.DecodeMask(ctx, points, mask, maskShape)
	if err != nil {
		return nil, err
	}
	return s.buildResult(decoded)
}

func (s *Segmenter) buildResult(decoded *engine.DecodeResult) (*Result, error) {
	dims := decoded.Masks.Shape
	index := imgtensor.BestMask(decoded.Scores.Float)
	if index < 0 {
		return nil, fmt.Errorf("decoder 没有返回候选 mask")
	}
	plane, err := imgtensor.SliceMaskChannel(decoded.Masks.Float, dims, index)
	if err != nil {
		return nil, err
	}
	h, w := int(dims[2]), int(dims[3])

	box := imgtensor.BoundingBox(plane, w, h, maskThreshold)
	bounds := box.Normalize(w, h)
	r := &Result{
		Image:  imgtensor.MaskToImage(plane, w, h),
		Mask:   plane,
		Width:  w,
		Height: h,
		Index:  index,
		Score:  decoded.Scores.Float[index],
		Bounds: bounds,
	}
	if !box.Empty() {
		r.SourceBounds = s.letterbox.SourceRect(bounds)
	}
	return r, nil
}

// Stats 统计信息, 未初始化时不包含 worker 部分
func (s *Segmenter) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &Stats{
		Model:        s.desc.ID,
		Initialized:  s.client != nil,
		ImageSet:     s.canvas != nil,
		Backend:      s.backend,
		LastEncodeMs: s.encodeMs,
	}
	if s.client == nil {
		return st, nil
	}
	ws, err := s.client.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st.Worker = ws
	return st, nil
}

// Dispose 关闭 worker 并释放会话, 之后需要重新 Initialize
func (s *Segmenter) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.cancel()
		s.pending = nil
	}
	s.client.Close()
	s.client = nil
	s.backend = ""
	s.canvas = nil
}
