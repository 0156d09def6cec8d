// Package engine 编码/解码调用的编排, 按模型家族组织输入输出张量
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/getcharzp/go-clickseg/artifact"
	"github.com/getcharzp/go-clickseg/backend"
	"github.com/getcharzp/go-clickseg/imgtensor"
	"github.com/getcharzp/go-clickseg/registry"
)

// 张量名
const (
	sam2Embed     = "image_embed"
	sam2HighRes0  = "high_res_feats_0"
	sam2HighRes1  = "high_res_feats_1"
	samEmbeddings = "image_embeddings"

	inPointCoords  = "point_coords"
	inPointLabels  = "point_labels"
	inMaskInput    = "mask_input"
	inHasMaskInput = "has_mask_input"
	inOrigImSize   = "orig_im_size"
)

// Engine 持有资源管理器与当前图片的编码结果
//
// 非并发安全, 由 worker 的单个 goroutine 独占使用
type Engine struct {
	desc registry.ModelDescriptor
	res  *artifact.Manager
	log  *zap.Logger

	state   State
	encoded *EncodedImage
	stats   Stats
}

// New 创建引擎
func New(desc registry.ModelDescriptor, res *artifact.Manager, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		desc: desc,
		res:  res,
		log:  log.With(zap.String("model", desc.ID)),
	}
}

// Descriptor 当前模型描述
func (e *Engine) Descriptor() registry.ModelDescriptor { return e.desc }

// State 当前状态
func (e *Engine) State() State { return e.state }

// Artifacts 资源管理器
func (e *Engine) Artifacts() *artifact.Manager { return e.res }

// DownloadModels 获取两个模型文件, 失败不致命
func (e *Engine) DownloadModels(ctx context.Context) bool {
	ok := e.res.DownloadModels(ctx)
	if ok && e.state < StateModelsDownloaded {
		e.state = StateModelsDownloaded
	}
	return ok
}

// CreateSessions 创建推理会话, 返回 encoder 使用的后端
func (e *Engine) CreateSessions(ctx context.Context) (string, error) {
	name, err := e.res.CreateSessions(ctx)
	if err != nil {
		return "", err
	}
	if e.state < StateSessionsReady {
		e.state = StateSessionsReady
	}
	e.stats.Backend = name
	return name, nil
}

// EncodeImage 图像特征提取
//
// data 为 [1,3,H,W] 的 [0,1] 数据, 所有权转移给引擎 (会被原地预处理)
func (e *Engine) EncodeImage(ctx context.Context, data []float32, shape []int64) (time.Duration, error) {
	session := e.res.Session(artifact.RoleEncoder)
	if e.state < StateSessionsReady || session == nil {
		return 0, ErrNotInitialized
	}
	input, err := e.encoderInput(data, shape)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	outputs, err := session.Run(ctx, map[string]*backend.Tensor{e.desc.EncoderInputName: input})
	if err != nil {
		return 0, fmt.Errorf("encoder %w: %w", ErrBackendRun, err)
	}

	encoded, err := e.readEncoderOutputs(outputs, session.OutputNames())
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)

	e.encoded = encoded
	e.state = StateImageEncoded
	e.stats.Encodes++
	e.stats.LastEncode = elapsed
	e.log.Debug("image encoded", zap.Duration("cost", elapsed))
	return elapsed, nil
}

// encoderInput 预处理并按描述调整轴顺序与 batch 维度
func (e *Engine) encoderInput(data []float32, shape []int64) (*backend.Tensor, error) {
	if len(shape) != 4 || shape[0] != 1 || shape[1] != 3 {
		return nil, fmt.Errorf("图片张量形状应为 [1,3,H,W], 实际为 %v", shape)
	}
	if backend.ShapeSize(shape) != len(data) {
		return nil, fmt.Errorf("图片张量数据长度(%d)与形状 %v 不匹配", len(data), shape)
	}
	h, w := shape[2], shape[3]

	if err := imgtensor.ApplyPreprocessing(data, 3, e.desc.Normalization, e.desc.InputRange); err != nil {
		return nil, err
	}

	var dims []int64
	switch e.desc.Layout {
	case registry.LayoutHWC:
		data = imgtensor.CHWToHWC(data, 3, int(h), int(w))
		dims = []int64{h, w, 3}
	default:
		dims = []int64{3, h, w}
	}
	if e.desc.HasBatchAxis {
		dims = append([]int64{1}, dims...)
	}
	return backend.NewFloat32(dims, data), nil
}

// readEncoderOutputs 按模型家族读取 encoder 输出
func (e *Engine) readEncoderOutputs(outputs map[string]*backend.Tensor, names []string) (*EncodedImage, error) {
	switch e.desc.Family {
	case registry.FamilySAM2:
		enc := &EncodedImage{
			Embedding: outputs[sam2Embed],
			HighRes:   [2]*backend.Tensor{outputs[sam2HighRes0], outputs[sam2HighRes1]},
		}
		if enc.Embedding == nil || enc.HighRes[0] == nil || enc.HighRes[1] == nil {
			return nil, fmt.Errorf("encoder 输出缺失, 需要 %s/%s/%s", sam2Embed, sam2HighRes0, sam2HighRes1)
		}
		return enc, nil
	default:
		if t, ok := outputs[samEmbeddings]; ok {
			return &EncodedImage{Embedding: t}, nil
		}
		// 按声明顺序取第一个输出
		for _, name := range names {
			if t, ok := outputs[name]; ok {
				return &EncodedImage{Embedding: t}, nil
			}
		}
		return nil, fmt.Errorf("encoder 没有输出")
	}
}

// Decode Mask 解码, points 为编码图片上的像素坐标
//
// prevMask 为上一次的低分辨率 mask, 可为 nil
func (e *Engine) Decode(ctx context.Context, points []Point, prevMask *backend.Tensor) (*DecodeResult, error) {
	if e.encoded == nil || e.state != StateImageEncoded {
		return nil, ErrImageNotEncoded
	}
	session := e.res.Session(artifact.RoleDecoder)
	if session == nil {
		return nil, ErrNotInitialized
	}
	inputs, err := e.decoderInputs(points, prevMask)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	outputs, err := session.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("decoder %w: %w", ErrBackendRun, err)
	}
	result, err := e.readDecoderOutputs(outputs)
	if err != nil {
		return nil, err
	}
	e.stats.Decodes++
	e.stats.LastDecode = time.Since(start)
	return result, nil
}

func (e *Engine) decoderInputs(points []Point, prevMask *backend.Tensor) (map[string]*backend.Tensor, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("至少需要一个提示点")
	}
	n := int64(len(points))
	coords := make([]float32, 0, len(points)*2)
	labels := make([]float32, 0, len(points))
	for _, pt := range points {
		coords = append(coords, pt.X, pt.Y)
		labels = append(labels, float32(pt.Label))
	}

	maskShape := e.desc.MaskShape()
	maskInput := backend.Zeros(maskShape...)
	hasMask := float32(0)
	if prevMask != nil {
		if prevMask.Type != backend.Float32 || len(prevMask.Float) != backend.ShapeSize(maskShape) {
			return nil, fmt.Errorf("上一次 mask 尺寸不匹配, 需要 %v", maskShape)
		}
		maskInput = backend.NewFloat32(maskShape, prevMask.Float)
		hasMask = 1
	}

	inputs := map[string]*backend.Tensor{
		inPointCoords:  backend.NewFloat32([]int64{1, n, 2}, coords),
		inPointLabels:  backend.NewFloat32([]int64{1, n}, labels),
		inMaskInput:    maskInput,
		inHasMaskInput: backend.NewFloat32([]int64{1}, []float32{hasMask}),
	}

	switch e.desc.Family {
	case registry.FamilySAM2:
		inputs[sam2Embed] = e.encoded.Embedding
		inputs[sam2HighRes0] = e.encoded.HighRes[0]
		inputs[sam2HighRes1] = e.encoded.HighRes[1]
	default:
		size := float32(e.desc.ImageSize)
		inputs[samEmbeddings] = e.encoded.Embedding
		inputs[inOrigImSize] = backend.NewFloat32([]int64{2}, []float32{size, size})
	}
	return inputs, nil
}

// readDecoderOutputs 兼容 masks/iou_predictions 与 low_res_masks/iou_pred 两套命名
func (e *Engine) readDecoderOutputs(outputs map[string]*backend.Tensor) (*DecodeResult, error) {
	maskNames := []string{"masks", "low_res_masks"}
	scoreNames := []string{"iou_predictions", "iou_pred"}
	if e.desc.Family == registry.FamilySAM {
		// sam 的 masks 是原图尺寸, 优先取低分辨率输出
		maskNames = []string{"low_res_masks", "masks"}
		scoreNames = []string{"iou_pred", "iou_predictions"}
	}

	result := &DecodeResult{
		Masks:  pick(outputs, maskNames...),
		Scores: pick(outputs, scoreNames...),
	}
	if result.Masks == nil || result.Scores == nil {
		return nil, fmt.Errorf("decoder 输出缺失, 需要 %v 与 %v", maskNames, scoreNames)
	}
	if len(result.Masks.Shape) != 4 {
		return nil, fmt.Errorf("mask 输出形状非法: %v", result.Masks.Shape)
	}
	if int64(len(result.Scores.Float)) != result.Masks.Shape[0]*result.Masks.Shape[1] {
		return nil, fmt.Errorf("分数个数(%d)与 mask 形状 %v 不一致", len(result.Scores.Float), result.Masks.Shape)
	}
	return result, nil
}

func pick(outputs map[string]*backend.Tensor, names ...string) *backend.Tensor {
	for _, n := range names {
		if t, ok := outputs[n]; ok {
			return t
		}
	}
	return nil
}

// Stats 统计信息快照
func (e *Engine) Stats() Stats {
	s := e.stats
	s.State = e.state.String()
	return s
}

// Dispose 释放会话与编码结果
func (e *Engine) Dispose() error {
	e.encoded = nil
	e.state = StateUninitialized
	return e.res.Dispose()
}
