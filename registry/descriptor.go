package registry

import (
	"fmt"
	"strings"
)

// Family 模型家族, 决定编码/解码张量的组织方式
type Family string

const (
	// FamilySAM 单一 image_embeddings 输出, 解码需要 orig_im_size
	FamilySAM Family = "sam"
	// FamilySAM2 编码输出 image_embed + 两个高分辨率特征
	FamilySAM2 Family = "sam2"
)

// Layout 编码器输入的轴顺序
type Layout string

const (
	LayoutCHW Layout = "chw"
	LayoutHWC Layout = "hwc"
)

// Normalization 逐通道归一化参数: (v*Scale - Mean[c]) / Std[c]
type Normalization struct {
	Mean  [3]float32
	Std   [3]float32
	Scale float32
}

// ImageNet 常用的 ImageNet 均值方差, 每次返回新的副本
func ImageNet() *Normalization {
	return &Normalization{
		Mean:  [3]float32{0.485, 0.456, 0.406},
		Std:   [3]float32{0.229, 0.224, 0.225},
		Scale: 1,
	}
}

// ModelDescriptor 模型变体的描述信息, 构建注册表后不再修改
type ModelDescriptor struct {
	ID          string
	Name        string
	Description string
	SizeMB      int

	EncoderURL string
	DecoderURL string

	ImageSize int // 编码器输入的正方形边长
	MaskSize  int // 低分辨率 mask 边长

	Family           Family
	EncoderInputName string
	HasBatchAxis     bool
	Layout           Layout

	// 可选的预处理, 二者通常只设置一个
	Normalization *Normalization
	InputRange    float32
}

// Validate 校验描述信息
func (d ModelDescriptor) Validate() error {
	var problems []string
	if d.ID == "" {
		problems = append(problems, "id 不能为空")
	}
	if d.EncoderURL == "" || d.DecoderURL == "" {
		problems = append(problems, "encoder/decoder 地址不能为空")
	}
	if d.ImageSize <= 0 {
		problems = append(problems, fmt.Sprintf("image size 非法: %d", d.ImageSize))
	}
	if d.MaskSize <= 0 {
		problems = append(problems, fmt.Sprintf("mask size 非法: %d", d.MaskSize))
	}
	switch d.Family {
	case FamilySAM, FamilySAM2:
	default:
		problems = append(problems, fmt.Sprintf("未知模型家族: %q", d.Family))
	}
	switch d.Layout {
	case LayoutCHW, LayoutHWC:
	default:
		problems = append(problems, fmt.Sprintf("未知轴顺序: %q", d.Layout))
	}
	if d.EncoderInputName == "" {
		problems = append(problems, "encoder 输入名不能为空")
	}
	if n := d.Normalization; n != nil {
		for c, s := range n.Std {
			if s == 0 {
				problems = append(problems, fmt.Sprintf("通道 %d 的 std 为 0", c))
			}
		}
	}
	if d.InputRange < 0 {
		problems = append(problems, fmt.Sprintf("input range 非法: %v", d.InputRange))
	}
	if len(problems) > 0 {
		return fmt.Errorf("模型 %q 描述非法: %s", d.ID, strings.Join(problems, "; "))
	}
	return nil
}

// Clone 深拷贝, 修改副本不会影响注册表中的描述
func (d ModelDescriptor) Clone() ModelDescriptor {
	if d.Normalization != nil {
		n := *d.Normalization
		d.Normalization = &n
	}
	return d
}

// MaskShape 解码器 mask_input 的形状
func (d ModelDescriptor) MaskShape() []int64 {
	return []int64{1, 1, int64(d.MaskSize), int64(d.MaskSize)}
}
