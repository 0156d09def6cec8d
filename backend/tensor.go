package backend

import (
	"fmt"
)

// DataType 张量元素类型
type DataType int

const (
	Float32 DataType = iota
	Int64
)

func (t DataType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

// Tensor 推理后端之间传递的扁平张量
//
// 根据 Type 只使用 Float 或 Int 其中之一
type Tensor struct {
	Type  DataType
	Shape []int64
	Float []float32
	Int   []int64
}

// NewFloat32 创建 float32 张量, data 的所有权转移给张量
func NewFloat32(shape []int64, data []float32) *Tensor {
	return &Tensor{Type: Float32, Shape: shape, Float: data}
}

// NewInt64 创建 int64 张量
func NewInt64(shape []int64, data []int64) *Tensor {
	return &Tensor{Type: Int64, Shape: shape, Int: data}
}

// Zeros 创建全零 float32 张量
func Zeros(shape ...int64) *Tensor {
	return NewFloat32(shape, make([]float32, ShapeSize(shape)))
}

// ShapeSize 形状对应的元素个数
func ShapeSize(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return int(n)
}

// Size 元素个数
func (t *Tensor) Size() int {
	return ShapeSize(t.Shape)
}

// Len 实际数据长度
func (t *Tensor) Len() int {
	if t.Type == Int64 {
		return len(t.Int)
	}
	return len(t.Float)
}

// Validate 检查数据长度与形状是否一致
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("张量为空")
	}
	for _, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("张量形状非法: %v", t.Shape)
		}
	}
	if t.Len() != t.Size() {
		return fmt.Errorf("张量数据长度(%d)与形状 %v 不匹配", t.Len(), t.Shape)
	}
	return nil
}

// Clone 深拷贝
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	c := &Tensor{Type: t.Type, Shape: append([]int64(nil), t.Shape...)}
	if t.Float != nil {
		c.Float = append([]float32(nil), t.Float...)
	}
	if t.Int != nil {
		c.Int = append([]int64(nil), t.Int...)
	}
	return c
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%s, %v)", t.Type, t.Shape)
}
