// Package backend 定义推理后端的最小契约: 二进制模型 + 命名张量输入 → 命名张量输出
package backend

import "context"

// Session 一个已加载的模型会话
type Session interface {
	// Run 执行一次推理, 输入输出均以张量名为键
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	// InputNames 输入张量名 (声明顺序)
	InputNames() []string
	// OutputNames 输出张量名 (声明顺序)
	OutputNames() []string
	// Destroy 释放会话
	Destroy() error
}

// Provider 可选的执行后端, 例如 cuda / coreml / cpu
type Provider interface {
	Name() string
	// Available 当前环境是否可能使用该后端
	Available() bool
	// NewSession 从模型字节创建会话
	NewSession(model []byte) (Session, error)
}
