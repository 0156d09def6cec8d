// Package backendtest 提供测试用的推理后端替身
package backendtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/getcharzp/go-clickseg/backend"
)

// RunFunc 替身会话的推理函数
type RunFunc func(inputs map[string]*backend.Tensor) (map[string]*backend.Tensor, error)

// Provider 可配置的执行后端替身
type Provider struct {
	ProviderName string
	Unavailable  bool
	// Err 非空时 NewSession 总是失败
	Err error
	// Sessions 按模型字节内容返回会话, 键为 string(model)
	Sessions map[string]*Session

	mu      sync.Mutex
	Created int
}

func (p *Provider) Name() string { return p.ProviderName }

func (p *Provider) Available() bool { return !p.Unavailable }

func (p *Provider) NewSession(model []byte) (backend.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	s, ok := p.Sessions[string(model)]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", string(model))
	}
	p.Created++
	return s, nil
}

// Session 会话替身, 记录最后一次输入
type Session struct {
	Inputs  []string
	Outputs []string
	Fn      RunFunc

	mu        sync.Mutex
	LastInput map[string]*backend.Tensor
	Runs      int
	Destroyed bool
}

func (s *Session) Run(_ context.Context, inputs map[string]*backend.Tensor) (map[string]*backend.Tensor, error) {
	s.mu.Lock()
	s.LastInput = inputs
	s.Runs++
	s.mu.Unlock()
	return s.Fn(inputs)
}

func (s *Session) InputNames() []string  { return s.Inputs }
func (s *Session) OutputNames() []string { return s.Outputs }

func (s *Session) Destroy() error {
	s.mu.Lock()
	s.Destroyed = true
	s.mu.Unlock()
	return nil
}

// Input 并发安全地读取最后一次输入
func (s *Session) Input(name string) *backend.Tensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastInput[name]
}

// Fixed 返回固定输出的推理函数, 每次调用都返回拷贝
func Fixed(outputs map[string]*backend.Tensor) RunFunc {
	return func(map[string]*backend.Tensor) (map[string]*backend.Tensor, error) {
		out := make(map[string]*backend.Tensor, len(outputs))
		for k, v := range outputs {
			out[k] = v.Clone()
		}
		return out, nil
	}
}
