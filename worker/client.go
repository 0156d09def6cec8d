package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/getcharzp/go-clickseg/artifact"
	"github.com/getcharzp/go-clickseg/engine"
	"github.com/getcharzp/go-clickseg/registry"
)

var (
	// ErrWorkerNotConfigured 通道尚未建立或已关闭
	ErrWorkerNotConfigured = errors.New("worker 未配置")
	// ErrWorkerClosed 等待响应期间 worker 被关闭
	ErrWorkerClosed = errors.New("worker 已关闭")
)

// Client 调用方一侧的通道端点
//
// 每个请求带唯一 id, 响应按 id 匹配; 进度消息不会结束等待
type Client struct {
	w   *Worker
	log *zap.Logger

	// OnMessage (可选) 收到进度等非终止消息时回调, 在分发 goroutine 中执行
	OnMessage func(Message)

	mu        sync.Mutex
	listeners map[string]chan Message
	closed    bool
	closeOnce sync.Once
	drained   chan struct{}
}

// Spawn 启动 worker goroutine 并返回客户端
func Spawn(desc registry.ModelDescriptor, opts artifact.Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		w:         newWorker(desc, opts, log),
		log:       log,
		listeners: make(map[string]chan Message),
		drained:   make(chan struct{}),
	}
	go c.w.run()
	go c.dispatch()
	return c
}

// dispatch 读取 worker 输出并交给对应的监听者
func (c *Client) dispatch() {
	defer close(c.drained)
	for m := range c.w.out {
		if !isTerminal(m.Type) {
			c.notify(m)
			continue
		}
		c.mu.Lock()
		ch, ok := c.listeners[m.ID]
		c.mu.Unlock()
		if !ok {
			c.notify(m)
			continue
		}
		// 每个 id 只有一条终止消息, 缓冲为 1 的通道不会阻塞
		ch <- m
	}

	c.mu.Lock()
	for id, ch := range c.listeners {
		close(ch)
		delete(c.listeners, id)
	}
	c.mu.Unlock()
}

func (c *Client) notify(m Message) {
	if c.OnMessage != nil {
		c.OnMessage(m)
	} else if m.Type == TypeError {
		c.log.Warn("unclaimed worker error", zap.String("id", m.ID), zap.String("error", m.Error))
	}
}

// call 发送请求并等待对应的终止消息
func (c *Client) call(ctx context.Context, req Message) (Message, error) {
	if c == nil {
		return Message{}, ErrWorkerNotConfigured
	}
	want := terminal[req.Type]
	req.ID = uuid.NewString()
	ch := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, ErrWorkerNotConfigured
	}
	c.listeners[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.listeners, req.ID)
		c.mu.Unlock()
	}()

	select {
	case c.w.in <- req:
	case <-c.w.done:
		return Message{}, ErrWorkerClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}

	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return Message{}, ErrWorkerClosed
			}
			switch m.Type {
			case TypeError:
				return Message{}, &RemoteError{Message: m.Error}
			case want:
				return m, nil
			default:
				c.notify(m)
			}
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Ping 下载模型并创建会话, 返回 encoder 使用的后端
func (c *Client) Ping(ctx context.Context, modelID string) (string, error) {
	m, err := c.call(ctx, Message{Type: TypePing, ModelID: modelID})
	if err != nil {
		return "", err
	}
	return m.Device, nil
}

// EncodeImage 编码图片, tensor 的所有权转移给 worker
func (c *Client) EncodeImage(ctx context.Context, tensor []float32, shape []int64) (float64, error) {
	m, err := c.call(ctx, Message{Type: TypeEncodeImage, Tensor: tensor, Shape: shape})
	if err != nil {
		return 0, err
	}
	return m.DurationMs, nil
}

// DecodeMask 解码 mask, mask 可为 nil
func (c *Client) DecodeMask(ctx context.Context, points []engine.Point, mask []float32, maskShape []int64) (*engine.DecodeResult, error) {
	m, err := c.call(ctx, Message{Type: TypeDecodeMask, Points: points, Mask: mask, MaskShape: maskShape})
	if err != nil {
		return nil, err
	}
	return &engine.DecodeResult{Masks: m.Masks, Scores: m.IoUPredictions}, nil
}

// Stats 查询 worker 统计
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	m, err := c.call(ctx, Message{Type: TypeStats})
	if err != nil {
		return nil, err
	}
	return m.Stats, nil
}

// Close 终止 worker 并释放会话, 可重复调用
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.w.quit)
		<-c.w.done
		<-c.drained
	})
}
