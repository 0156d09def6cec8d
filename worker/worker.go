// Package worker 在独立 goroutine 中运行推理, 通过消息与调用方通信
package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/getcharzp/go-clickseg/artifact"
	"github.com/getcharzp/go-clickseg/backend"
	"github.com/getcharzp/go-clickseg/engine"
	"github.com/getcharzp/go-clickseg/registry"
)

// Worker 独占一个 Engine, 串行处理请求
type Worker struct {
	desc   registry.ModelDescriptor
	engine *engine.Engine
	log    *zap.Logger

	in   chan Message
	out  chan Message
	quit chan struct{}
	done chan struct{}

	// current 正在处理的请求 id, 用于标记进度消息
	current string
}

func newWorker(desc registry.ModelDescriptor, opts artifact.Options, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Worker{
		desc: desc,
		log:  log.With(zap.String("model", desc.ID)),
		in:   make(chan Message),
		out:  make(chan Message, 16),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	onProgress := opts.OnProgress
	opts.OnProgress = func(p artifact.Progress) {
		typ := TypeDownloadInProgress
		if p.Stage == artifact.StageLoading {
			typ = TypeLoadingInProgress
		}
		w.emit(Message{ID: w.current, Type: typ, File: p.File})
		if onProgress != nil {
			onProgress(p)
		}
	}
	opts.Logger = log
	res := artifact.NewManager(desc.EncoderURL, desc.DecoderURL, opts)
	w.engine = engine.New(desc, res, log)
	return w
}

func (w *Worker) emit(m Message) {
	w.out <- m
}

// run 消息循环, 退出时释放引擎并关闭输出通道
func (w *Worker) run() {
	defer close(w.done)
	defer close(w.out)
	defer func() {
		if err := w.engine.Dispose(); err != nil {
			w.log.Warn("dispose failed", zap.Error(err))
		}
	}()

	for {
		select {
		case <-w.quit:
			return
		case m := <-w.in:
			w.current = m.ID
			w.emit(w.handle(m))
			w.current = ""
		}
	}
}

// handle 处理一个请求, 所有失败 (包括 panic) 都转换为一条 error 消息
func (w *Worker) handle(m Message) (reply Message) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			reply = Message{ID: m.ID, Type: TypeError, Error: fmt.Sprintf("worker panic: %v", r)}
		}
	}()

	reply, err := w.dispatch(m)
	if err != nil {
		w.log.Warn("request failed", zap.String("type", string(m.Type)), zap.Error(err))
		return Message{ID: m.ID, Type: TypeError, Error: err.Error()}
	}
	reply.ID = m.ID
	return reply
}

func (w *Worker) dispatch(m Message) (Message, error) {
	ctx := context.Background()
	switch m.Type {
	case TypePing:
		if m.ModelID != "" && m.ModelID != w.desc.ID {
			return Message{}, fmt.Errorf("worker 加载的模型为 %q, 请求的是 %q", w.desc.ID, m.ModelID)
		}
		w.engine.DownloadModels(ctx)
		device, err := w.engine.CreateSessions(ctx)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypePong, Success: true, Device: device}, nil

	case TypeEncodeImage:
		d, err := w.engine.EncodeImage(ctx, m.Tensor, m.Shape)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeEncodeImageDone, DurationMs: float64(d.Microseconds()) / 1000}, nil

	case TypeDecodeMask:
		var prev *backend.Tensor
		if m.Mask != nil {
			prev = backend.NewFloat32(m.MaskShape, m.Mask)
		}
		res, err := w.engine.Decode(ctx, m.Points, prev)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeDecodeMaskResult, Masks: res.Masks, IoUPredictions: res.Scores}, nil

	case TypeStats:
		return Message{Type: TypeStats, Stats: &Stats{
			ModelID:   w.desc.ID,
			Engine:    w.engine.Stats(),
			Artifacts: w.engine.Artifacts().Stats(),
		}}, nil

	default:
		return Message{}, fmt.Errorf("未知消息类型: %q", m.Type)
	}
}
