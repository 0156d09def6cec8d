package clickseg

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/getcharzp/go-clickseg/backend"
)

// 执行后端名称
const (
	ProviderCUDA   = "cuda"
	ProviderCoreML = "coreml"
	ProviderCPU    = "cpu"
)

type OnnxConfig struct {
	// 必填参数
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径
	// 可选参数
	UseCuda    bool // (可选) 是否优先尝试 CUDA
	UseCoreML  bool // (可选) 是否优先尝试 CoreML
	NumThreads int  // (可选) ONNX 线程数, 默认由CPU核心数决定
}

var (
	initErr error
	once    sync.Once
)

// New 初始化 ONNX 环境
func (cfg *OnnxConfig) New() error {
	// 初始化 ONNX Runtime
	if cfg.OnnxRuntimeLibPath == "" {
		return fmt.Errorf("OnnxRuntimeLibPath 不能为空")
	}
	once.Do(func() {
		ort.SetSharedLibraryPath(cfg.OnnxRuntimeLibPath)
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return fmt.Errorf("初始化 ONNX Runtime 环境失败: %w", initErr)
	}
	return nil
}

// Providers 按优先级返回执行后端, 加速后端在前, CPU 兜底
func (cfg *OnnxConfig) Providers() []backend.Provider {
	var providers []backend.Provider
	if cfg.UseCuda {
		providers = append(providers, &OnnxProvider{name: ProviderCUDA, cfg: cfg})
	}
	if cfg.UseCoreML {
		providers = append(providers, &OnnxProvider{name: ProviderCoreML, cfg: cfg})
	}
	return append(providers, &OnnxProvider{name: ProviderCPU, cfg: cfg})
}

// OnnxProvider onnxruntime 的一种执行后端
type OnnxProvider struct {
	name string
	cfg  *OnnxConfig
}

// Name 后端名称: cuda, coreml 或 cpu
func (p *OnnxProvider) Name() string { return p.name }

// Available 粗略判断当前环境能否使用该后端
func (p *OnnxProvider) Available() bool {
	if err := p.cfg.New(); err != nil {
		return false
	}
	switch p.name {
	case ProviderCUDA:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return false
		}
		cudaOptions.Destroy()
		return true
	case ProviderCoreML:
		return runtime.GOOS == "darwin"
	default:
		return true
	}
}

// sessionOptions 创建会话选项 (设置线程与执行后端)
func (p *OnnxProvider) sessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if p.cfg.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(p.cfg.NumThreads); err != nil {
			options.Destroy()
			return nil, err
		}
	}

	switch p.name {
	case ProviderCUDA:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("创建 CUDAProviderOptions 失败: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("添加 CUDA 执行提供者失败: %w", err)
		}
	case ProviderCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("添加 CoreML 执行提供者失败: %w", err)
		}
	}
	return options, nil
}

// NewSession 从模型字节创建会话
func (p *OnnxProvider) NewSession(model []byte) (backend.Session, error) {
	if err := p.cfg.New(); err != nil {
		return nil, err
	}
	inputInfo, outputInfo, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, fmt.Errorf("读取模型输入输出失败: %w", err)
	}
	s := &onnxSession{}
	for _, info := range inputInfo {
		s.inputs = append(s.inputs, info.Name)
	}
	for _, info := range outputInfo {
		s.outputs = append(s.outputs, info.Name)
	}

	options, err := p.sessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	s.session, err = ort.NewDynamicAdvancedSessionWithONNXData(model, s.inputs, s.outputs, options)
	if err != nil {
		return nil, fmt.Errorf("创建 %s ONNX 会话失败: %w", p.name, err)
	}
	return s, nil
}

// onnxSession 包装 DynamicAdvancedSession, 以张量名收发数据
type onnxSession struct {
	session *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string
}

func (s *onnxSession) InputNames() []string  { return s.inputs }
func (s *onnxSession) OutputNames() []string { return s.outputs }

func (s *onnxSession) Run(ctx context.Context, inputs map[string]*backend.Tensor) (map[string]*backend.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values := make([]ort.Value, 0, len(s.inputs))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()
	for _, name := range s.inputs {
		t, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("缺少输入张量: %s", name)
		}
		v, err := toOrtValue(t)
		if err != nil {
			return nil, fmt.Errorf("创建输入张量 %s 失败: %w", name, err)
		}
		values = append(values, v)
	}

	outputs := make([]ort.Value, len(s.outputs))
	if err := s.session.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("推理失败: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	result := make(map[string]*backend.Tensor, len(outputs))
	for i, o := range outputs {
		t, err := fromOrtValue(o)
		if err != nil {
			return nil, fmt.Errorf("读取输出张量 %s 失败: %w", s.outputs[i], err)
		}
		result[s.outputs[i]] = t
	}
	return result, nil
}

func (s *onnxSession) Destroy() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

func toOrtValue(t *backend.Tensor) (ort.Value, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	shape := ort.NewShape(t.Shape...)
	switch t.Type {
	case backend.Int64:
		return ort.NewTensor(shape, t.Int)
	default:
		return ort.NewTensor(shape, t.Float)
	}
}

// fromOrtValue 拷贝输出数据, 原始 Value 由调用方销毁
func fromOrtValue(v ort.Value) (*backend.Tensor, error) {
	switch o := v.(type) {
	case *ort.Tensor[float32]:
		data := append([]float32(nil), o.GetData()...)
		return backend.NewFloat32(append([]int64(nil), o.GetShape()...), data), nil
	case *ort.Tensor[int64]:
		data := append([]int64(nil), o.GetData()...)
		return backend.NewInt64(append([]int64(nil), o.GetShape()...), data), nil
	default:
		return nil, fmt.Errorf("不支持的输出类型 %T", v)
	}
}

// DefaultLibraryPath 根据运行时环境判断加载哪个库文件
func DefaultLibraryPath() string {
	baseDir := "./lib/"
	libName := "onnxruntime"

	// windows onnxruntime.dll
	if runtime.GOOS == "windows" {
		return baseDir + libName + ".dll"
	}

	// linux darwin ext
	var ext string
	switch runtime.GOOS {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so" // 默认返回 linux amd64
	}

	// 拼接完整路径: ./lib/onnxruntime + _ + amd64/arm64 + . + so/dylib
	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, runtime.GOARCH, ext)
}
