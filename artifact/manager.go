// Package artifact 模型文件的下载、缓存与推理会话管理
package artifact

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/getcharzp/go-clickseg/backend"
)

var (
	// ErrDownloadFailed 创建会话时没有可用的模型字节
	ErrDownloadFailed = errors.New("模型下载失败")
	// ErrNoBackendAvailable 所有执行后端都无法加载模型
	ErrNoBackendAvailable = errors.New("没有可用的执行后端")
)

// Role 模型文件的角色
type Role int

const (
	RoleEncoder Role = iota
	RoleDecoder
)

func (r Role) String() string {
	if r == RoleEncoder {
		return "encoder"
	}
	return "decoder"
}

// Stage 进度阶段
type Stage int

const (
	StageDownloading Stage = iota
	StageLoading
)

// Progress 下载/加载进度通知
type Progress struct {
	Stage Stage
	Role  Role
	File  string
}

// Options Manager 的依赖
type Options struct {
	Cache     Cache
	Fetcher   Fetcher
	Providers []backend.Provider // 按优先级排列
	Logger    *zap.Logger
	// OnProgress (可选) 进度回调
	OnProgress func(Progress)
}

// Stats 资源统计
type Stats struct {
	CacheHits        int    `json:"cache_hits"`
	CacheMisses      int    `json:"cache_misses"`
	DownloadFailures int    `json:"download_failures"`
	EncoderBytes     int    `json:"encoder_bytes"`
	DecoderBytes     int    `json:"decoder_bytes"`
	Backend          string `json:"backend"`
}

type sessionEntry struct {
	session backend.Session
	backend string
}

// Manager 负责 encoder/decoder 两个模型文件及其会话
type Manager struct {
	urls [2]string
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	data     [2][]byte
	sessions [2]*sessionEntry
	stats    Stats
}

// NewManager 创建资源管理器
func NewManager(encoderURL, decoderURL string, opts Options) *Manager {
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.Fetcher == nil {
		opts.Fetcher = &HTTPFetcher{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		urls: [2]string{encoderURL, decoderURL},
		opts: opts,
		log:  log,
	}
}

func (m *Manager) progress(p Progress) {
	if m.opts.OnProgress != nil {
		m.opts.OnProgress(p)
	}
}

// DownloadArtifact 先查缓存, 未命中再下载并写入缓存
//
// 下载失败返回 nil, 由调用方决定是否致命; 写缓存失败只记录日志
func (m *Manager) DownloadArtifact(ctx context.Context, url string) []byte {
	name := FileName(url)
	log := m.log.With(zap.String("file", name))

	data, ok, err := m.opts.Cache.Get(ctx, name)
	if err != nil {
		log.Warn("cache read failed", zap.Error(err))
	}
	if ok {
		m.mu.Lock()
		m.stats.CacheHits++
		m.mu.Unlock()
		log.Debug("artifact cache hit", zap.Int("bytes", len(data)))
		return data
	}

	m.mu.Lock()
	m.stats.CacheMisses++
	m.mu.Unlock()

	data, err = m.opts.Fetcher.Fetch(ctx, url)
	if err != nil {
		m.mu.Lock()
		m.stats.DownloadFailures++
		m.mu.Unlock()
		log.Error("artifact download failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	log.Info("artifact downloaded", zap.Int("bytes", len(data)))

	if err := m.opts.Cache.Put(ctx, name, data); err != nil {
		log.Warn("cache write failed", zap.Error(err))
	}
	return data
}

// DownloadModels 依次获取 encoder 与 decoder, 两者都拿到时返回 true
func (m *Manager) DownloadModels(ctx context.Context) bool {
	for _, role := range []Role{RoleEncoder, RoleDecoder} {
		m.mu.Lock()
		have := m.data[role] != nil
		m.mu.Unlock()
		if have {
			continue
		}

		m.progress(Progress{Stage: StageDownloading, Role: role, File: FileName(m.urls[role])})
		data := m.DownloadArtifact(ctx, m.urls[role])

		m.mu.Lock()
		m.data[role] = data
		if role == RoleEncoder {
			m.stats.EncoderBytes = len(data)
		} else {
			m.stats.DecoderBytes = len(data)
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[RoleEncoder] != nil && m.data[RoleDecoder] != nil
}

// CreateSessions 创建两个会话, 返回 encoder 实际使用的后端名称
func (m *Manager) CreateSessions(ctx context.Context) (string, error) {
	enc, err := m.session(ctx, RoleEncoder)
	if err != nil {
		return "", err
	}
	if _, err := m.session(ctx, RoleDecoder); err != nil {
		return "", err
	}
	return enc.backend, nil
}

// session 获取或创建指定角色的会话, 创建成功后缓存
func (m *Manager) session(ctx context.Context, role Role) (*sessionEntry, error) {
	m.mu.Lock()
	e, data := m.sessions[role], m.data[role]
	m.mu.Unlock()
	if e != nil {
		return e, nil
	}
	if data == nil {
		return nil, errors.Wrapf(ErrDownloadFailed, "%s 模型不可用", role)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 回调可能访问 Stats/Backend, 不能持锁调用
	m.progress(Progress{Stage: StageLoading, Role: role, File: FileName(m.urls[role])})

	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.sessions[role]; e != nil {
		return e, nil
	}
	if data = m.data[role]; data == nil {
		return nil, errors.Wrapf(ErrDownloadFailed, "%s 模型已释放", role)
	}

	var failures []string
	for _, p := range m.opts.Providers {
		if !p.Available() {
			m.log.Debug("backend unavailable", zap.String("backend", p.Name()))
			failures = append(failures, p.Name()+": unavailable")
			continue
		}
		s, err := p.NewSession(data)
		if err != nil {
			m.log.Warn("backend rejected model",
				zap.String("backend", p.Name()), zap.Stringer("role", role), zap.Error(err))
			failures = append(failures, p.Name()+": "+err.Error())
			continue
		}
		e := &sessionEntry{session: s, backend: p.Name()}
		m.sessions[role] = e
		if role == RoleEncoder {
			m.stats.Backend = p.Name()
		}
		m.log.Info("session created", zap.String("backend", p.Name()), zap.Stringer("role", role))
		return e, nil
	}
	return nil, errors.Wrapf(ErrNoBackendAvailable, "%s [%s]", role, strings.Join(failures, "; "))
}

// Session 返回已创建的会话, 未创建时返回 nil
func (m *Manager) Session(role Role) backend.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.sessions[role]; e != nil {
		return e.session
	}
	return nil
}

// Backend encoder 使用的后端名称
func (m *Manager) Backend() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.Backend
}

// Stats 统计信息快照
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Dispose 释放会话与缓存的模型字节, 可重复调用
func (m *Manager) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for i, e := range m.sessions {
		if e == nil {
			continue
		}
		if err := e.session.Destroy(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "销毁 %s 会话失败", Role(i))
		}
		m.sessions[i] = nil
	}
	m.data = [2][]byte{}
	m.stats.Backend = ""
	return firstErr
}
