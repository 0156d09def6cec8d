package segmenter

import (
	"go.uber.org/zap"

	"github.com/getcharzp/go-clickseg/artifact"
	"github.com/getcharzp/go-clickseg/backend"
)

// Option 构造选项
type Option func(*settings)

type settings struct {
	providers []backend.Provider
	cache     artifact.Cache
	fetcher   artifact.Fetcher
	log       *zap.Logger
	progress  func(artifact.Progress)
}

func defaultSettings() settings {
	return settings{
		cache:   artifact.NewMemoryCache(),
		fetcher: &artifact.HTTPFetcher{},
		log:     zap.NewNop(),
	}
}

// WithProviders 执行后端, 按优先级排列
func WithProviders(providers ...backend.Provider) Option {
	return func(s *settings) { s.providers = providers }
}

// WithCache 模型文件缓存
func WithCache(cache artifact.Cache) Option {
	return func(s *settings) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// WithFetcher 模型文件下载方式
func WithFetcher(fetcher artifact.Fetcher) Option {
	return func(s *settings) {
		if fetcher != nil {
			s.fetcher = fetcher
		}
	}
}

// WithLogger 日志
func WithLogger(log *zap.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithProgress 下载/加载进度回调, 在 worker goroutine 中执行
func WithProgress(fn func(artifact.Progress)) Option {
	return func(s *settings) { s.progress = fn }
}
