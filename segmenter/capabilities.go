package segmenter

import (
	"github.com/getcharzp/go-clickseg/artifact"
	"github.com/getcharzp/go-clickseg/backend"
	"github.com/getcharzp/go-clickseg/registry"
)

// Capabilities 运行环境探测结果
type Capabilities struct {
	Accelerated         bool   `json:"accelerated"`
	PersistentCache     bool   `json:"persistent_cache"`
	BackgroundExecution bool   `json:"background_execution"`
	RecommendedModel    string `json:"recommended_model"`
}

type availability interface {
	Available() bool
}

// DetectCapabilities 探测加速后端与持久缓存是否可用
//
// cpu 以外任一可用的后端都算作加速; cache 为 nil 或没有 Available 方法时视为不可持久化
func DetectCapabilities(providers []backend.Provider, cache artifact.Cache) Capabilities {
	var c Capabilities
	for _, p := range providers {
		if p.Name() != "cpu" && p.Available() {
			c.Accelerated = true
			break
		}
	}
	if a, ok := cache.(availability); ok {
		c.PersistentCache = a.Available()
	}
	c.BackgroundExecution = true
	c.RecommendedModel = registry.Recommended(c.Accelerated)
	return c
}

// Models 内置模型列表
func Models() []registry.ModelDescriptor {
	return registry.List()
}
