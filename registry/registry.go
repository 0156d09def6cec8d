// Package registry 支持的分割模型目录
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownModel 模型 id 不存在
var ErrUnknownModel = errors.New("未知模型")

// Registry 只读的模型目录, 存入与取出都是描述的副本
type Registry struct {
	byID map[string]ModelDescriptor
	ids  []string
}

// New 构建注册表, aliases 的键为别名, 值为规范 id
func New(descriptors []ModelDescriptor, aliases map[string]string) (*Registry, error) {
	r := &Registry{byID: make(map[string]ModelDescriptor, len(descriptors)+len(aliases))}
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("模型 id 重复: %q", d.ID)
		}
		r.byID[d.ID] = d.Clone()
	}
	for alias, id := range aliases {
		d, ok := r.byID[id]
		if !ok {
			return nil, fmt.Errorf("别名 %q 指向不存在的模型 %q", alias, id)
		}
		if _, dup := r.byID[alias]; dup {
			return nil, fmt.Errorf("别名与已有 id 冲突: %q", alias)
		}
		r.byID[alias] = d.Clone()
	}
	for id := range r.byID {
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Get 按 id 或别名查找
func (r *Registry) Get(id string) (ModelDescriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("%w: %q, 可选: %s", ErrUnknownModel, id, strings.Join(r.ids, ", "))
	}
	return d.Clone(), nil
}

// IDs 所有可查找的 id (含别名), 已排序
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// List 去重后的规范描述, 按 id 排序
func (r *Registry) List() []ModelDescriptor {
	var out []ModelDescriptor
	for _, id := range r.ids {
		if d := r.byID[id]; d.ID == id {
			out = append(out, d.Clone())
		}
	}
	return out
}
