package artifact

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Cache 以文件名为键的模型字节存储
type Cache interface {
	// Get 未命中时返回 ok=false, err=nil
	Get(ctx context.Context, name string) (data []byte, ok bool, err error)
	Put(ctx context.Context, name string, data []byte) error
}

// FileName 取 URL 最后一段路径作为缓存键
func FileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	return path.Base(rawURL)
}

// DirCache 本地目录缓存
type DirCache struct {
	Dir string
}

// NewDirCache 创建目录缓存, 目录不存在时自动创建
func NewDirCache(dir string) (*DirCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "创建缓存目录 %s 失败", dir)
	}
	return &DirCache{Dir: dir}, nil
}

// path 缓存文件的完整路径, name 只能是单独的文件名
func (c *DirCache) path(name string) (string, error) {
	clean := filepath.Base(filepath.Clean(name))
	if clean == "." || clean == ".." || clean == string(filepath.Separator) || clean != name {
		return "", errors.Errorf("非法的缓存文件名: %q", name)
	}
	return filepath.Join(c.Dir, clean), nil
}

// Get 读取缓存文件, 文件不存在视为未命中
func (c *DirCache) Get(_ context.Context, name string) ([]byte, bool, error) {
	p, err := c.path(name)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "读取缓存 %s 失败", name)
	}
	return data, true, nil
}

// Put 先写临时文件再重命名, 避免留下半截文件
func (c *DirCache) Put(_ context.Context, name string, data []byte) error {
	p, err := c.path(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.Dir, name+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "创建临时文件失败")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "写入缓存 %s 失败", name)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "写入缓存 %s 失败", name)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), p), "写入缓存 %s 失败", name)
}

// Available 目录是否可写
func (c *DirCache) Available() bool {
	f, err := os.CreateTemp(c.Dir, ".writable-*")
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(f.Name())
	return true
}

// RedisCache 把模型字节存入 redis, 适合多实例共享
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache 使用已有 client 创建缓存
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "clickseg:artifact:"}
}

// Get 读取 redis 中的模型字节, redis.Nil 视为未命中
func (c *RedisCache) Get(ctx context.Context, name string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+name).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, errors.Wrapf(err, "读取 redis 缓存 %s 失败", name)
	}
	return data, true, nil
}

// Put 模型文件不设置过期时间
func (c *RedisCache) Put(ctx context.Context, name string, data []byte) error {
	return errors.Wrapf(c.client.Set(ctx, c.prefix+name, data, 0).Err(), "写入 redis 缓存 %s 失败", name)
}

// Available redis 是否可达
func (c *RedisCache) Available() bool {
	return c.client.Ping(context.Background()).Err() == nil
}

// MemoryCache 进程内缓存
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryCache 创建空的进程内缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string][]byte)}
}

// Get 返回缓存的字节, 调用方不应修改
func (c *MemoryCache) Get(_ context.Context, name string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.items[name]
	return data, ok, nil
}

// Put 保存字节, 同名覆盖
func (c *MemoryCache) Put(_ context.Context, name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[name] = data
	return nil
}

// Available 进程内缓存不持久化
func (c *MemoryCache) Available() bool { return false }
