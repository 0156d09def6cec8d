package artifact

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Fetcher 通过网络获取模型字节
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher 使用 net/http 下载, 非 2xx 状态视为失败
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch GET 下载 url 的完整响应体, Client 为空时使用 http.DefaultClient
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "构造请求失败")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "下载 %s 失败", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("下载 %s 失败: HTTP %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "读取 %s 响应失败", url)
	}
	return data, nil
}

// FetchFunc 函数形式的 Fetcher
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch 调用 f
func (f FetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}
