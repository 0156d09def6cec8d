package artifact

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-clickseg/backend"
	"github.com/getcharzp/go-clickseg/backend/backendtest"
)

type failingCache struct{ *MemoryCache }

func (failingCache) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func countingFetcher(calls *int32, payload map[string][]byte) Fetcher {
	return FetchFunc(func(_ context.Context, url string) ([]byte, error) {
		atomic.AddInt32(calls, 1)
		if b, ok := payload[url]; ok {
			return b, nil
		}
		return nil, errors.New("404")
	})
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "enc.onnx", FileName("https://host/a/b/enc.onnx"))
	assert.Equal(t, "enc.onnx", FileName("https://host/a/enc.onnx?download=true"))
	assert.Equal(t, "dec.onnx", FileName("models/dec.onnx"))
}

func TestDownloadArtifactCacheHit(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	require.NoError(t, cache.Put(ctx, "enc.onnx", []byte("cached")))

	var calls int32
	m := NewManager("https://x/enc.onnx", "https://x/dec.onnx", Options{
		Cache:   cache,
		Fetcher: countingFetcher(&calls, nil),
	})
	assert.Equal(t, []byte("cached"), m.DownloadArtifact(ctx, "https://x/enc.onnx"))
	assert.Zero(t, calls)
	assert.Equal(t, 1, m.Stats().CacheHits)
}

func TestDownloadArtifactMissWritesCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	var calls int32
	m := NewManager("", "", Options{
		Cache:   cache,
		Fetcher: countingFetcher(&calls, map[string][]byte{"https://x/enc.onnx": []byte("remote")}),
	})

	assert.Equal(t, []byte("remote"), m.DownloadArtifact(ctx, "https://x/enc.onnx"))
	data, ok, err := cache.Get(ctx, "enc.onnx")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("remote"), data)

	// 第二次命中缓存
	m.DownloadArtifact(ctx, "https://x/enc.onnx")
	assert.Equal(t, int32(1), calls)
}

func TestDownloadArtifactSwallowsCacheWriteFailure(t *testing.T) {
	var calls int32
	m := NewManager("", "", Options{
		Cache:   failingCache{NewMemoryCache()},
		Fetcher: countingFetcher(&calls, map[string][]byte{"u/enc.onnx": []byte("ok")}),
	})
	assert.Equal(t, []byte("ok"), m.DownloadArtifact(context.Background(), "u/enc.onnx"))
}

func TestDownloadArtifactFailureReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	m := NewManager("", "", Options{Fetcher: &HTTPFetcher{Client: srv.Client()}})
	assert.Nil(t, m.DownloadArtifact(context.Background(), srv.URL+"/enc.onnx"))
	assert.Equal(t, 1, m.Stats().DownloadFailures)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("weights"))
	}))
	defer srv.Close()

	data, err := (&HTTPFetcher{}).Fetch(context.Background(), srv.URL+"/m.onnx")
	require.NoError(t, err)
	assert.Equal(t, []byte("weights"), data)
}

func newStubProviders() (*backendtest.Provider, *backendtest.Provider) {
	sessions := map[string]*backendtest.Session{
		"enc": {Outputs: []string{"image_embeddings"}},
		"dec": {Outputs: []string{"masks", "iou_predictions"}},
	}
	gpu := &backendtest.Provider{ProviderName: "cuda", Err: errors.New("no device")}
	cpu := &backendtest.Provider{ProviderName: "cpu", Sessions: sessions}
	return gpu, cpu
}

func TestCreateSessionsFallbackAndMemoize(t *testing.T) {
	ctx := context.Background()
	var calls int32
	gpu, cpu := newStubProviders()
	var stages []Stage
	m := NewManager("u/enc", "u/dec", Options{
		Fetcher:    countingFetcher(&calls, map[string][]byte{"u/enc": []byte("enc"), "u/dec": []byte("dec")}),
		Providers:  []backend.Provider{gpu, cpu},
		OnProgress: func(p Progress) { stages = append(stages, p.Stage) },
	})

	require.True(t, m.DownloadModels(ctx))
	name, err := m.CreateSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cpu", name)
	assert.Equal(t, 2, cpu.Created)
	assert.NotNil(t, m.Session(RoleEncoder))
	assert.NotNil(t, m.Session(RoleDecoder))

	name, err = m.CreateSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cpu", name)
	assert.Equal(t, 2, cpu.Created, "sessions must be memoized")

	assert.Equal(t, []Stage{StageDownloading, StageDownloading, StageLoading, StageLoading}, stages)
	assert.Equal(t, "cpu", m.Backend())
}

func TestCreateSessionsSkipsUnavailable(t *testing.T) {
	ctx := context.Background()
	gpu, cpu := newStubProviders()
	gpu.Err = nil
	gpu.Sessions = cpu.Sessions
	gpu.Unavailable = true
	var calls int32
	m := NewManager("u/enc", "u/dec", Options{
		Fetcher:   countingFetcher(&calls, map[string][]byte{"u/enc": []byte("enc"), "u/dec": []byte("dec")}),
		Providers: []backend.Provider{gpu, cpu},
	})
	require.True(t, m.DownloadModels(ctx))
	name, err := m.CreateSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cpu", name)
	assert.Zero(t, gpu.Created)
}

func TestCreateSessionsNoBackend(t *testing.T) {
	ctx := context.Background()
	gpu, _ := newStubProviders()
	var calls int32
	m := NewManager("u/enc", "u/dec", Options{
		Fetcher:   countingFetcher(&calls, map[string][]byte{"u/enc": []byte("enc"), "u/dec": []byte("dec")}),
		Providers: []backend.Provider{gpu},
	})
	require.True(t, m.DownloadModels(ctx))
	_, err := m.CreateSessions(ctx)
	require.ErrorIs(t, err, ErrNoBackendAvailable)
	assert.Contains(t, err.Error(), "no device")
}

func TestCreateSessionsWithoutBytes(t *testing.T) {
	ctx := context.Background()
	_, cpu := newStubProviders()
	var calls int32
	m := NewManager("u/enc", "u/dec", Options{
		Fetcher:   countingFetcher(&calls, map[string][]byte{"u/enc": []byte("enc")}),
		Providers: []backend.Provider{cpu},
	})
	assert.False(t, m.DownloadModels(ctx))
	_, err := m.CreateSessions(ctx)
	require.ErrorIs(t, err, ErrDownloadFailed)
}

func TestDisposeIdempotent(t *testing.T) {
	ctx := context.Background()
	_, cpu := newStubProviders()
	var calls int32
	m := NewManager("u/enc", "u/dec", Options{
		Fetcher:   countingFetcher(&calls, map[string][]byte{"u/enc": []byte("enc"), "u/dec": []byte("dec")}),
		Providers: []backend.Provider{cpu},
	})
	require.True(t, m.DownloadModels(ctx))
	_, err := m.CreateSessions(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Dispose())
	require.NoError(t, m.Dispose())
	assert.True(t, cpu.Sessions["enc"].Destroyed)
	assert.True(t, cpu.Sessions["dec"].Destroyed)
	assert.Nil(t, m.Session(RoleEncoder))

	_, err = m.CreateSessions(ctx)
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestProgressCallbackMayQueryManager(t *testing.T) {
	ctx := context.Background()
	var calls int32
	_, cpu := newStubProviders()
	var (
		m        *Manager
		backends []string
	)
	m = NewManager("u/enc", "u/dec", Options{
		Fetcher:   countingFetcher(&calls, map[string][]byte{"u/enc": []byte("enc"), "u/dec": []byte("dec")}),
		Providers: []backend.Provider{cpu},
		OnProgress: func(p Progress) {
			_ = m.Stats()
			_ = m.Session(p.Role)
			backends = append(backends, m.Backend())
		},
	})

	done := make(chan error, 1)
	go func() {
		if !m.DownloadModels(ctx) {
			done <- errors.New("download failed")
			return
		}
		_, err := m.CreateSessions(ctx)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.FailNow(t, "progress callback deadlocked")
	}
	// 加载 decoder 时 encoder 的后端已确定
	assert.Equal(t, []string{"", "", "", "cpu"}, backends)
}
