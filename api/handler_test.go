package api

import (
	"context"
	"image"
	"image/png"
	"net/http"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-clickseg/imgtensor"
	"github.com/getcharzp/go-clickseg/registry"
	"github.com/getcharzp/go-clickseg/segmenter"
)

// fakeSegmenter 记录 Canvas 调用, 画布可以在请求之间被替换
type fakeSegmenter struct {
	mu          sync.Mutex
	letterbox   imgtensor.Letterbox
	ok          bool
	canvasCalls int
}

func (f *fakeSegmenter) IsInitialized() bool { return true }

func (f *fakeSegmenter) ModelConfig() registry.ModelDescriptor {
	return registry.ModelDescriptor{ID: "fake", ImageSize: 4, MaskSize: 2}
}

func (f *fakeSegmenter) SetImage(_ context.Context, img image.Image) error {
	b := img.Bounds()
	f.replace(imgtensor.NewLetterbox(b.Dx(), b.Dy(), 4), true)
	return nil
}

// Segment 固定返回左上角的 mask 块
func (f *fakeSegmenter) Segment(context.Context, segmenter.Options) (*segmenter.Result, error) {
	mask := []float32{1, 0, 0, 0}
	return &segmenter.Result{
		Image:        imgtensor.MaskToImage(mask, 2, 2),
		Mask:         mask,
		Width:        2,
		Height:       2,
		Score:        0.9,
		Bounds:       imgtensor.Bounds{Width: 0.5, Height: 0.5},
		SourceBounds: image.Rect(0, 0, 1, 1),
	}, nil
}

func (f *fakeSegmenter) Canvas() (*image.RGBA, imgtensor.Letterbox, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canvasCalls++
	return nil, f.letterbox, f.ok
}

func (f *fakeSegmenter) Stats(context.Context) (*segmenter.Stats, error) {
	return &segmenter.Stats{Model: "fake"}, nil
}

func (f *fakeSegmenter) replace(lb imgtensor.Letterbox, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letterbox, f.ok = lb, ok
}

func (f *fakeSegmenter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canvasCalls
}

func TestOverlayUsesLetterboxOfItsSource(t *testing.T) {
	fake := &fakeSegmenter{}
	r := NewRouter(NewHandler(fake, Options{}), nil)

	body, ct := pngBody(t, 8, 4)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/image", body, ct).Code)
	w := do(r, http.MethodPost, "/api/segment", segmentJSON(t, gin.H{"points": []gin.H{{"x": 0.1, "y": 0.3, "label": 1}}}), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	seen := fake.calls()

	// 分割器的画布已属于另一张 2x8 的图片
	fake.replace(imgtensor.NewLetterbox(2, 8, 4), false)

	w = do(r, http.MethodPost, "/api/overlay", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, seen, fake.calls())

	out, err := png.Decode(w.Body)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 8, 4), out.Bounds())
	// 8x4 的填充参数下, 左上 mask 块覆盖原图 x∈[0,4) y∈[0,2)
	_, _, b, _ := out.At(3, 1).RGBA()
	assert.NotZero(t, b)
	_, _, b, _ = out.At(6, 3).RGBA()
	assert.Zero(t, b)
}

func TestSetImageResetsLastResult(t *testing.T) {
	fake := &fakeSegmenter{}
	r := NewRouter(NewHandler(fake, Options{}), nil)

	body, ct := pngBody(t, 4, 4)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/image", body, ct).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/segment",
		segmentJSON(t, gin.H{"points": []gin.H{{"x": 0.1, "y": 0.1, "label": 1}}}), "application/json").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/overlay", nil, "").Code)

	body, ct = pngBody(t, 2, 8)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/image", body, ct).Code)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/overlay", nil, "").Code)
}
