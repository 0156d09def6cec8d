package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-clickseg/artifact"
	"github.com/getcharzp/go-clickseg/backend"
	"github.com/getcharzp/go-clickseg/backend/backendtest"
	"github.com/getcharzp/go-clickseg/registry"
	"github.com/getcharzp/go-clickseg/segmenter"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, initialize bool) *gin.Engine {
	t.Helper()
	enc := &backendtest.Session{
		Outputs: []string{"image_embeddings"},
		Fn:      backendtest.Fixed(map[string]*backend.Tensor{"image_embeddings": backend.Zeros(1, 8)}),
	}
	dec := &backendtest.Session{
		Fn: backendtest.Fixed(map[string]*backend.Tensor{
			"low_res_masks": backend.NewFloat32([]int64{1, 2, 2, 2}, []float32{
				1, -1, -1, -1,
				-1, -1, -1, -1,
			}),
			"iou_pred": backend.NewFloat32([]int64{1, 2}, []float32{0.75, 0.25}),
		}),
	}
	cache := artifact.NewMemoryCache()
	require.NoError(t, cache.Put(context.Background(), "enc", []byte("enc")))
	require.NoError(t, cache.Put(context.Background(), "dec", []byte("dec")))

	providers := []backend.Provider{&backendtest.Provider{
		ProviderName: "cpu",
		Sessions:     map[string]*backendtest.Session{"enc": enc, "dec": dec},
	}}
	seg, err := segmenter.New(registry.ModelDescriptor{
		ID:               "stub",
		EncoderURL:       "mem://enc",
		DecoderURL:       "mem://dec",
		ImageSize:        4,
		MaskSize:         2,
		Family:           registry.FamilySAM,
		EncoderInputName: "input",
		HasBatchAxis:     true,
		Layout:           registry.LayoutCHW,
	},
		segmenter.WithCache(cache),
		segmenter.WithProviders(providers...),
		segmenter.WithFetcher(artifact.FetchFunc(func(context.Context, string) ([]byte, error) {
			return nil, errors.New("offline")
		})),
	)
	require.NoError(t, err)
	t.Cleanup(seg.Dispose)
	if initialize {
		_, err := seg.Initialize(context.Background())
		require.NoError(t, err)
	}

	h := NewHandler(seg, Options{
		MaxUploadSize: 1 << 20,
		Capabilities:  segmenter.DetectCapabilities(providers, cache),
	})
	return NewRouter(h, nil)
}

func pngBody(t *testing.T, w, h int) (*bytes.Buffer, string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var raw bytes.Buffer
	require.NoError(t, png.Encode(&raw, img))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "test.png")
	require.NoError(t, err)
	_, err = fw.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func do(r http.Handler, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func segmentJSON(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(raw)
}

func TestSegmentFlow(t *testing.T) {
	r := newTestRouter(t, true)

	w := do(r, http.MethodPost, "/api/segment", segmentJSON(t, gin.H{"points": []gin.H{{"x": 0.5, "y": 0.5, "label": 1}}}), "application/json")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/api/overlay", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	body, ct := pngBody(t, 8, 4)
	w = do(r, http.MethodPost, "/api/image", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var img ImageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &img))
	assert.Equal(t, 8, img.Width)
	assert.Equal(t, 4, img.Height)

	w = do(r, http.MethodPost, "/api/segment", segmentJSON(t, gin.H{"points": []gin.H{{"x": 0.5, "y": 0.5, "label": 1}}}), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res SegmentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, float32(0.75), res.Score)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, float32(0.5), res.Bounds.Width)
	assert.NotEmpty(t, res.Mask)
	// 8x4 填充到 4x4 后内容位于第 1 行, 左上 mask 块映射回原图第 0 行
	assert.Equal(t, BBox{X: 0, Y: 0, Width: 4, Height: 2}, res.SourceBounds)

	w = do(r, http.MethodPost, "/api/segment", segmentJSON(t, gin.H{
		"box":    gin.H{"x": 0, "y": 0, "width": 0.5, "height": 0.5},
		"refine": true,
	}), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/overlay", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	overlay, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 4), overlay.Bounds())

	w = do(r, http.MethodGet, "/api/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var st segmenter.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.ImageSet)
	require.NotNil(t, st.Worker)
	assert.Equal(t, 2, st.Worker.Engine.Decodes)
}

func TestSegmentBadRequests(t *testing.T) {
	r := newTestRouter(t, true)
	body, ct := pngBody(t, 4, 4)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/image", body, ct).Code)

	w := do(r, http.MethodPost, "/api/segment", segmentJSON(t, gin.H{}), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.False(t, e.Success)
	assert.Contains(t, e.Error, segmenter.ErrNoPromptProvided.Error())

	w = do(r, http.MethodPost, "/api/segment", segmentJSON(t, gin.H{"points": []gin.H{{"x": 2, "y": 0.5}}}), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/segment", bytes.NewBufferString("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetImageErrors(t *testing.T) {
	r := newTestRouter(t, false)

	w := do(r, http.MethodPost, "/api/image", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "broken.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("not an image"))
	require.NoError(t, mw.Close())
	w = do(r, http.MethodPost, "/api/image", &body, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 未初始化
	b, ct := pngBody(t, 4, 4)
	w = do(r, http.MethodPost, "/api/image", b, ct)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestInfoRoutes(t *testing.T) {
	r := newTestRouter(t, false)

	w := do(r, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"initialized":false`)

	w = do(r, http.MethodGet, "/api/models", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var models struct {
		Current string      `json:"current"`
		Models  []ModelInfo `json:"models"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &models))
	assert.Equal(t, "stub", models.Current)
	assert.Len(t, models.Models, len(registry.List()))

	w = do(r, http.MethodGet, "/api/capabilities", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var caps segmenter.Capabilities
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &caps))
	assert.False(t, caps.Accelerated)
	assert.True(t, caps.BackgroundExecution)
	assert.Equal(t, registry.Recommended(false), caps.RecommendedModel)

	w = do(r, http.MethodGet, "/api/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
}
