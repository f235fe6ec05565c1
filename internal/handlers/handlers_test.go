package handlers

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
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/food-detect/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePredictor struct {
	mu         sync.Mutex
	loaded     bool
	initCalls  int
	initErr    error
	predictErr error
	preds      []model.Prediction
	lastTop    int
	lastTensor []float32
}

func newFakePredictor() *fakePredictor {
	return &fakePredictor{
		preds: []model.Prediction{
			{ClassName: "pizza", Probability: "0.12", Score: 0.12},
			{ClassName: "sushi", Probability: "0.73", Score: 0.73},
			{ClassName: "salad", Probability: "0.15", Score: 0.15},
		},
	}
}

func (f *fakePredictor) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.initErr != nil {
		return f.initErr
	}
	f.loaded = true
	return nil
}

func (f *fakePredictor) Loaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *fakePredictor) TotalClasses() int {
	if !f.Loaded() {
		return 0
	}
	return len(f.preds)
}

func (f *fakePredictor) Predict(ctx context.Context, img image.Image) ([]model.Prediction, error) {
	if err := f.Initialize(ctx); err != nil {
		return nil, err
	}
	if f.predictErr != nil {
		return nil, f.predictErr
	}
	return f.preds, nil
}

func (f *fakePredictor) PredictTopK(ctx context.Context, img image.Image, k int) ([]model.Prediction, error) {
	f.lastTop = k
	preds, err := f.Predict(ctx, img)
	if err != nil {
		return nil, err
	}
	return model.TopK(preds, k), nil
}

func (f *fakePredictor) PredictTensor(ctx context.Context, input []float32) ([]model.Prediction, error) {
	f.lastTensor = input
	if len(input) != 3 {
		return nil, model.ErrInputSize
	}
	return f.Predict(ctx, nil)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "dinner.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newTestRouter(p Predictor) *gin.Engine {
	return SetupRouter(NewHandler(p, 1<<20))
}

func TestHealth(t *testing.T) {
	r := newTestRouter(newFakePredictor())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["model_loaded"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestPageInitialState(t *testing.T) {
	r := newTestRouter(newFakePredictor())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	html := w.Body.String()
	assert.Contains(t, html, `accept="image/*"`)
	assert.Contains(t, html, "Load model")
	assert.Contains(t, html, "Model not loaded")
	assert.NotContains(t, html, "<img")
	assert.NotContains(t, html, "<ul")
}

func TestUploadRendersImageAndPredictions(t *testing.T) {
	p := newFakePredictor()
	r := newTestRouter(p)

	w := serve(r, multipartRequest(t, "/", "image", pngBytes(t, 12, 9)))
	require.Equal(t, http.StatusOK, w.Code)

	html := w.Body.String()
	assert.Contains(t, html, `<img src="data:image/png;base64,`)
	assert.Contains(t, html, "<ul>")
	assert.Contains(t, html, "<li>pizza: 0.12</li>")
	assert.Contains(t, html, "<li>sushi: 0.73</li>")
	assert.Contains(t, html, "<li>salad: 0.15</li>")
	assert.Contains(t, html, "Model loaded")
	assert.Equal(t, 1, p.initCalls, "first upload loads the model")
}

func TestUploadShowsImageOnlyWhenPredictionFails(t *testing.T) {
	p := newFakePredictor()
	p.predictErr = errors.New("session exploded")
	r := newTestRouter(p)

	w := serve(r, multipartRequest(t, "/", "image", pngBytes(t, 4, 4)))
	require.Equal(t, http.StatusOK, w.Code)

	html := w.Body.String()
	assert.Contains(t, html, `<img src="data:image/png;base64,`)
	assert.NotContains(t, html, "<ul")
	assert.Contains(t, html, "Prediction failed.")
}

func TestUploadRejectsCorruptFile(t *testing.T) {
	r := newTestRouter(newFakePredictor())

	w := serve(r, multipartRequest(t, "/", "image", []byte("not a picture")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "<img")
	assert.Contains(t, w.Body.String(), "invalid image format")
}

func TestPredictFromImage(t *testing.T) {
	r := newTestRouter(newFakePredictor())

	req := multipartRequest(t, "/predict/image", "image", pngBytes(t, 8, 8))
	req.Header.Set(requestIDHeader, "abc-123")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.PredictionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "abc-123", resp.RequestID)
	assert.Equal(t, "sushi", resp.Class)
	require.Len(t, resp.Predictions, 3)
	assert.Equal(t, "pizza", resp.Predictions[0].ClassName)
	assert.Equal(t, "0.12", resp.Predictions[0].Probability)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestPredictFromImageTop(t *testing.T) {
	p := newFakePredictor()
	r := newTestRouter(p)

	w := serve(r, multipartRequest(t, "/predict/image?top=1", "image", pngBytes(t, 8, 8)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, p.lastTop)

	var resp model.PredictionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Predictions, 1)
	assert.Equal(t, "sushi", resp.Predictions[0].ClassName)

	w = serve(r, multipartRequest(t, "/predict/image?top=x", "image", pngBytes(t, 8, 8)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictFromImageBadUploads(t *testing.T) {
	t.Run("wrong field", func(t *testing.T) {
		r := newTestRouter(newFakePredictor())
		w := serve(r, multipartRequest(t, "/predict/image", "file", pngBytes(t, 4, 4)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "'image'")
	})

	t.Run("too large", func(t *testing.T) {
		r := SetupRouter(NewHandler(newFakePredictor(), 512))
		w := serve(r, multipartRequest(t, "/predict/image", "image", bytes.Repeat([]byte{0xAB}, 4096)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("file at the limit", func(t *testing.T) {
		img := pngBytes(t, 8, 8)
		r := SetupRouter(NewHandler(newFakePredictor(), int64(len(img))))
		w := serve(r, multipartRequest(t, "/predict/image", "image", img))
		assert.Equal(t, http.StatusOK, w.Code)

		w = serve(r, multipartRequest(t, "/predict/image", "image", append(img, 0)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("body beyond the envelope", func(t *testing.T) {
		r := SetupRouter(NewHandler(newFakePredictor(), 512))
		w := serve(r, multipartRequest(t, "/predict/image", "image", bytes.Repeat([]byte{0xAB}, 512+multipartEnvelope+1)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("model failure", func(t *testing.T) {
		p := newFakePredictor()
		p.initErr = errors.New("model host unreachable")
		r := newTestRouter(p)
		w := serve(r, multipartRequest(t, "/predict/image", "image", pngBytes(t, 4, 4)))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.False(t, p.Loaded())
	})
}

func TestPredictRawTensor(t *testing.T) {
	p := newFakePredictor()
	r := newTestRouter(p)

	w := serve(r, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"image":[0.1,0.2,0.3]}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, p.lastTensor)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"image":[0.1]}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitialize(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		p := newFakePredictor()
		r := newTestRouter(p)

		w := serve(r, httptest.NewRequest(http.MethodPost, "/init", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, true, body["model_loaded"])
		assert.EqualValues(t, 3, body["total_classes"])
	})

	t.Run("form redirects to page", func(t *testing.T) {
		p := newFakePredictor()
		r := newTestRouter(p)

		req := httptest.NewRequest(http.MethodPost, "/init", strings.NewReader(url.Values{}.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := serve(r, req)
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))
		assert.True(t, p.Loaded())
	})

	t.Run("failure", func(t *testing.T) {
		p := newFakePredictor()
		p.initErr = errors.New("404 on model.json")
		r := newTestRouter(p)

		w := serve(r, httptest.NewRequest(http.MethodPost, "/init", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "404 on model.json")
	})
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(newFakePredictor())

	w := serve(r, httptest.NewRequest(http.MethodOptions, "/predict/image", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestImageSrcOnlyTrustsImageDataURLs(t *testing.T) {
	assert.Empty(t, PageView{}.ImageSrc())
}
