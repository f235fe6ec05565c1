package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/food-detect/internal/imaging"
	"github.com/Brownie44l1/food-detect/internal/log"
	"github.com/Brownie44l1/food-detect/internal/model"
)

// Predictor is the classifier surface the handlers need. *model.Classifier
// implements it.
type Predictor interface {
	Initialize(ctx context.Context) error
	Loaded() bool
	TotalClasses() int
	Predict(ctx context.Context, img image.Image) ([]model.Prediction, error)
	PredictTopK(ctx context.Context, img image.Image, k int) ([]model.Prediction, error)
	PredictTensor(ctx context.Context, input []float32) ([]model.Prediction, error)
}

// multipartEnvelope is the allowance for boundaries and part headers on top
// of the file itself.
const multipartEnvelope = 1 << 20

type Handler struct {
	predictor      Predictor
	maxUploadBytes int64
}

func NewHandler(predictor Predictor, maxUploadBytes int64) *Handler {
	return &Handler{
		predictor:      predictor,
		maxUploadBytes: maxUploadBytes,
	}
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"model_loaded": h.predictor.Loaded(),
	})
}

// POST /init
func (h *Handler) Initialize(c *gin.Context) {
	if err := h.predictor.Initialize(c.Request.Context()); err != nil {
		log.Error("model initialization failed", "request_id", requestID(c), "error", err)
		if isFormPost(c) {
			h.renderPage(c, http.StatusInternalServerError, PageView{Error: "Could not load the model."})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Model initialization failed", "details": err.Error()})
		return
	}

	if isFormPost(c) {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"model_loaded":  true,
		"total_classes": h.predictor.TotalClasses(),
	})
}

// POST /predict
func (h *Handler) Predict(c *gin.Context) {
	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON", "details": err.Error()})
		return
	}

	preds, err := h.predictor.PredictTensor(c.Request.Context(), req.Image)
	if err != nil {
		if errors.Is(err, model.ErrInputSize) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error("prediction failed", "request_id", requestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Prediction failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.NewPredictionResponse(requestID(c), preds))
}

// POST /predict/image
func (h *Handler) PredictFromImage(c *gin.Context) {
	top := 0
	if raw := c.Query("top"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top must be a non-negative integer"})
			return
		}
		top = k
	}

	selected, status, err := h.readUpload(c)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	var preds []model.Prediction
	if top > 0 {
		preds, err = h.predictor.PredictTopK(c.Request.Context(), selected.Image, top)
	} else {
		preds, err = h.predictor.Predict(c.Request.Context(), selected.Image)
	}
	if err != nil {
		log.Error("prediction failed", "request_id", requestID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Prediction failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.NewPredictionResponse(requestID(c), preds))
}

// readUpload pulls the "image" form file out of a multipart request and
// decodes it. On failure it returns the HTTP status to answer with.
func (h *Handler) readUpload(c *gin.Context) (*imaging.SelectedImage, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartEnvelope)
	tooLargeErr := fmt.Errorf("image exceeds the %d byte upload limit", h.maxUploadBytes)

	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, http.StatusRequestEntityTooLarge, tooLargeErr
		}
		return nil, http.StatusBadRequest,
			errors.New("no image file provided, use 'image' as the form field name")
	}
	if header.Size > h.maxUploadBytes {
		return nil, http.StatusRequestEntityTooLarge, tooLargeErr
	}

	file, err := header.Open()
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	selected, err := imaging.LoadSelectedImage(file)
	if err != nil {
		log.Warn("rejected upload", "request_id", requestID(c), "filename", header.Filename, "error", err)
		return nil, http.StatusBadRequest, errors.New("invalid image format, supported: JPEG, PNG, GIF, BMP, WebP")
	}

	log.Info("received image",
		"request_id", requestID(c),
		"filename", header.Filename,
		"bytes", selected.Size,
		"format", selected.Format,
		"width", selected.Width(),
		"height", selected.Height())

	return selected, http.StatusOK, nil
}

func isFormPost(c *gin.Context) bool {
	switch c.ContentType() {
	case gin.MIMEPOSTForm, gin.MIMEMultipartPOSTForm:
		return true
	}
	return false
}
