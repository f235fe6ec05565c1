package handlers

import (
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/food-detect/internal/imaging"
	"github.com/Brownie44l1/food-detect/internal/log"
	"github.com/Brownie44l1/food-detect/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

const pageTemplate = "index.html"

// PageView is everything the page renders. The page is a pure function of it.
type PageView struct {
	Image       *imaging.SelectedImage
	Predictions []model.Prediction
	ModelLoaded bool
	Error       string
}

// ImageSrc marks the data URL as safe for the src attribute. Only URLs built
// by imaging for image MIME types pass.
func (v PageView) ImageSrc() template.URL {
	if v.Image == nil || !strings.HasPrefix(v.Image.Src, "data:image/") {
		return ""
	}
	return template.URL(v.Image.Src)
}

func loadTemplates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// GET /
func (h *Handler) Page(c *gin.Context) {
	h.renderPage(c, http.StatusOK, PageView{})
}

// POST /
func (h *Handler) Upload(c *gin.Context) {
	selected, status, err := h.readUpload(c)
	if err != nil {
		h.renderPage(c, status, PageView{Error: err.Error()})
		return
	}

	view := PageView{Image: selected}
	preds, err := h.predictor.Predict(c.Request.Context(), selected.Image)
	if err != nil {
		log.Error("prediction failed", "request_id", requestID(c), "error", err)
		view.Error = "Prediction failed."
		h.renderPage(c, http.StatusOK, view)
		return
	}
	view.Predictions = preds
	h.renderPage(c, http.StatusOK, view)
}

func (h *Handler) renderPage(c *gin.Context, status int, view PageView) {
	view.ModelLoaded = h.predictor.Loaded()
	c.HTML(status, pageTemplate, view)
}
