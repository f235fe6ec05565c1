package handlers

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter wires the page, the JSON API and the middleware chain.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(withRequestID())
	r.Use(requestLogger())
	r.Use(enableCORS())

	r.SetHTMLTemplate(loadTemplates())
	r.MaxMultipartMemory = h.maxUploadBytes

	r.GET("/", h.Page)
	r.POST("/", h.Upload)
	r.GET("/health", h.Health)
	r.POST("/init", h.Initialize)
	r.POST("/predict", h.Predict)
	r.POST("/predict/image", h.PredictFromImage)

	return r
}
