package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/food-detect/internal/config"
	"github.com/Brownie44l1/food-detect/internal/handlers"
	"github.com/Brownie44l1/food-detect/internal/log"
	"github.com/Brownie44l1/food-detect/internal/model"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log.Init(cfg.LogLevel)
	if os.Getenv("GO_ENV") != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	loader := model.NewLoader(cfg.ModelBaseURL, cfg.CacheDir, model.NewONNXSessionFactory(cfg.ONNXRuntimeLib))
	loader.Refresh = cfg.RefreshModel
	classifier := model.NewClassifier(loader)

	if cfg.EagerLoad {
		if err := classifier.Initialize(context.Background()); err != nil {
			log.Error("failed to load model at startup", "error", err)
			os.Exit(1)
		}
	}

	router := handlers.SetupRouter(handlers.NewHandler(classifier, cfg.MaxUploadBytes))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("server starting",
			"port", cfg.Port,
			"model_base_url", cfg.ModelBaseURL,
			"eager_load", cfg.EagerLoad)
		log.Info("endpoints",
			"page", "GET / , POST /",
			"health", "GET /health",
			"init", "POST /init",
			"predict", "POST /predict",
			"predict_image", "POST /predict/image")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
	}

	if classifier.Loaded() {
		if err := classifier.Close(); err != nil {
			log.Error("failed to release model", "error", err)
		}
		model.DestroyEnvironment()
	}
	log.Info("server stopped")
}
