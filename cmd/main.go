package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/do"
	"github.com/sirupsen/logrus"

	"github.com/SanishKumar/comfy-service/internal/api"
	"github.com/SanishKumar/comfy-service/internal/config"
	"github.com/SanishKumar/comfy-service/internal/inject"
	"github.com/SanishKumar/comfy-service/internal/records"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	// Configure global logger
	config.ConfigureGlobalLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize components
	injector := inject.Setup(ctx, cfg)
	apiHandler, err := do.Invoke[*api.Handler](injector)
	if err != nil {
		logrus.Fatalf("Failed to initialize service: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"comfyui":         cfg.Backend.Address,
		"storage_backend": cfg.Output.Backend,
		"records_redis":   do.MustInvoke[*records.Manager](injector).Persistent(),
		"wait_timeout":    cfg.Backend.WaitTimeout,
	}).Info("Service configured")

	// Start HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger(do.MustInvoke[*logrus.Logger](injector)))
	router.Use(api.CORS(cfg.AllowedOrigins))
	apiHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	// Start server
	go func() {
		logrus.Infof("Server starting on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Failed to listen: %s\n", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")

	// Graceful shutdown
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	if err := injector.Shutdown(); err != nil {
		logrus.WithError(err).Error("Failed to shut down components")
	}

	logrus.Info("Server exited")
}
