package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/oksasatya/pix-license-api/config"
	"github.com/oksasatya/pix-license-api/internal/container"
	"github.com/oksasatya/pix-license-api/internal/router"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
)

func main() {
	_ = godotenv.Load() // load .env if present

	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName, cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.Build(ctx, cfg, logger, "api")
	if err != nil {
		logger.Fatalf("startup failed: %v", err)
	}
	defer c.Close()

	// An in-memory store is only visible to this process, so the
	// onboarding consumer has to run here too.
	consumerDone := make(chan struct{})
	if cfg.StoreDriver == "memory" {
		c.OnboardingQueue.OnDisposition = func(d helpers.Disposition) {
			c.Metrics.QueueSettled(cfg.RabbitMQOnboardingQueue, d.String())
		}
		go func() {
			defer close(consumerDone)
			_ = c.OnboardingQueue.Consume(ctx, c.Onboarding.HandleDelivery, c.Onboarding.OnPark)
		}()
		logger.Info("onboarding consumer running in-process")
	} else {
		close(consumerDone)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router.NewEngine(c), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %s", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}
	select {
	case <-consumerDone:
	case <-ctxShutdown.Done():
	}
	logger.Info("server exited properly")
}
