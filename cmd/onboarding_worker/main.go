package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/oksasatya/pix-license-api/config"
	"github.com/oksasatya/pix-license-api/internal/container"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-onboarding-worker", cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	if cfg.StoreDriver == "memory" {
		logger.Fatal("STORE_DRIVER=memory: the API process runs the onboarding consumer itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.Build(ctx, cfg, logger, "onboarding_worker")
	if err != nil {
		logger.Fatalf("startup failed: %v", err)
	}
	defer c.Close()

	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", c.Metrics.Handler())
		metricsSrv = &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	q := c.OnboardingQueue
	q.OnDisposition = func(d helpers.Disposition) {
		c.Metrics.QueueSettled(cfg.RabbitMQOnboardingQueue, d.String())
	}

	logger.WithField("queue", cfg.RabbitMQOnboardingQueue).Info("onboarding worker started")
	// Consume returns once ctx is done and the in-flight delivery is settled.
	if err := q.Consume(ctx, c.Onboarding.HandleDelivery, c.Onboarding.OnPark); err != nil {
		logger.WithError(err).Error("consumer stopped")
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info("onboarding worker exited")
}
