package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/oksasatya/pix-license-api/config"
	"github.com/oksasatya/pix-license-api/internal/container"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/metrics"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
	"github.com/oksasatya/pix-license-api/pkg/mailer"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-email-worker", cfg.Env, cfg.LogLevel)

	if !cfg.MailSendEnabled {
		logger.Info("MAIL_SEND_ENABLED=false; email worker disabled (no real emails will be sent)")
		return
	}
	if cfg.RabbitMQURL == "" || cfg.RabbitMQEmailQueue == "" {
		logger.Fatal("RabbitMQ not configured")
	}
	if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" || cfg.MailgunSender == "" {
		logger.Fatal("Mailgun not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("email_worker")
	q := helpers.NewWorkQueue(cfg.RabbitMQURL, container.EmailTopology(cfg), logger)
	defer func() { _ = q.Close() }()
	q.OnDisposition = func(d helpers.Disposition) { m.QueueSettled(cfg.RabbitMQEmailQueue, d.String()) }

	dispatcher := mailer.NewDispatcher(mailer.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender), logger)

	logger.WithField("queue", cfg.RabbitMQEmailQueue).Info("email worker listening")
	err := q.Consume(ctx, func(ctx context.Context, d helpers.Delivery) error {
		return dispatcher.Handle(ctx, d.Body)
	}, func(_ context.Context, d helpers.Delivery, cause error) {
		logger.WithError(cause).WithField("message_id", d.MessageID).Error("email parked")
	})
	if err != nil {
		logger.WithError(err).Error("consumer stopped")
	}
	logger.Info("email worker exited")
}
