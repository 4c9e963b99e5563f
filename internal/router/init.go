package router

import (
	"github.com/oksasatya/pix-license-api/internal/container"
	handlers "github.com/oksasatya/pix-license-api/internal/interface/http"
	"github.com/oksasatya/pix-license-api/internal/router/modules"
)

// InitModules builds the handlers from c and adds every route module to r.
// Call once during startup, before RegisterAll.
func InitModules(r *Registry, c *container.Container) {
	cfg := c.Config

	onboarding := handlers.NewOnboardingHandler(c.Onboarding, c.Subscriber, cfg.SSEWaitTimeout, c.Logger)
	payment := handlers.NewPaymentHandler(c.Payment, cfg.AbacatePayWebhookSecret, c.Logger)
	license := handlers.NewLicenseHandler(c.License, c.Logger, cfg.CookieDomain, cfg.CookieSecure)

	sys := &modules.SystemModule{Redis: c.Redis}
	if cfg.MetricsEnabled {
		sys.Metrics = c.Metrics
	}

	r.Add(sys)
	r.Add(&modules.OnboardingModule{Handler: onboarding, Redis: c.Redis, Sessions: c.Sessions, JWT: c.JWT})
	r.Add(&modules.PaymentModule{Handler: payment, Redis: c.Redis, AdminAPIKey: cfg.AdminAPIKey})
	r.Add(&modules.LicenseModule{Handler: license, Redis: c.Redis, Sessions: c.Sessions, JWT: c.JWT})
	r.AddCallback(&modules.WebhookModule{Handler: payment})
}
