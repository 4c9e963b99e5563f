package modules

import (
	"github.com/gin-gonic/gin"

	handlers "github.com/oksasatya/pix-license-api/internal/interface/http"
)

// WebhookModule mounts the provider callback. It is registered at the
// engine root because the provider is configured with /webhooks/payment.
// Requests are authenticated by signature, not by session or rate limit.
type WebhookModule struct {
	Handler *handlers.PaymentHandler
}

func (m *WebhookModule) Register(rg *gin.RouterGroup) {
	rg.POST("/webhooks/payment", m.Handler.Webhook)
}
