package modules

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	handlers "github.com/oksasatya/pix-license-api/internal/interface/http"
	"github.com/oksasatya/pix-license-api/internal/interface/middleware"
)

// PaymentModule serves the development simulator and the operator audit
// search. The provider webhook is mounted by WebhookModule.
type PaymentModule struct {
	Handler     *handlers.PaymentHandler
	Redis       *redis.Client
	AdminAPIKey string
}

func (m *PaymentModule) Register(rg *gin.RouterGroup) {
	simLimiter := middleware.RateLimit(m.Redis, 30, time.Minute, middleware.KeyByIP(), nil)
	rg.POST("/dev/simulate", simLimiter, m.Handler.Simulate)

	admin := rg.Group("/admin")
	admin.Use(middleware.AdminKey(m.AdminAPIKey))
	{
		admin.GET("/payment-events", m.Handler.Events)
	}
}
