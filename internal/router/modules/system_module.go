package modules

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/pix-license-api/internal/infrastructure/metrics"
	handlers "github.com/oksasatya/pix-license-api/internal/interface/http"
	"github.com/oksasatya/pix-license-api/internal/interface/middleware"
)

// SystemModule serves health and, when Metrics is set, the Prometheus
// exposition.
type SystemModule struct {
	Metrics *metrics.Metrics
	Redis   *redis.Client
}

func (m *SystemModule) Register(rg *gin.RouterGroup) {
	rg.GET("/health", handlers.Health)
	if m.Metrics != nil {
		rl := middleware.RateLimit(m.Redis, 120, time.Minute, middleware.KeyByIP(), middleware.AllowPrivateIP())
		rg.GET("/metrics", rl, gin.WrapH(m.Metrics.Handler()))
	}
}
