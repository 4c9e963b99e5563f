package modules

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	handlers "github.com/oksasatya/pix-license-api/internal/interface/http"
	"github.com/oksasatya/pix-license-api/internal/interface/middleware"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
)

type LicenseModule struct {
	Handler  *handlers.LicenseHandler
	Redis    *redis.Client
	Sessions middleware.SessionLookup
	JWT      *helpers.JWTManager
}

func (m *LicenseModule) Register(rg *gin.RouterGroup) {
	loginLimiter := middleware.RateLimit(m.Redis, 10, time.Minute, middleware.KeyByIP(), nil) // 10 req/min per IP
	refreshLimiter := middleware.RateLimit(m.Redis, 60, time.Minute, middleware.KeyByIP(), nil) // 60 req/min per IP
	readLimiter := middleware.RateLimit(m.Redis, 120, time.Minute, middleware.KeyByIPAndPath(), nil)

	rg.GET("/license", readLimiter, m.Handler.Status)
	rg.POST("/license/verify", readLimiter, m.Handler.Verify)
	rg.POST("/auth/check-license", loginLimiter, m.Handler.CheckLicense)
	rg.POST("/auth/refresh", refreshLimiter, m.Handler.Refresh)

	auth := rg.Group("/")
	auth.Use(middleware.Auth(m.Sessions, m.JWT))
	{
		auth.POST("/logout", m.Handler.Logout)
	}
}
