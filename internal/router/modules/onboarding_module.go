package modules

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	handlers "github.com/oksasatya/pix-license-api/internal/interface/http"
	"github.com/oksasatya/pix-license-api/internal/interface/middleware"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
)

// OnboardingModule serves registration, onboarding state, push and renewal.
// Public: POST /create, GET /onboarding/:userId, GET /sse/:clientId
// Protected: POST /renew
type OnboardingModule struct {
	Handler  *handlers.OnboardingHandler
	Redis    *redis.Client
	Sessions middleware.SessionLookup
	JWT      *helpers.JWTManager
}

func (m *OnboardingModule) Register(rg *gin.RouterGroup) {
	createLimiter := middleware.RateLimit(m.Redis, 10, time.Minute, middleware.KeyByIP(), middleware.AllowPrivateIP())
	readLimiter := middleware.RateLimit(m.Redis, 120, time.Minute, middleware.KeyByIPAndPath(), nil)

	rg.POST("/create", createLimiter, m.Handler.Create)
	rg.GET("/onboarding/:userId", readLimiter, m.Handler.Status)
	rg.GET("/sse/:clientId", readLimiter, m.Handler.Events)

	auth := rg.Group("/")
	auth.Use(middleware.Auth(m.Sessions, m.JWT))
	auth.Use(middleware.RateLimit(m.Redis, 10, time.Minute, middleware.KeyByUserID(), nil))
	{
		auth.POST("/renew", m.Handler.Renew)
	}
}
