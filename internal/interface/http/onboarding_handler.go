package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/pix-license-api/internal/application"
	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/realtime"
	"github.com/oksasatya/pix-license-api/internal/interface/middleware"
	"github.com/oksasatya/pix-license-api/pkg/response"
	"github.com/oksasatya/pix-license-api/pkg/validation"
)

const sseHeartbeat = 25 * time.Second

type OnboardingHandler struct {
	Svc        *application.OnboardingService
	Subscriber realtime.Subscriber
	SSEWait    time.Duration
	Logger     *logrus.Logger
}

func NewOnboardingHandler(svc *application.OnboardingService, sub realtime.Subscriber, sseWait time.Duration, logger *logrus.Logger) *OnboardingHandler {
	if sseWait <= 0 {
		sseWait = 35 * time.Minute
	}
	return &OnboardingHandler{Svc: svc, Subscriber: sub, SSEWait: sseWait, Logger: logger}
}

type createUserRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Name      string `json:"name" binding:"required,max=120"`
	TaxID     string `json:"taxId" binding:"required,taxid"`
	Cellphone string `json:"cellphone" binding:"required,phone"`
	Password  string `json:"password" binding:"required,pwd"`
}

// Create registers a user and starts onboarding. It answers 202 as soon as
// the first stage is queued.
func (h *OnboardingHandler) Create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	res, err := h.Svc.Register(c.Request.Context(), application.RegisterInput{
		Email:     req.Email,
		Name:      req.Name,
		TaxID:     req.TaxID,
		Cellphone: req.Cellphone,
		Password:  req.Password,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, http.StatusAccepted, res, "registration accepted")
}

// Renew queues a new PIX charge for the authenticated user.
func (h *OnboardingHandler) Renew(c *gin.Context) {
	res, err := h.Svc.Renew(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, http.StatusAccepted, res, "renewal queued")
}

func (h *OnboardingHandler) Status(c *gin.Context) {
	st, err := h.Svc.Status(c.Request.Context(), c.Param("userId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, http.StatusOK, st, "onboarding status")
}

// Events streams push events for clientId as server-sent events. A charge
// that is already waiting is replayed first. The stream ends with a
// "timeout" event after SSEWait so the client can fall back to polling.
func (h *OnboardingHandler) Events(c *gin.Context) {
	clientID := c.Param("clientId")
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.SSEWait)
	defer cancel()

	sub, err := h.Subscriber.Subscribe(ctx, clientID)
	if err != nil {
		h.Logger.WithError(err).WithField("user_id", clientID).Warn("subscribe failed")
		response.Fail(c, http.StatusServiceUnavailable, "push channel unavailable", nil)
		return
	}
	defer func() { _ = sub.Close() }()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent("connected", gin.H{"clientId": clientID})

	if st, err := h.Svc.Status(ctx, clientID); err == nil && st.Payment != nil {
		c.SSEvent("message", entity.PushEvent{ClientID: clientID, Status: entity.PushPixCreated, Payment: st.Payment})
	}
	c.Writer.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.SSEvent("timeout", gin.H{"clientId": clientID})
				c.Writer.Flush()
			}
			return
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().UTC()})
			c.Writer.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.SSEvent("message", ev)
			c.Writer.Flush()
			if ev.Status == entity.PushLicenseActivated || ev.Status == entity.PushOnboardingFailed {
				return
			}
		}
	}
}
