package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/pix-license-api/internal/application"
	"github.com/oksasatya/pix-license-api/pkg/apperror"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
	"github.com/oksasatya/pix-license-api/pkg/response"
	"github.com/oksasatya/pix-license-api/pkg/validation"
)

const maxWebhookBody = 1 << 20

var signatureHeaders = []string{"X-Signature", "X-Abacatepay-Signature"}

type PaymentHandler struct {
	Svc           *application.PaymentService
	WebhookSecret string
	Logger        *logrus.Logger
}

func NewPaymentHandler(svc *application.PaymentService, webhookSecret string, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{Svc: svc, WebhookSecret: webhookSecret, Logger: logger}
}

// Webhook verifies the provider signature over the raw body before anything
// is looked up, then reconciles the event.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "unreadable body", nil)
		return
	}
	var sig string
	for _, name := range signatureHeaders {
		if sig = c.GetHeader(name); sig != "" {
			break
		}
	}
	if !helpers.VerifyWebhookSignature(h.WebhookSecret, body, sig) {
		h.Logger.WithField("request_id", c.GetString("request_id")).Warn("webhook signature rejected")
		response.Fail(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	var ev application.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid payload", map[string]string{"payload": "invalid json"})
		return
	}

	res, err := h.Svc.HandleWebhook(c.Request.Context(), ev)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindInconsistency {
			// Acknowledge so the provider stops retrying; the event is audited.
			resp := response.Error[any](c, http.StatusOK, apperror.MessageOf(err), gin.H{"kind": apperror.KindInconsistency})
			resp.Data = res
			c.JSON(http.StatusOK, resp)
			return
		}
		response.FromError(c, err)
		return
	}
	response.OK(c, http.StatusOK, res, "event processed")
}

type simulateRequest struct {
	PaymentID string `json:"paymentId" binding:"required"`
}

func (h *PaymentHandler) Simulate(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	res, err := h.Svc.Simulate(c.Request.Context(), req.PaymentID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, http.StatusOK, res, "payment simulated")
}

// Events searches the payment event audit log.
func (h *PaymentHandler) Events(c *gin.Context) {
	size, _ := strconv.Atoi(c.DefaultQuery("size", "50"))
	recs, err := h.Svc.SearchEvents(c.Request.Context(), c.Query("q"), size)
	if err != nil {
		response.FromError(c, err)
		return
	}
	resp := response.Success(c, http.StatusOK, recs, "payment events", gin.H{"count": len(recs), "generated_at": time.Now().UTC()})
	c.JSON(resp.Status, resp)
}
