package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndExposition(t *testing.T) {
	m := New("api")
	m.StageResult("create_customer", nil)
	m.StageResult("create_customer", errors.New("boom"))
	m.PaymentEvent("payment.confirmed", "processed")
	m.LicenseIssued()
	m.QueueSettled("user_creation_queue", "park")

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `pix_license_api_onboarding_stage_total{result="error",stage="create_customer"} 1`)
	assert.Contains(t, body, `pix_license_api_payment_events_total{event="payment.confirmed",outcome="processed"} 1`)
	assert.Contains(t, body, "pix_license_api_licenses_issued_total 1")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.StageResult("x", nil)
		m.PaymentEvent("e", "o")
		m.LicenseIssued()
		m.QueueSettled("q", "ack")
	})
}
