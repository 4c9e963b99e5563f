package handlers

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/pix-license-api/internal/application"
	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/audit"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/memory"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/realtime"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/session"
	"github.com/oksasatya/pix-license-api/internal/interface/middleware"
	"github.com/oksasatya/pix-license-api/pkg/abacatepay"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
	"github.com/oksasatya/pix-license-api/pkg/validation"
)

const (
	testWebhookSecret = "whsec_test"
	testAdminKey      = "admin-key"
)

func init() {
	gin.SetMode(gin.TestMode)
	validation.Init()
}

type memQueue struct {
	mu   sync.Mutex
	sent [][]byte
}

func (q *memQueue) Send(_ context.Context, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.sent = append(q.sent, b)
	q.mu.Unlock()
	return nil
}

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sent)
}

type stubProvider struct{ simulated []string }

func (p *stubProvider) CreateCustomer(context.Context, abacatepay.Customer) (*abacatepay.CustomerResult, error) {
	return &abacatepay.CustomerResult{ID: "cus_1"}, nil
}

func (p *stubProvider) CreatePixQrCode(context.Context, abacatepay.PixChargeRequest) (*abacatepay.PixCharge, error) {
	return &abacatepay.PixCharge{ID: "pix_1", PixCode: "000201", Amount: 50000, ExpiresAt: time.Now().Add(30 * time.Minute)}, nil
}

func (p *stubProvider) SimulatePixPayment(_ context.Context, chargeID string) error {
	p.simulated = append(p.simulated, chargeID)
	return nil
}

type testEnv struct {
	engine   *gin.Engine
	users    *memory.UserRepository
	payments *memory.PaymentRepository
	queue    *memQueue
	hub      *realtime.Hub
	hasher   *helpers.PasswordHasher
	licenses *helpers.LicenseManager
	jwt      *helpers.JWTManager
	sse      *OnboardingHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hasher, err := helpers.NewPasswordHasher([]byte("handler-test-secret"))
	require.NoError(t, err)

	e := &testEnv{
		users:    memory.NewUserRepository(),
		payments: memory.NewPaymentRepository(),
		queue:    &memQueue{},
		hub:      realtime.NewHub(),
		hasher:   hasher,
		licenses: helpers.NewLicenseManager(priv, nil),
		jwt:      helpers.NewJWTManager("access", "refresh", time.Hour, 24*time.Hour),
	}
	sessions := session.NewMemoryStore()
	provider := &stubProvider{}
	settings := application.Settings{LicensePrice: 50000, LicenseDays: 365, PixExpiresInMinutes: 30, AllowSimulation: true}
	logger := helpers.NewNopLogger()

	onboarding := application.NewOnboardingService(application.OnboardingService{
		Users: e.users, Payments: e.payments, Queue: e.queue, Provider: provider,
		Notifier: e.hub, Hasher: hasher, Settings: settings,
	})
	payment := application.NewPaymentService(application.PaymentService{
		Users: e.users, Payments: e.payments, Licenses: e.licenses, Provider: provider,
		Notifier: e.hub, Audit: audit.NewMemoryLog(), Settings: settings,
	})
	license := application.NewLicenseService(application.LicenseService{
		Users: e.users, Licenses: e.licenses, Hasher: hasher, JWT: e.jwt,
		Sessions: sessions, Renewer: onboarding,
	})

	e.sse = NewOnboardingHandler(onboarding, e.hub, 200*time.Millisecond, logger)
	ph := NewPaymentHandler(payment, testWebhookSecret, logger)
	lh := NewLicenseHandler(license, logger, "localhost", false)

	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	api := r.Group("/api")
	api.GET("/health", Health)
	api.POST("/create", e.sse.Create)
	api.GET("/onboarding/:userId", e.sse.Status)
	api.GET("/sse/:clientId", e.sse.Events)
	api.POST("/webhooks/payment", ph.Webhook)
	api.POST("/dev/simulate", ph.Simulate)
	api.GET("/admin/payment-events", middleware.AdminKey(testAdminKey), ph.Events)
	api.GET("/license", lh.Status)
	api.POST("/license/verify", lh.Verify)
	api.POST("/auth/check-license", lh.CheckLicense)
	api.POST("/auth/refresh", lh.Refresh)
	auth := api.Group("/", middleware.Auth(sessions, e.jwt))
	auth.POST("/renew", e.sse.Renew)
	auth.POST("/logout", lh.Logout)
	e.engine = r
	return e
}

type envelope struct {
	Status  int             `json:"status"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header http.Header) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (e *testEnv) seedUser(t *testing.T, customerID string) *entity.User {
	t.Helper()
	hash, err := e.hasher.HashPassword("secret123")
	require.NoError(t, err)
	u := &entity.User{Email: "ana@example.com", Name: "Ana", TaxID: "52998224725", Cellphone: "+5511999999999", PasswordHash: hash, ProviderCustomerID: customerID}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

func (e *testEnv) seedPayment(t *testing.T, userID, chargeID string) *entity.Payment {
	t.Helper()
	p := &entity.Payment{
		UserID: userID, ProviderCustomerID: "cus_1", ProviderChargeID: chargeID, Amount: 50000,
		Status: entity.PaymentPending, PixCode: "000201", ExpiresAt: time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, e.payments.Create(context.Background(), p))
	return p
}

func signed(body []byte) http.Header {
	return http.Header{"X-Signature": []string{helpers.SignWebhookBody(testWebhookSecret, body)}}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"OK"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCreateUser(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]string{
		"email": "ana@example.com", "name": "Ana", "taxId": "529.982.247-25",
		"cellphone": "+55 11 99999-9999", "password": "secret123",
	}

	w, env := e.do(t, http.MethodPost, "/api/create", body, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var res application.RegisterResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.NotEmpty(t, res.UserID)
	assert.Equal(t, entity.OnboardingPendingCustomer, res.OnboardingState)
	assert.Equal(t, 1, e.queue.len())

	w, _ = e.do(t, http.MethodPost, "/api/create", body, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, e.queue.len())
}

func TestCreateUserValidation(t *testing.T) {
	e := newTestEnv(t)
	w, env := e.do(t, http.MethodPost, "/api/create", map[string]string{"email": "not-an-email", "password": "short"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)

	var details map[string]string
	require.NoError(t, json.Unmarshal(env.Error, &details))
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "name")
	assert.Contains(t, details, "taxId")
	assert.Contains(t, details, "password")

	w, env = e.do(t, http.MethodPost, "/api/create", []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, string(env.Error), "invalid json")
	assert.Equal(t, 0, e.queue.len())
}

func TestOnboardingStatus(t *testing.T) {
	e := newTestEnv(t)
	u := e.seedUser(t, "cus_1")
	e.seedPayment(t, u.ID, "pix_1")

	w, env := e.do(t, http.MethodGet, "/api/onboarding/"+u.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st application.OnboardingStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	require.NotNil(t, st.Payment)
	assert.Equal(t, "000201", st.Payment.PixCode)

	w, _ = e.do(t, http.MethodGet, "/api/onboarding/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookSignature(t *testing.T) {
	e := newTestEnv(t)
	u := e.seedUser(t, "cus_1")
	p := e.seedPayment(t, u.ID, "pix_1")
	body := []byte(`{"event":"payment.confirmed","data":{"id":"pix_1","status":"PAID"}}`)

	w, _ := e.do(t, http.MethodPost, "/api/webhooks/payment", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = e.do(t, http.MethodPost, "/api/webhooks/payment", body, http.Header{"X-Signature": []string{"deadbeef"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	got, _ := e.payments.GetByID(context.Background(), p.ID)
	assert.Equal(t, entity.PaymentPending, got.Status)

	// the provider's own header name is accepted as well
	hdr := http.Header{"X-Abacatepay-Signature": []string{"sha256=" + helpers.SignWebhookBody(testWebhookSecret, body)}}
	w, env := e.do(t, http.MethodPost, "/api/webhooks/payment", body, hdr)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)

	var res application.ReconcileResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "PAID", res.Status)
	assert.Equal(t, p.ID, res.PaymentID)

	usr, _ := e.users.GetByID(context.Background(), u.ID)
	assert.True(t, usr.LicenseActive)
}

func TestWebhookPayloads(t *testing.T) {
	e := newTestEnv(t)

	bad := []byte(`{"event":`)
	w, _ := e.do(t, http.MethodPost, "/api/webhooks/payment", bad, signed(bad))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	unsupported := []byte(`{"event":"payment.refunded","data":{"id":"pix_1"}}`)
	w, _ = e.do(t, http.MethodPost, "/api/webhooks/payment", unsupported, signed(unsupported))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ghost := []byte(`{"event":"payment.confirmed","data":{"id":"pix_ghost"}}`)
	w, env := e.do(t, http.MethodPost, "/api/webhooks/payment", ghost, signed(ghost))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"status":"not_found"`)
}

func TestWebhookInconsistencyIsAcknowledged(t *testing.T) {
	e := newTestEnv(t)
	e.seedPayment(t, "ghost-user", "pix_orphan")
	body := []byte(`{"event":"payment.confirmed","data":{"id":"pix_orphan"}}`)

	w, env := e.do(t, http.MethodPost, "/api/webhooks/payment", body, signed(body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.Success)
	assert.Contains(t, string(env.Error), "inconsistency")
}

func TestSimulateAndAuditSearch(t *testing.T) {
	e := newTestEnv(t)
	u := e.seedUser(t, "cus_1")
	p := e.seedPayment(t, u.ID, "pix_1")

	w, _ := e.do(t, http.MethodPost, "/api/dev/simulate", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/dev/simulate", map[string]string{"paymentId": p.ID}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w, _ = e.do(t, http.MethodPost, "/api/dev/simulate", map[string]string{"paymentId": p.ID}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = e.do(t, http.MethodGet, "/api/admin/payment-events?q=pix_1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := e.do(t, http.MethodGet, "/api/admin/payment-events?q=pix_1", nil, http.Header{middleware.AdminKeyHeader: []string{testAdminKey}})
	require.Equal(t, http.StatusOK, w.Code)
	var recs []entity.PaymentEventRecord
	require.NoError(t, json.Unmarshal(env.Data, &recs))
	assert.Len(t, recs, 1)
}

func TestLicenseEndpoints(t *testing.T) {
	e := newTestEnv(t)
	u := e.seedUser(t, "")

	w, _ := e.do(t, http.MethodGet, "/api/license", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = e.do(t, http.MethodGet, "/api/license?email=nobody@example.com", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := e.do(t, http.MethodGet, "/api/license?userId="+u.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"licenseActive":false`)

	token, _, err := e.licenses.GenerateLicense(u.ID, u.Email, 30)
	require.NoError(t, err)
	w, env = e.do(t, http.MethodPost, "/api/license/verify", map[string]string{"token": token}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var vr application.VerifyResult
	require.NoError(t, json.Unmarshal(env.Data, &vr))
	assert.True(t, vr.Valid)

	w, env = e.do(t, http.MethodPost, "/api/license/verify", map[string]string{"token": "tampered"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"valid":false`)
}

func TestCheckLicenseRenewAndLogout(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "cus_1")

	w, _ := e.do(t, http.MethodPost, "/api/auth/check-license", map[string]string{"email": "ana@example.com", "password": "wrong-pass"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := e.do(t, http.MethodPost, "/api/auth/check-license", map[string]string{"email": "ana@example.com", "password": "secret123"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"licenseStatus":"inactive"`)
	assert.Equal(t, 1, e.queue.len(), "renewal queued for inactive license")

	var access string
	for _, ck := range w.Result().Cookies() {
		if ck.Name == helpers.AccessCookie {
			access = ck.Value
		}
	}
	require.NotEmpty(t, access)
	cookie := http.Header{"Cookie": []string{helpers.AccessCookie + "=" + access}}

	w, _ = e.do(t, http.MethodPost, "/api/renew", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = e.do(t, http.MethodPost, "/api/renew", nil, cookie)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 2, e.queue.len())

	w, _ = e.do(t, http.MethodPost, "/api/logout", nil, cookie)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = e.do(t, http.MethodPost, "/api/renew", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "session is gone after logout")
}

func cookieValue(w *httptest.ResponseRecorder, name string) string {
	for _, ck := range w.Result().Cookies() {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func TestRefreshRotatesCookies(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser(t, "")

	w, _ := e.do(t, http.MethodPost, "/api/auth/refresh", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/auth/check-license", map[string]string{"email": "ana@example.com", "password": "secret123"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	refresh := cookieValue(w, helpers.RefreshCookie)
	require.NotEmpty(t, refresh)
	for _, ck := range w.Result().Cookies() {
		if ck.Name == helpers.RefreshCookie {
			assert.Equal(t, "/api/auth", ck.Path)
			assert.True(t, ck.HttpOnly)
		}
	}
	old := http.Header{"Cookie": []string{helpers.RefreshCookie + "=" + refresh}}

	w, env := e.do(t, http.MethodPost, "/api/auth/refresh", nil, old)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "token refreshed", env.Message)
	access := cookieValue(w, helpers.AccessCookie)
	require.NotEmpty(t, access)
	assert.NotEqual(t, refresh, cookieValue(w, helpers.RefreshCookie))

	w, _ = e.do(t, http.MethodPost, "/api/logout", nil, http.Header{"Cookie": []string{helpers.AccessCookie + "=" + access}})
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = e.do(t, http.MethodPost, "/api/auth/refresh", nil, old)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)
}

func TestSSEReplaysPendingChargeAndTimesOut(t *testing.T) {
	e := newTestEnv(t)
	u := e.seedUser(t, "cus_1")
	e.seedPayment(t, u.ID, "pix_1")

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sse/"+u.ID, nil))

	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event:connected")
	assert.Contains(t, body, entity.PushPixCreated)
	assert.Contains(t, body, "event:timeout")
}

func TestSSEEndsOnLicenseActivated(t *testing.T) {
	e := newTestEnv(t)
	e.sse.SSEWait = 5 * time.Second

	done := make(chan struct{})
	w := httptest.NewRecorder()
	go func() {
		defer close(done)
		e.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sse/u1", nil))
	}()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-done:
			assert.Contains(t, w.Body.String(), entity.PushLicenseActivated)
			assert.NotContains(t, w.Body.String(), "event:timeout")
			return
		case <-tick.C:
			_ = e.hub.Notify(context.Background(), entity.PushEvent{ClientID: "u1", Status: entity.PushLicenseActivated})
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}
