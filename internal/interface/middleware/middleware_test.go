package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/internal/infrastructure/session"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(w.Body.String())
	require.NoError(t, err)
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	keep := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, keep)
	assert.Equal(t, keep, serve(r, req).Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	assert.NotEqual(t, "<script>", serve(r, req).Body.String())
}

func TestAdminKey(t *testing.T) {
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	disabled := gin.New()
	disabled.GET("/", AdminKey(""), ok)
	assert.Equal(t, http.StatusForbidden, serve(disabled, httptest.NewRequest(http.MethodGet, "/", nil)).Code)

	r := gin.New()
	r.GET("/", AdminKey("k3y"), ok)
	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(AdminKeyHeader, "k3y")
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)
}

func TestRealIP(t *testing.T) {
	r := gin.New()
	r.Use(RealIP())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("real_ip")) })

	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"cloudflare wins", map[string]string{"CF-Connecting-IP": "203.0.113.9", "X-Forwarded-For": "198.51.100.1"}, "203.0.113.9"},
		{"left-most forwarded", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "198.51.100.1"},
		{"garbage skipped", map[string]string{"X-Forwarded-For": "nope", "X-Real-IP": "192.0.2.4"}, "192.0.2.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, serve(r, req).Body.String())
		})
	}
}

func TestAuth(t *testing.T) {
	jwt := helpers.NewJWTManager("a", "r", time.Hour, 24*time.Hour)
	sessions := session.NewMemoryStore()
	pair, err := jwt.IssuePair("u1")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/", Auth(sessions, jwt), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxUserID)+"/"+c.GetString(CtxUserEmail))
	})
	bearer := func(token string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return req
	}

	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, bearer("not-a-jwt")).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, bearer(pair.Refresh)).Code, "refresh token is not an access token")
	assert.Equal(t, http.StatusUnauthorized, serve(r, bearer(pair.Access)).Code, "no session yet")

	require.NoError(t, sessions.Save(context.Background(), entity.Session{UserID: "u1", SessionID: pair.SessionID, Email: "a@b.com"}, time.Hour))
	w := serve(r, bearer(pair.Access))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1/a@b.com", w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: helpers.AccessCookie, Value: pair.Access})
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestRateLimitDisabledWithoutRedis(t *testing.T) {
	r := gin.New()
	r.GET("/", RateLimit(nil, 1, time.Minute, KeyByIP(), nil), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for range 3 {
		assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
}

func TestRateLimitFailsOpenWhenRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	r := gin.New()
	r.GET("/", RateLimit(rdb, 1, time.Minute, KeyByIP(), nil), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for range 2 {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}
