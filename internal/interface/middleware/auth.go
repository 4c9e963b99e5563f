package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
	"github.com/oksasatya/pix-license-api/pkg/response"
)

// Context keys set by Auth.
const (
	CtxUserID    = "userID"
	CtxSessionID = "sessionID"
	CtxUserEmail = "userEmail"
)

type SessionLookup interface {
	Get(ctx context.Context, userID, sessionID string) (*entity.Session, bool, error)
}

func accessToken(c *gin.Context) string {
	if token, err := c.Cookie(helpers.AccessCookie); err == nil && token != "" {
		return token
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// Auth validates the access token from the cookie or a Bearer header and
// requires the session named by its sid claim to still exist.
func Auth(sessions SessionLookup, jwt *helpers.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := accessToken(c)
		if token == "" {
			response.Fail(c, http.StatusUnauthorized, "missing access token", nil)
			return
		}
		claims, err := jwt.ParseAccessToken(token)
		if err != nil {
			response.Fail(c, http.StatusUnauthorized, "invalid access token", nil)
			return
		}

		if sessions != nil {
			sess, ok, err := sessions.Get(c.Request.Context(), claims.UserID, claims.SessionID)
			if err != nil {
				response.Fail(c, http.StatusServiceUnavailable, "session store unavailable", nil)
				return
			}
			if !ok {
				response.Fail(c, http.StatusUnauthorized, "session not found", nil)
				return
			}
			c.Set(CtxUserEmail, sess.Email)
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxSessionID, claims.SessionID)
		c.Next()
	}
}
