package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/pix-license-api/internal/application"
	"github.com/oksasatya/pix-license-api/internal/interface/middleware"
	"github.com/oksasatya/pix-license-api/pkg/helpers"
	"github.com/oksasatya/pix-license-api/pkg/response"
	"github.com/oksasatya/pix-license-api/pkg/validation"
)

type LicenseHandler struct {
	Svc     *application.LicenseService
	Logger  *logrus.Logger
	Cookies *helpers.SessionCookies
}

func NewLicenseHandler(svc *application.LicenseService, logger *logrus.Logger, cookieDomain string, cookieSecure bool) *LicenseHandler {
	return &LicenseHandler{Svc: svc, Logger: logger, Cookies: helpers.NewSessionCookies(cookieDomain, cookieSecure)}
}

// Status answers GET /license?userId=|email=.
func (h *LicenseHandler) Status(c *gin.Context) {
	st, err := h.Svc.Status(c.Request.Context(), c.Query("userId"), c.Query("email"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, http.StatusOK, st, "license status")
}

type verifyRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *LicenseHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	response.OK(c, http.StatusOK, h.Svc.Verify(req.Token), "license verified")
}

type checkLicenseRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// CheckLicense logs the desktop client in and reports its license.
func (h *LicenseHandler) CheckLicense(c *gin.Context) {
	var req checkLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	res, pair, err := h.Svc.CheckLicense(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.Cookies.SetPair(c, pair.Access, pair.AccessExpiry, pair.Refresh, pair.RefreshExpiry)
	resp := response.Success(c, http.StatusOK, res, "license checked", gin.H{
		"access_expires_at":  pair.AccessExpiry,
		"refresh_expires_at": pair.RefreshExpiry,
	})
	c.JSON(resp.Status, resp)
}

// Refresh rotates the session named by the refresh cookie.
func (h *LicenseHandler) Refresh(c *gin.Context) {
	refresh, err := c.Cookie(helpers.RefreshCookie)
	if err != nil || refresh == "" {
		response.Fail(c, http.StatusUnauthorized, "missing refresh token", nil)
		return
	}
	pair, err := h.Svc.Refresh(c.Request.Context(), refresh)
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.Cookies.SetPair(c, pair.Access, pair.AccessExpiry, pair.Refresh, pair.RefreshExpiry)
	resp := response.Success(c, http.StatusOK, gin.H{"refreshed": true}, "token refreshed", gin.H{
		"access_expires_at":  pair.AccessExpiry,
		"refresh_expires_at": pair.RefreshExpiry,
	})
	c.JSON(resp.Status, resp)
}

func (h *LicenseHandler) Logout(c *gin.Context) {
	if err := h.Svc.Logout(c.Request.Context(), c.GetString(middleware.CtxUserID), c.GetString(middleware.CtxSessionID)); err != nil {
		h.Logger.WithError(err).Warn("session delete failed")
	}
	h.Cookies.Clear(c)
	response.OK(c, http.StatusOK, gin.H{"logged_out": true}, "logged out")
}
