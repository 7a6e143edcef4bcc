package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/okbozin/okboz-crm-sub003/internal/corporate"
	"github.com/okbozin/okboz-crm-sub003/internal/session"
	"github.com/okbozin/okboz-crm-sub003/pkg/jwtutil"
	"github.com/okbozin/okboz-crm-sub003/pkg/logger"
	"github.com/okbozin/okboz-crm-sub003/pkg/middleware"
	"github.com/okbozin/okboz-crm-sub003/prometheus"
	"go.uber.org/zap"
)

// AuthHandler signs corporate accounts in. The issued token carries the account
// email as session marker, so every request made with it lands in that tenant.
type AuthHandler struct {
	svc *corporate.Service
	jwt *jwtutil.JWTUtil
}

func NewAuthHandler(svc *corporate.Service, jwtUtil *jwtutil.JWTUtil) *AuthHandler {
	return &AuthHandler{svc: svc, jwt: jwtUtil}
}

func (h *AuthHandler) RegisterPublic(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
}

func (h *AuthHandler) Register(api *echo.Group) {
	api.GET("/session", h.Session)
}

type loginResponse struct {
	Token   string                `json:"token"`
	Tenant  session.TenantContext `json:"tenant"`
	Company string                `json:"companyName"`
}

func (h *AuthHandler) Login(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.LoginCounter.Inc()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse login request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	acct, err := h.svc.Authenticate(c.Request().Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, corporate.ErrInactive):
		log.Warn("Login to inactive account", zap.String("email", req.Email))
		prometheus.RecordAuthError("inactive_account")
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account is inactive"})
	case err != nil:
		log.Warn("Invalid credentials", zap.String("email", req.Email))
		prometheus.RecordAuthError("invalid_credentials")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	tc := session.Corporate(acct.Email)
	token, err := h.jwt.GenerateToken(tc.TenantID, acct.Email, string(tc.Role))
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("Corporate login", zap.String("corporate_id", acct.ID), zap.String("email", acct.Email))
	return c.JSON(http.StatusOK, loginResponse{Token: token, Tenant: tc, Company: acct.DisplayName()})
}

// Session reports the tenant the caller's token resolves to.
func (h *AuthHandler) Session(c echo.Context) error {
	return c.JSON(http.StatusOK, middleware.TenantFromEcho(c))
}
