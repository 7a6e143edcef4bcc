package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/okbozin/okboz-crm-sub003/internal/kv"
	"github.com/okbozin/okboz-crm-sub003/internal/session"
	"github.com/okbozin/okboz-crm-sub003/pkg/jwtutil"
	"github.com/okbozin/okboz-crm-sub003/pkg/logger"
	"go.uber.org/zap"
)

// ClientIDHeader identifies the calling client (one browser tab, one device).
// Writes are published with it as origin so the writer does not re-apply its own change.
const ClientIDHeader = "X-Client-ID"

const tenantKey = "tenant"

// SessionCheck rejects a resolved session that is no longer allowed, such as one
// whose account was deleted or deactivated after the token was issued.
type SessionCheck func(ctx context.Context, tc session.TenantContext) error

// TenantAuthMiddleware validates the bearer token and resolves the tenant partition
// of the request from its session claims. A nil check accepts every valid token.
func TenantAuthMiddleware(jwtUtil *jwtutil.JWTUtil, check SessionCheck) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Warn("Missing authorization header")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Missing authorization header"})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				log.Warn("Invalid authorization header format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid authorization header format"})
			}

			claims, err := jwtUtil.ValidateToken(parts[1])
			if err != nil {
				log.Warn("Invalid or expired token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid or expired token"})
			}

			tc := session.Resolve(claims.SessionID, session.ParseRole(claims.Role))
			if check != nil {
				if err := check(c.Request().Context(), tc); err != nil {
					log.Warn("Session rejected", zap.String("tenant_id", tc.TenantID), zap.Error(err))
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Session is no longer valid"})
				}
			}
			origin := c.Request().Header.Get(ClientIDHeader)

			log = log.With(
				zap.String("tenant_id", tc.TenantID),
				zap.String("role", string(tc.Role)),
				zap.String("client_id", origin))
			c.Set(tenantKey, tc)
			c.Set("logger", log)

			ctx := session.WithTenant(c.Request().Context(), tc)
			ctx = kv.WithOrigin(ctx, origin)
			ctx = logger.WithContext(ctx, log)
			c.SetRequest(c.Request().WithContext(ctx))

			log.Debug("Session resolved", zap.Bool("super_admin", tc.IsSuperAdmin))
			return next(c)
		}
	}
}

// RequireSuperAdmin rejects requests whose tenant is not head office.
// It must run after TenantAuthMiddleware.
func RequireSuperAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !TenantFromEcho(c).IsSuperAdmin {
			logger.FromEcho(c).Warn("Head office route requested by scoped tenant")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "Head office access required"})
		}
		return next(c)
	}
}

// TenantFromEcho returns the tenant resolved for the request, defaulting to head office.
func TenantFromEcho(c echo.Context) session.TenantContext {
	if tc, ok := c.Get(tenantKey).(session.TenantContext); ok {
		return tc
	}
	return session.FromContext(c.Request().Context())
}
