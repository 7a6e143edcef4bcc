package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/okbozin/okboz-crm-sub003/pkg/jwtutil"
	"github.com/okbozin/okboz-crm-sub003/pkg/metrics"
	"github.com/okbozin/okboz-crm-sub003/pkg/middleware"
)

// Registrar mounts a group of routes under /api.
type Registrar interface {
	Register(api *echo.Group)
}

// PublicRegistrar is implemented by registrars that also serve unauthenticated routes.
type PublicRegistrar interface {
	RegisterPublic(e *echo.Echo)
}

// RegisterRoutes mounts the public probes and every authenticated API group.
// check runs on every resolved session; nil skips it.
func RegisterRoutes(e *echo.Echo, jwtUtil *jwtutil.JWTUtil, check middleware.SessionCheck, registrars ...Registrar) {
	e.GET("/health", Health)
	e.GET("/metrics", echo.WrapHandler(metrics.GetPrometheusHandler()))

	api := e.Group("/api", middleware.TenantAuthMiddleware(jwtUtil, check))
	for _, r := range registrars {
		if p, ok := r.(PublicRegistrar); ok {
			p.RegisterPublic(e)
		}
		r.Register(api)
	}
}
