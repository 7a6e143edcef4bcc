package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/okbozin/okboz-crm-sub003/internal/corporate"
	"github.com/okbozin/okboz-crm-sub003/internal/model"
	"github.com/okbozin/okboz-crm-sub003/pkg/logger"
	"github.com/okbozin/okboz-crm-sub003/pkg/middleware"
	"go.uber.org/zap"
)

// CorporateHandler manages corporate accounts. Head office only.
type CorporateHandler struct {
	svc *corporate.Service
}

func NewCorporateHandler(svc *corporate.Service) *CorporateHandler {
	return &CorporateHandler{svc: svc}
}

func (h *CorporateHandler) Register(api *echo.Group) {
	g := api.Group("/corporates", middleware.RequireSuperAdmin)
	g.GET("", h.List)
	g.POST("", h.Create)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}

func (h *CorporateHandler) List(c echo.Context) error {
	accounts, err := h.svc.List(c.Request().Context(), middleware.TenantFromEcho(c))
	if err != nil {
		return h.fail(c, err)
	}
	for i := range accounts {
		accounts[i].Password = ""
	}
	return c.JSON(http.StatusOK, accounts)
}

func (h *CorporateHandler) Create(c echo.Context) error {
	log := logger.FromEcho(c)

	var req model.CorporateAccount
	if err := c.Bind(&req); err != nil {
		log.Warn("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request data"})
	}

	acct, err := h.svc.Create(c.Request().Context(), middleware.TenantFromEcho(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	acct.Password = ""
	return c.JSON(http.StatusCreated, acct)
}

func (h *CorporateHandler) Update(c echo.Context) error {
	log := logger.FromEcho(c)
	id := c.Param("id")

	var req model.CorporateAccount
	if err := c.Bind(&req); err != nil {
		log.Warn("Invalid request data", zap.String("corporate_id", id), zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request data"})
	}

	acct, err := h.svc.Update(c.Request().Context(), middleware.TenantFromEcho(c), id, req)
	if err != nil {
		return h.fail(c, err)
	}
	acct.Password = ""
	return c.JSON(http.StatusOK, acct)
}

func (h *CorporateHandler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), middleware.TenantFromEcho(c), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *CorporateHandler) fail(c echo.Context, err error) error {
	log := logger.FromEcho(c)
	switch {
	case errors.Is(err, corporate.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "Corporate account not found"})
	case errors.Is(err, corporate.ErrDuplicateEmail):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, corporate.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "Head office access required"})
	case errors.Is(err, model.ErrPartnerShareTotal), errors.Is(err, model.ErrInvalidRecord):
		log.Info("Corporate account rejected", zap.Error(err))
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	}
	log.Error("Corporate account operation failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to save corporate account"})
}
