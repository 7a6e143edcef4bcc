package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/okbozin/okboz-crm-sub003/internal/aggregate"
	"github.com/okbozin/okboz-crm-sub003/internal/backup"
	"github.com/okbozin/okboz-crm-sub003/internal/broadcast"
	"github.com/okbozin/okboz-crm-sub003/internal/model"
	"github.com/okbozin/okboz-crm-sub003/internal/storage"
	"github.com/okbozin/okboz-crm-sub003/pkg/logger"
	"github.com/okbozin/okboz-crm-sub003/pkg/middleware"
	"github.com/okbozin/okboz-crm-sub003/prometheus"
	"go.uber.org/zap"
)

// MaxImportSize bounds import uploads.
const MaxImportSize = 10 << 20

// CollectionHandler serves one scoped collection under /api/collections/{baseKey}.
type CollectionHandler[T any] struct {
	coll   *storage.Collection[T]
	agg    *aggregate.Aggregator[T]
	broker broadcast.Broker
	now    func() time.Time
}

func NewCollectionHandler[T any](coll *storage.Collection[T], agg *aggregate.Aggregator[T], broker broadcast.Broker) *CollectionHandler[T] {
	return &CollectionHandler[T]{coll: coll, agg: agg, broker: broker, now: time.Now}
}

// Register mounts the collection routes on api.
func (h *CollectionHandler[T]) Register(api *echo.Group) {
	g := api.Group("/collections/" + h.coll.Name())
	g.GET("", h.List)
	g.PUT("", h.Replace)
	g.DELETE("", h.Clear)
	g.GET("/export", h.Export)
	g.GET("/export.xlsx", h.ExportXLSX)
	g.POST("/import", h.Import)
	if h.agg != nil {
		g.GET("/aggregate", h.Aggregate, middleware.RequireSuperAdmin)
		g.PUT("/aggregate", h.SaveAggregate, middleware.RequireSuperAdmin)
	}
	if h.broker != nil {
		g.GET("/watch", h.Watch)
	}
}

// List returns the records of the caller's tenant.
func (h *CollectionHandler[T]) List(c echo.Context) error {
	tc := middleware.TenantFromEcho(c)
	records := h.coll.Read(c.Request().Context(), tc)
	logger.FromEcho(c).Debug("Collection read",
		zap.String("collection", h.coll.Name()),
		zap.Int("count", len(records)))
	return c.JSON(http.StatusOK, records)
}

// Replace stores the request body as the caller's whole collection.
func (h *CollectionHandler[T]) Replace(c echo.Context) error {
	log := logger.FromEcho(c)
	tc := middleware.TenantFromEcho(c)

	var records []T
	if err := json.NewDecoder(c.Request().Body).Decode(&records); err != nil {
		log.Warn("Invalid request data", zap.String("collection", h.coll.Name()), zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Request body must be a JSON array of records"})
	}
	for i, record := range records {
		if err := model.Check(record); err != nil {
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": fmt.Sprintf("record %d: %v", i, err)})
		}
	}

	written, err := h.coll.Write(c.Request().Context(), tc, records)
	if err != nil {
		log.Error("Failed to write collection", zap.String("collection", h.coll.Name()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to save records"})
	}
	return c.JSON(http.StatusOK, echo.Map{"written": written, "count": len(records)})
}

// Clear empties the caller's collection. Requires ?confirm=true.
func (h *CollectionHandler[T]) Clear(c echo.Context) error {
	log := logger.FromEcho(c)
	if !confirmed(c) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Deleting all records requires confirm=true"})
	}
	if err := h.coll.Clear(c.Request().Context(), middleware.TenantFromEcho(c)); err != nil {
		log.Error("Failed to clear collection", zap.String("collection", h.coll.Name()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to clear records"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Aggregate returns every tenant's records, tagged with their source.
func (h *CollectionHandler[T]) Aggregate(c echo.Context) error {
	tagged, err := h.agg.Aggregate(c.Request().Context(), middleware.TenantFromEcho(c))
	if errors.Is(err, aggregate.ErrNotSuperAdmin) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "Head office access required"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to aggregate records"})
	}
	return c.JSON(http.StatusOK, tagged)
}

// SaveAggregate writes the head-office part of an edited aggregate view.
func (h *CollectionHandler[T]) SaveAggregate(c echo.Context) error {
	log := logger.FromEcho(c)

	var tagged []aggregate.Tagged[T]
	if err := json.NewDecoder(c.Request().Body).Decode(&tagged); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Request body must be a JSON array of tagged records"})
	}
	for i, t := range tagged {
		if !t.IsHeadOffice() {
			continue
		}
		if err := model.Check(t.Record); err != nil {
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": fmt.Sprintf("record %d: %v", i, err)})
		}
	}

	written, err := h.agg.SaveHeadOffice(c.Request().Context(), middleware.TenantFromEcho(c), tagged)
	if errors.Is(err, aggregate.ErrNotSuperAdmin) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "Head office access required"})
	}
	if err != nil {
		log.Error("Failed to save head office records", zap.String("collection", h.coll.Name()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to save records"})
	}
	return c.JSON(http.StatusOK, echo.Map{"written": written})
}

// Export downloads the caller's collection as JSON.
func (h *CollectionHandler[T]) Export(c echo.Context) error {
	records := h.coll.Read(c.Request().Context(), middleware.TenantFromEcho(c))
	data, err := backup.Export(records)
	if err != nil {
		logger.FromEcho(c).Error("Failed to export collection", zap.String("collection", h.coll.Name()), zap.Error(err))
		prometheus.RecordBackup(h.coll.Name(), "export", "error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to export records"})
	}
	prometheus.RecordBackup(h.coll.Name(), "export", "ok")
	attach(c, backup.FileName(h.coll.Name(), h.now()))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

// ExportXLSX downloads the caller's collection as a spreadsheet.
func (h *CollectionHandler[T]) ExportXLSX(c echo.Context) error {
	records := h.coll.Read(c.Request().Context(), middleware.TenantFromEcho(c))
	data, err := backup.ExportXLSX(h.coll.Name(), records)
	if err != nil {
		logger.FromEcho(c).Error("Failed to export spreadsheet", zap.String("collection", h.coll.Name()), zap.Error(err))
		prometheus.RecordBackup(h.coll.Name(), "export_xlsx", "error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to export records"})
	}
	prometheus.RecordBackup(h.coll.Name(), "export_xlsx", "ok")
	attach(c, backup.XLSXFileName(backup.FileName(h.coll.Name(), h.now())))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// Import restores the caller's collection from a JSON file. Requires ?confirm=true.
// The file is either the raw request body or a multipart field named "file".
func (h *CollectionHandler[T]) Import(c echo.Context) error {
	log := logger.FromEcho(c)

	data, err := importBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	n, err := backup.Import(c.Request().Context(), h.coll, middleware.TenantFromEcho(c), data, backup.ImportOptions{Confirmed: confirmed(c)})
	switch {
	case errors.Is(err, backup.ErrNotConfirmed),
		errors.Is(err, backup.ErrInvalidJSON),
		errors.Is(err, backup.ErrInvalidShape):
		log.Warn("Import rejected", zap.String("collection", h.coll.Name()), zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case err != nil:
		log.Error("Import failed", zap.String("collection", h.coll.Name()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to restore records"})
	}

	log.Info("Collection restored", zap.String("collection", h.coll.Name()), zap.Int("count", n))
	return c.JSON(http.StatusOK, echo.Map{"imported": n})
}

func importBody(c echo.Context) ([]byte, error) {
	if fh, err := c.FormFile("file"); err == nil {
		if fh.Size > MaxImportSize {
			return nil, fmt.Errorf("file exceeds %d bytes", MaxImportSize)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("cannot open uploaded file")
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, MaxImportSize))
	}

	data, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxImportSize+1))
	if err != nil {
		return nil, fmt.Errorf("cannot read request body")
	}
	if len(data) > MaxImportSize {
		return nil, fmt.Errorf("file exceeds %d bytes", MaxImportSize)
	}
	return data, nil
}

func confirmed(c echo.Context) bool {
	ok, _ := strconv.ParseBool(c.QueryParam("confirm"))
	return ok
}

func attach(c echo.Context, filename string) {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
}
