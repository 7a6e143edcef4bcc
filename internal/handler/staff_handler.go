package handler

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/okbozin/okboz-crm-sub003/internal/cloud"
	"github.com/okbozin/okboz-crm-sub003/internal/model"
	"github.com/okbozin/okboz-crm-sub003/internal/storage"
	"github.com/okbozin/okboz-crm-sub003/pkg/logger"
	"github.com/okbozin/okboz-crm-sub003/pkg/middleware"
	"go.uber.org/zap"
)

// MaxUploadSize bounds one uploaded file.
const MaxUploadSize = 20 << 20

// Uploader stores a file and returns where it can be fetched.
type Uploader interface {
	UploadOrInline(ctx context.Context, path, filename string, data []byte) (cloud.Upload, error)
}

// InlineUploader embeds every file as a data URL. Used when no cloud collaborator is configured.
type InlineUploader struct{}

func (InlineUploader) UploadOrInline(_ context.Context, _ string, _ string, data []byte) (cloud.Upload, error) {
	if len(data) > cloud.MaxInlineSize {
		return cloud.Upload{}, cloud.ErrTooLargeForInline
	}
	mime := cloud.DetectMime(data)
	return cloud.Upload{URL: cloud.DataURL(mime, data), MimeType: mime, Size: int64(len(data)), Inline: true}, nil
}

// StaffHandler serves staff-derived views and uploads.
type StaffHandler struct {
	staff    *storage.Collection[model.Employee]
	uploader Uploader
}

func NewStaffHandler(staff *storage.Collection[model.Employee], uploader Uploader) *StaffHandler {
	if uploader == nil {
		uploader = InlineUploader{}
	}
	return &StaffHandler{staff: staff, uploader: uploader}
}

func (h *StaffHandler) Register(api *echo.Group) {
	api.GET("/staff/markers", h.Markers)
	api.POST("/uploads", h.Upload)
}

// Markers returns map markers for the caller's located staff.
func (h *StaffHandler) Markers(c echo.Context) error {
	staff := h.staff.Read(c.Request().Context(), middleware.TenantFromEcho(c))
	return c.JSON(http.StatusOK, model.StaffMarkers(staff))
}

// Upload stores a multipart "file" under the caller's tenant folder.
func (h *StaffHandler) Upload(c echo.Context) error {
	log := logger.FromEcho(c)
	tc := middleware.TenantFromEcho(c)

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Missing file"})
	}
	if fh.Size > MaxUploadSize {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "File too large"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Cannot read file"})
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxUploadSize))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Cannot read file"})
	}

	folder := strings.Trim(c.FormValue("folder"), "/")
	if folder == "" {
		folder = "uploads"
	}
	dest := path.Join(tc.TenantID, path.Clean("/" + folder)[1:])
	name := path.Base(fh.Filename)

	up, err := h.uploader.UploadOrInline(c.Request().Context(), dest, name, data)
	if err != nil {
		log.Warn("Upload failed", zap.String("filename", name), zap.Error(err))
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	}
	log.Info("File stored",
		zap.String("filename", name),
		zap.String("mime_type", up.MimeType),
		zap.Bool("inline", up.Inline))
	return c.JSON(http.StatusCreated, up)
}
