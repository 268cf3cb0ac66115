// handlers_upload.go - Stored file handlers used by the dashboard
package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/valuedesk/backend/internal/batch"
	"github.com/valuedesk/backend/internal/models"
	"github.com/valuedesk/backend/internal/storage"
	"github.com/valuedesk/backend/internal/upload"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	store     storage.Store
	extractor upload.Extractor
	policy    upload.Options
}

// NewFileHandler creates a new file handler instance. Uploads are screened
// against policy; extractor may be nil when extraction is unavailable.
func NewFileHandler(store storage.Store, extractor upload.Extractor, policy upload.Options) FileHandler {
	return &FileHandlerImpl{
		store:     store,
		extractor: extractor,
		policy:    policy,
	}
}

// HandleUploadFile accepts a multipart "file" and stores it
func (h *FileHandlerImpl) HandleUploadFile(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	src := sourceFromHeader(fh)
	if rejection := h.policy.Screen(&src); rejection != nil {
		return &APIError{
			Status:  http.StatusBadRequest,
			Code:    strings.ToUpper(strings.ReplaceAll(string(rejection.Code), "-", "_")),
			Message: rejection.Reason,
			Details: rejection.Name,
		}
	}

	r, err := fh.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer r.Close()

	info, err := h.store.Save(c.Request().Context(), fh.Filename, src.MimeType, r)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	return c.JSON(http.StatusCreated, models.UploadReceipt{
		ID:  info.ID,
		URL: batch.ContentURL(info.ID),
	})
}

// HandleExtractFile runs text extraction on a stored file
func (h *FileHandlerImpl) HandleExtractFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	if h.extractor == nil {
		return NewServiceUnavailableError("text extraction is disabled")
	}

	result, err := h.extractor.Extract(c.Request().Context(), id)
	if err != nil {
		return fromDomainError(err, "file", id)
	}

	return c.JSON(http.StatusOK, result)
}

// HandleGetRecentFiles returns the most recently uploaded files
func (h *FileHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	limit := defaultRecentLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = min(n, maxRecentLimit)
	}

	files, err := h.store.List(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}

	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		return fromDomainError(err, "file", id)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleGetFileContent streams the stored bytes of a file
func (h *FileHandlerImpl) HandleGetFileContent(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	ctx := c.Request().Context()

	info, err := h.store.Get(ctx, id)
	if err != nil {
		return fromDomainError(err, "file", id)
	}

	r, err := h.store.Open(ctx, id)
	if err != nil {
		return fromDomainError(err, "file", id)
	}
	defer r.Close()

	contentType := info.MimeType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", info.Name))
	if info.Size > 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	}
	return c.Stream(http.StatusOK, contentType, r)
}

// HandleDeleteFile deletes a file and its cached extraction
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(c.Request().Context(), id); err != nil {
		return fromDomainError(err, "file", id)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleRenameFile updates the name of a file
func (h *FileHandlerImpl) HandleRenameFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	var req renameFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if strings.TrimSpace(req.Name) == "" {
		return NewValidationError("name")
	}

	info, err := h.store.Rename(c.Request().Context(), id, req.Name)
	if err != nil {
		return fromDomainError(err, "file", id)
	}

	return c.JSON(http.StatusOK, info)
}

// Request/Response types

type renameFileRequest struct {
	Name string `json:"name"`
}

// Helper functions

// sourceFromHeader describes a multipart file for screening. A generic
// content type is dropped so the real one gets sniffed.
func sourceFromHeader(fh *multipart.FileHeader) models.SourceFile {
	mimeType := fh.Header.Get(echo.HeaderContentType)
	if mimeType == echo.MIMEOctetStream {
		mimeType = ""
	}
	return models.SourceFile{
		Name:     fh.Filename,
		Size:     fh.Size,
		MimeType: mimeType,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}
