// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"
)

// FileHandler handles stored-file operations used by the dashboard
type FileHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleExtractFile(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleGetFileContent(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleRenameFile(c echo.Context) error
}

// BatchHandler handles upload batch operations
type BatchHandler interface {
	HandleCreateBatch(c echo.Context) error
	HandleGetBatch(c echo.Context) error
	HandleGetBatchMsgpack(c echo.Context) error
	HandleAddFiles(c echo.Context) error
	HandleRequestExtraction(c echo.Context) error
	HandleRemoveFile(c echo.Context) error
	HandleDeleteBatch(c echo.Context) error
}

// StreamHandler pushes batch events over a WebSocket
type StreamHandler interface {
	HandleBatchStream(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}
