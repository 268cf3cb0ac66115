// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/valuedesk/backend/internal/batch"
	"github.com/valuedesk/backend/internal/storage"
	"github.com/valuedesk/backend/internal/upload"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store     storage.Store
	Extractor upload.Extractor
	Batches   *batch.Manager
	// Policy screens single-file uploads on the files API.
	Policy  upload.Options
	Version string

	AllowFileDeletion bool
	// AuthToken enables bearer-token auth on /api when non-empty.
	AuthToken    string
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Files  FileHandler
	Batch  BatchHandler
	Stream StreamHandler

	allowFileDeletion bool
	authToken         string
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	var active func() int
	if deps.Batches != nil {
		active = deps.Batches.Len
	}

	return &Handlers{
		Health:            NewHealthHandler(deps.Version, active),
		Files:             NewFileHandler(deps.Store, deps.Extractor, deps.Policy),
		Batch:             NewBatchHandler(deps.Batches),
		Stream:            NewWebSocketHandler(deps.Batches, deps.PingInterval, deps.Logger),
		allowFileDeletion: deps.AllowFileDeletion,
		authToken:         deps.AuthToken,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	api := e.Group("/api")
	if handlers.authToken != "" {
		api.Use(bearerAuth(handlers.authToken))
	}

	// Health check
	api.GET("/health", handlers.Health.HandleHealth)

	// Stored file routes
	files := api.Group("/files")
	files.POST("/upload", handlers.Files.HandleUploadFile)
	files.POST("/ocr/:id", handlers.Files.HandleExtractFile)
	files.GET("/recent", handlers.Files.HandleGetRecentFiles)
	files.GET("/:id", handlers.Files.HandleGetFile)
	files.GET("/:id/content", handlers.Files.HandleGetFileContent)
	files.PUT("/:id", handlers.Files.HandleRenameFile)
	if handlers.allowFileDeletion {
		files.DELETE("/:id", handlers.Files.HandleDeleteFile)
	}

	// Upload batch routes
	batches := api.Group("/batches")
	batches.POST("", handlers.Batch.HandleCreateBatch)
	batches.GET("/:id", handlers.Batch.HandleGetBatch)
	batches.GET("/:id/msgpack", handlers.Batch.HandleGetBatchMsgpack)
	batches.GET("/:id/ws", handlers.Stream.HandleBatchStream)
	batches.POST("/:id/files", handlers.Batch.HandleAddFiles)
	batches.POST("/:id/files/:fileId/extract", handlers.Batch.HandleRequestExtraction)
	batches.DELETE("/:id/files/:fileId", handlers.Batch.HandleRemoveFile)
	batches.DELETE("/:id", handlers.Batch.HandleDeleteBatch)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler
	e.Use(middleware.Recover())
}

// bearerAuth checks "Authorization: Bearer <token>". Health stays open so
// load balancers can probe it. Browsers cannot set headers on websocket
// upgrades, so the stream also accepts ?token=.
func bearerAuth(token string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + echo.HeaderAuthorization + ",query:token",
		Skipper: func(c echo.Context) bool {
			return strings.HasSuffix(c.Path(), "/health")
		},
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return &APIError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "missing or invalid token"}
		},
	})
}
