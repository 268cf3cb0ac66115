// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version       string
	activeBatches func() int
}

// NewHealthHandler creates a new health handler. activeBatches may be nil.
func NewHealthHandler(version string, activeBatches func() int) HealthHandler {
	return &HealthHandlerImpl{
		version:       version,
		activeBatches: activeBatches,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.activeBatches != nil {
		body["batches"] = h.activeBatches()
	}
	return c.JSON(http.StatusOK, body)
}
