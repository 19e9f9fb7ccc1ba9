package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"proxy-relay-go/internal/config"
	"proxy-relay-go/internal/pool"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	pool    *pool.Registry
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, reg *pool.Registry, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, pool: reg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the version, selector mode and pool size.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   string(h.version),
		"mode":      h.cfg.Relay.Mode,
		"pool_size": h.pool.Len(),
	})
}
