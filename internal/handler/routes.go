package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proxy-relay-go/internal/config"
	"proxy-relay-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The metrics endpoint is mounted only when metrics are enabled and m is non-nil.
func RegisterRoutes(e *echo.Echo, relay *RelayHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.GET("/proxy", relay.Get)
	e.POST("/proxy", relay.Post)
	e.GET("/proxy/ip", relay.EgressIP)
	e.GET("/proxies", relay.ListProxies)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
