package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from requests and adds security headers to responses.
//
// Relayed pages are meant to be shown inside an iframe, so no X-Frame-Options
// is sent. When frameAncestors is non-empty it restricts the embedding origins
// through CSP frame-ancestors.
func SecurityHeaders(frameAncestors string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			// Set before the handler runs; the relay writes status and body in one go.
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			if frameAncestors != "" {
				h.Set("Content-Security-Policy", "frame-ancestors "+frameAncestors)
			}

			return next(c)
		}
	}
}
