package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	allowMethods = "GET, POST, OPTIONS"
	allowHeaders = "Origin, X-Requested-With, Content-Type, Accept"
)

// CrossOrigin returns an Echo middleware that allows any origin on every
// response, with or without an Origin request header, and answers OPTIONS
// preflights with 204.
func CrossOrigin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, "*")
			h.Set(echo.HeaderAccessControlAllowMethods, allowMethods)
			h.Set(echo.HeaderAccessControlAllowHeaders, allowHeaders)

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}
