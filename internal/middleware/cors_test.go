package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestCrossOrigin_HeadersOnEveryResponse(t *testing.T) {
	e := echo.New()
	e.Use(CrossOrigin())
	e.GET("/proxy", func(c echo.Context) error {
		return c.String(http.StatusBadRequest, "url parameter is required")
	})

	tests := []struct {
		name   string
		origin string
	}{
		{"with origin", "https://app.example"},
		{"without origin", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/proxy", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			res := rec.Result()
			if v := res.Header.Get("Access-Control-Allow-Origin"); v != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
			}
			if v := res.Header.Get("Access-Control-Allow-Methods"); v != "GET, POST, OPTIONS" {
				t.Errorf("Access-Control-Allow-Methods = %q", v)
			}
			if v := res.Header.Get("Access-Control-Allow-Headers"); v != "Origin, X-Requested-With, Content-Type, Accept" {
				t.Errorf("Access-Control-Allow-Headers = %q", v)
			}
		})
	}
}

func TestCrossOrigin_Preflight(t *testing.T) {
	e := echo.New()
	e.Use(CrossOrigin())
	called := false
	e.POST("/proxy", func(c echo.Context) error {
		called = true
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodOptions, "/proxy", http.NoBody)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if v := rec.Result().Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
	if called {
		t.Error("preflight must not reach the handler")
	}
}
