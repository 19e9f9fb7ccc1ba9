package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"proxy-relay-go/internal/metrics"
)

// requestCount returns the proxy_relay_http_requests_total sample whose labels
// include want.
func requestCount(t *testing.T, m *metrics.Metrics, want map[string]string) (float64, bool) {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "proxy_relay_http_requests_total" {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			return metric.GetCounter().GetValue(), true
		}
	}
	return 0, false
}

func newMetricsEcho(m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Use(CrossOrigin())
	e.GET("/proxy", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/proxy/ip", func(c echo.Context) error {
		return c.String(http.StatusBadRequest, "no pool")
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})
	e.Any("/any", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestMetricsMiddleware_CountsByRoute(t *testing.T) {
	m := metrics.New()
	e := newMetricsEcho(m)

	for _, target := range []string{
		"/proxy?url=http://example.com/&proxy=http://u:p@10.0.0.1:8080",
		"/proxy?url=http://example.org/",
		"/proxy/ip?index=0",
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, http.NoBody))
	}

	if v, ok := requestCount(t, m, map[string]string{"path_prefix": "/proxy", "status_code": "200"}); !ok || v != 2 {
		t.Errorf("/proxy count = %v (found %v), want 2", v, ok)
	}
	if v, ok := requestCount(t, m, map[string]string{"path_prefix": "/proxy/ip", "status_code": "400"}); !ok || v != 1 {
		t.Errorf("/proxy/ip count = %v (found %v), want 1", v, ok)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()
	e := newMetricsEcho(m)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/proxy", http.NoBody))

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "proxy_relay_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					return
				}
			}
		}
	}
	t.Error("expected proxy_relay_http_request_duration_seconds with at least one sample")
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()
	e := newMetricsEcho(m)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", http.NoBody))

	if _, ok := requestCount(t, m, map[string]string{"path_prefix": "other", "status_code": "404", "method": "GET"}); !ok {
		t.Error("expected a 404 sample for a handler returning *echo.HTTPError")
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()
	e := newMetricsEcho(m)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("XYZZY", "/any", http.NoBody))

	if _, ok := requestCount(t, m, map[string]string{"method": "other"}); !ok {
		t.Error("expected method=other for a non-standard method")
	}
}

func TestMetricsMiddleware_Preflight(t *testing.T) {
	m := metrics.New()
	e := newMetricsEcho(m)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/proxy", http.NoBody))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if _, ok := requestCount(t, m, map[string]string{"path_prefix": "preflight", "status_code": "204"}); !ok {
		t.Error("expected preflight requests to be labeled path_prefix=preflight")
	}
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()
	e := newMetricsEcho(m)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if _, ok := requestCount(t, m, map[string]string{"path_prefix": "other", "status_code": "404"}); !ok {
		t.Error("expected path_prefix=other, status_code=404 for an unmatched route")
	}
}

func TestMetricsMiddleware_LabelsCarryNoQuery(t *testing.T) {
	m := metrics.New()
	e := newMetricsEcho(m)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/proxy?proxy=http://u:secret@h:1", http.NoBody))

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if strings.Contains(lp.GetValue(), "secret") {
					t.Errorf("label %s=%q carries query data", lp.GetName(), lp.GetValue())
				}
			}
		}
	}
}
