package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"proxy-relay-go/internal/model"
	"proxy-relay-go/internal/service"
)

// userinfoPattern matches credentials embedded in URLs inside error messages.
var userinfoPattern = regexp.MustCompile(`(//)[^/\s@]+@`)

// RelayHandler serves the relay, proxy listing and egress IP endpoints.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Get relays GET /proxy?url=...&proxy=...|index=...|label=...[&ua=...]
func (h *RelayHandler) Get(c echo.Context) error {
	return h.relay(c, queryParams(c))
}

// Post relays POST /proxy with a JSON body {url, proxyIp, proxyIndex, label, ua}.
func (h *RelayHandler) Post(c echo.Context) error {
	var params model.RelayParams
	if err := json.NewDecoder(c.Request().Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		return h.mapError(c, model.Wrap(model.KindMissingParameter, "malformed JSON body", err))
	}
	return h.relay(c, params)
}

// ListProxies returns the pool without credentials.
func (h *RelayHandler) ListProxies(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Proxies())
}

// EgressIP reports the outgoing address of the selected proxy.
func (h *RelayHandler) EgressIP(c echo.Context) error {
	report, err := h.service.EgressIP(c.Request().Context(), queryParams(c))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *RelayHandler) relay(c echo.Context, params model.RelayParams) error {
	req, err := h.service.Request(params)
	if err != nil {
		return h.mapError(c, err)
	}

	res, err := h.service.Relay(c.Request().Context(), req)
	if err != nil {
		return h.mapError(c, err)
	}

	// The body is fully buffered, so the status and body are written together.
	if res.ContentType != "" {
		c.Response().Header().Set(echo.HeaderContentType, res.ContentType)
	}
	c.Response().WriteHeader(res.StatusCode)
	if _, err := c.Response().Write(res.Body); err != nil {
		h.logger.Warn("writing relay body",
			"err", err,
			"target", req.Target.Redacted(),
		)
	}
	return nil
}

func queryParams(c echo.Context) model.RelayParams {
	return model.RelayParams{
		URL:     c.QueryParam("url"),
		Proxy:   c.QueryParam("proxy"),
		ProxyIP: c.QueryParam("proxyIp"),
		Index:   c.QueryParam("index"),
		Label:   c.QueryParam("label"),

		UserAgent: c.QueryParam("ua"),
	}
}

// mapError writes the plain-text diagnostic for err: 400 for caller input,
// 502 for everything upstream.
func (h *RelayHandler) mapError(c echo.Context, err error) error {
	kind := model.KindOf(err)
	status := http.StatusBadGateway
	if kind != "" {
		status = kind.StatusCode()
	}
	msg := sanitizeError(err)

	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	h.logger.Log(c.Request().Context(), level, "relay error",
		"err", msg,
		"kind", string(kind),
		"status", status,
		"path", c.Request().URL.Path,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)

	if kind == "" {
		msg = "relay failed"
	}
	return c.String(status, msg)
}

// sanitizeError redacts URL credentials from error messages.
func sanitizeError(err error) string {
	return userinfoPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
}
