// Package service implements the relay: input validation, proxy selection,
// the proxied fetch and the HTML rewrite.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"proxy-relay-go/internal/config"
	"proxy-relay-go/internal/model"
	"proxy-relay-go/internal/rewrite"
)

// Upstream performs proxied requests.
type Upstream interface {
	Fetch(ctx context.Context, target *url.URL, ep model.ProxyEndpoint, userAgent string) (*model.RelayResult, error)
	EgressIP(ctx context.Context, ep model.ProxyEndpoint) (string, error)
}

// Pool resolves selectors against the configured proxies.
type Pool interface {
	Resolve(sel model.ProxySelector) (model.ProxyEndpoint, error)
	List() []model.ProxyEndpoint
}

// RelayService ties validation, selection, fetching and rewriting together.
type RelayService struct {
	upstream Upstream
	pool     Pool
	mode     string
	logger   *slog.Logger
}

// NewRelayService creates a RelayService.
func NewRelayService(up Upstream, p Pool, cfg *config.Config, logger *slog.Logger) *RelayService {
	mode := cfg.Relay.Mode
	if mode == "" {
		mode = config.ModeAuto
	}
	return &RelayService{
		upstream: up,
		pool:     p,
		mode:     mode,
		logger:   logger.With("component", "relay_service"),
	}
}

// Mode returns the selector mode in effect.
func (s *RelayService) Mode() string {
	return s.mode
}

// Request validates params under the service's selector mode.
func (s *RelayService) Request(params model.RelayParams) (*model.RelayRequest, error) {
	return NewRelayRequest(params, s.mode)
}

// Relay fetches req.Target through the selected proxy and rewrites HTML
// bodies. A target error status is a successful result.
func (s *RelayService) Relay(ctx context.Context, req *model.RelayRequest) (*model.RelayResult, error) {
	ep, err := s.pool.Resolve(req.Selector)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("relaying",
		"target", req.Target.Redacted(),
		"proxy", ep.Redacted(),
		"selector", req.Selector.Kind.String(),
	)

	res, err := s.upstream.Fetch(ctx, req.Target, ep, req.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("relay %s via %s: %w", req.Target.Host, ep.Addr(), err)
	}

	res.Body = rewrite.Document(res.ContentType, res.Body, req.Target)
	return res, nil
}

// EgressIP reports the address the selected proxy presents to the outside.
func (s *RelayService) EgressIP(ctx context.Context, params model.RelayParams) (*model.EgressReport, error) {
	sel, err := ParseSelector(params, s.mode)
	if err != nil {
		return nil, err
	}
	ep, err := s.pool.Resolve(sel)
	if err != nil {
		return nil, err
	}

	ip, err := s.upstream.EgressIP(ctx, ep)
	if err != nil {
		return nil, fmt.Errorf("egress ip via %s: %w", ep.Addr(), err)
	}
	return &model.EgressReport{Label: ep.Label, Proxy: ep.Public(), IP: ip}, nil
}

// Proxies lists the pool without credentials.
func (s *RelayService) Proxies() []model.ProxyInfo {
	entries := s.pool.List()
	out := make([]model.ProxyInfo, len(entries))
	for i, ep := range entries {
		out[i] = ep.Info(i)
	}
	return out
}

// NewRelayRequest validates raw params into a RelayRequest. It performs no
// network I/O.
func NewRelayRequest(params model.RelayParams, mode string) (*model.RelayRequest, error) {
	target, err := parseTarget(params.URL)
	if err != nil {
		return nil, err
	}
	sel, err := ParseSelector(params, mode)
	if err != nil {
		return nil, err
	}
	ua, err := parseUserAgent(params.UserAgent)
	if err != nil {
		return nil, err
	}
	return &model.RelayRequest{Target: target, Selector: sel, UserAgent: ua}, nil
}

// ParseSelector picks the proxy selector from params.
//
// In auto mode a caller-supplied proxy wins, then index, then label, then
// random rotation. Explicit mode requires a caller-supplied proxy; pool mode
// rejects one.
func ParseSelector(params model.RelayParams, mode string) (model.ProxySelector, error) {
	proxyURI := strings.TrimSpace(params.Proxy)
	proxyIP := strings.TrimSpace(params.ProxyIP)
	supplied := proxyURI != "" || proxyIP != ""

	switch mode {
	case config.ModePool:
		if supplied {
			return model.ProxySelector{}, model.Fail(model.KindInvalidProxy,
				"caller-supplied proxies are disabled; select a pool entry with index or label")
		}
	case config.ModeExplicit:
		if !supplied {
			return model.ProxySelector{}, model.Fail(model.KindMissingParameter, "proxy parameter is required")
		}
	}

	if supplied {
		var (
			ep  model.ProxyEndpoint
			err error
		)
		if proxyURI != "" {
			ep, err = parseProxyURI(proxyURI)
		} else {
			ep, err = parseProxyAddr(proxyIP)
		}
		if err != nil {
			return model.ProxySelector{}, err
		}
		return model.ExplicitProxy(ep), nil
	}

	idx, ok, err := parseIndex(params)
	if err != nil {
		return model.ProxySelector{}, err
	}
	if ok {
		return model.IndexedProxy(idx), nil
	}

	if label := strings.TrimSpace(params.Label); label != "" {
		return model.NamedProxy(label), nil
	}
	return model.RandomProxy(), nil
}

func parseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, model.Fail(model.KindMissingParameter, "url parameter is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, model.Wrap(model.KindInvalidURL, "url is not a valid URL", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, model.Fail(model.KindInvalidURL, "url must be an absolute http or https URL")
	}
	return u, nil
}

// maxUserAgentLen bounds the ua override.
const maxUserAgentLen = 512

// parseUserAgent validates the optional ua override. Only printable ASCII is
// accepted so it cannot split the upstream request headers.
func parseUserAgent(raw string) (string, error) {
	ua := strings.TrimSpace(raw)
	if len(ua) > maxUserAgentLen {
		return "", model.Fail(model.KindInvalidUserAgent, "ua must be at most %d bytes", maxUserAgentLen)
	}
	for _, r := range ua {
		if r < 0x20 || r > 0x7e {
			return "", model.Fail(model.KindInvalidUserAgent, "ua must be printable ASCII")
		}
	}
	return ua, nil
}

// parseProxyURI parses scheme://[user:pass@]host:port. Parse errors are not
// wrapped because they echo the input, credentials included.
func parseProxyURI(raw string) (model.ProxyEndpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return model.ProxyEndpoint{}, model.Fail(model.KindInvalidProxy, "proxy is not a valid URI")
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "socks5":
	default:
		return model.ProxyEndpoint{}, model.Fail(model.KindInvalidProxy,
			"proxy scheme must be http, https or socks5")
	}
	if u.Hostname() == "" {
		return model.ProxyEndpoint{}, model.Fail(model.KindInvalidProxy, "proxy host is required")
	}
	port, err := parsePort(u.Port())
	if err != nil {
		return model.ProxyEndpoint{}, err
	}

	ep := model.ProxyEndpoint{Scheme: scheme, Host: u.Hostname(), Port: port}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep, nil
}

// parseProxyAddr parses a bare host:port into an http proxy. Anything with a
// scheme is handled as a proxy URI.
func parseProxyAddr(raw string) (model.ProxyEndpoint, error) {
	if strings.Contains(raw, "://") {
		return parseProxyURI(raw)
	}
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil || host == "" {
		return model.ProxyEndpoint{}, model.Fail(model.KindInvalidProxy, "proxyIp must be host:port")
	}
	port, err := parsePort(portStr)
	if err != nil {
		return model.ProxyEndpoint{}, err
	}
	return model.ProxyEndpoint{Scheme: "http", Host: host, Port: port}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, model.Fail(model.KindInvalidProxy, "proxy port must be 1-65535; got %q", s)
	}
	return uint16(n), nil
}

// parseIndex returns the pool index from the query (Index) or JSON
// (ProxyIndex) form; ok is false when neither is set.
func parseIndex(params model.RelayParams) (idx int, ok bool, err error) {
	if params.ProxyIndex != nil {
		if *params.ProxyIndex < 0 {
			return 0, false, model.Fail(model.KindInvalidProxyIndex,
				"proxyIndex must be a non-negative integer; got %d", *params.ProxyIndex)
		}
		return *params.ProxyIndex, true, nil
	}

	raw := strings.TrimSpace(params.Index)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false, model.Fail(model.KindInvalidProxyIndex,
			"index must be a non-negative integer; got %q", raw)
	}
	return n, true, nil
}
