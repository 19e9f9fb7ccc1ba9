// Package client fetches target pages through upstream forward proxies.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"proxy-relay-go/internal/config"
	"proxy-relay-go/internal/metrics"
	"proxy-relay-go/internal/model"
)

// UpstreamClient issues single proxied GETs. It keeps no per-proxy state:
// every fetch builds its own transport and tears it down afterwards.
type UpstreamClient struct {
	timeout        time.Duration
	maxBodyBytes   int64
	idleConns      int
	userAgent      string
	accept         string
	acceptLanguage string
	insecure       bool
	ipCheckURL     string

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// defaultMaxBodyBytes caps buffered bodies when the config leaves it unset.
const defaultMaxBodyBytes = 20 * 1024 * 1024

// NewUpstreamClient creates an UpstreamClient from the relay config.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	c := &UpstreamClient{
		timeout:        time.Duration(cfg.Relay.TimeoutSeconds) * time.Second,
		maxBodyBytes:   cfg.Relay.MaxBodyBytes,
		idleConns:      cfg.Relay.IdleConnections,
		userAgent:      cfg.Relay.UserAgent,
		accept:         cfg.Relay.Accept,
		acceptLanguage: cfg.Relay.AcceptLanguage,
		insecure:       cfg.Relay.InsecureSkipVerify,
		ipCheckURL:     cfg.Relay.IPCheckURL,
		logger:         logger.With("component", "upstream_client"),
		metrics:        m,
	}
	if c.maxBodyBytes <= 0 {
		c.maxBodyBytes = defaultMaxBodyBytes
	}
	if c.userAgent == "" {
		c.userAgent = config.DefaultUserAgent
	}
	if c.accept == "" {
		c.accept = config.DefaultAccept
	}
	if c.acceptLanguage == "" {
		c.acceptLanguage = config.DefaultAcceptLanguage
	}
	if c.ipCheckURL == "" {
		c.ipCheckURL = config.DefaultIPCheckURL
	}
	return c
}

// Fetch GETs target through ep and buffers the whole response. Any HTTP
// status from the target is a successful result. An empty userAgent sends
// the configured one. Failures are
// *model.RelayError values: upstream_timeout, upstream_connection_failed,
// upstream_body_too_large or client_canceled.
//
// The parent context controls the lifetime of the upstream request: when it
// is canceled (e.g. client disconnects), the fetch is aborted.
func (c *UpstreamClient) Fetch(parent context.Context, target *url.URL, ep model.ProxyEndpoint, userAgent string) (*model.RelayResult, error) {
	ctx, cancel := c.withTimeout(parent)
	defer cancel()

	httpClient, err := c.newHTTPClient(ep)
	if err != nil {
		return nil, c.fail(model.Wrap(model.KindUpstreamConnectionFailed, "configure upstream proxy", err))
	}
	defer httpClient.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, c.fail(model.Wrap(model.KindUpstreamConnectionFailed, "build upstream request", err))
	}
	if userAgent == "" {
		userAgent = c.userAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", c.accept)
	req.Header.Set("Accept-Language", c.acceptLanguage)

	c.logger.Debug("upstream request",
		"target", target.Redacted(),
		"proxy", ep.Redacted(),
	)

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		c.observe(ep, start)
		return nil, c.fail(classify(parent, ctx, "fetch through proxy "+ep.Addr(), err))
	}
	defer func() { _ = resp.Body.Close() }()

	// A plain-HTTP proxy rejecting our credentials answers 407 with a
	// Proxy-Authenticate challenge; CONNECT tunnels surface the same condition
	// as a Do error. A 407 without the challenge came from the target and
	// passes through.
	if resp.StatusCode == http.StatusProxyAuthRequired && resp.Header.Get("Proxy-Authenticate") != "" {
		c.observe(ep, start)
		return nil, c.fail(model.Fail(model.KindUpstreamConnectionFailed,
			"proxy %s rejected credentials (407)", ep.Addr()))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	c.observe(ep, start)
	if err != nil {
		return nil, c.fail(classify(parent, ctx, "read upstream body", err))
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, c.fail(model.Fail(model.KindUpstreamBodyTooLarge,
			"upstream body exceeds %d bytes", c.maxBodyBytes))
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()
	}

	return &model.RelayResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (c *UpstreamClient) withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.timeout)
}

// newHTTPClient returns a client whose transport routes every connection,
// plaintext or TLS, through ep.
func (c *UpstreamClient) newHTTPClient(ep model.ProxyEndpoint) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   c.timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		MaxIdleConns:        c.idleConns,
		MaxIdleConnsPerHost: c.idleConns,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.insecure, //nolint:gosec // operator opt-in, matches proxies that re-sign TLS
		},
	}

	switch ep.SchemeOrDefault() {
	case "socks5":
		var auth *proxy.Auth
		if ep.HasAuth() {
			auth = &proxy.Auth{User: ep.Username, Password: ep.Password}
		}
		d, err := proxy.SOCKS5("tcp", ep.Addr(), auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks5 dialer does not support contexts")
		}
		transport.DialContext = cd.DialContext
	case "http", "https":
		// http.Transport sends Proxy-Authorization from the URL userinfo on
		// both absolute-URI requests and CONNECT tunnels.
		transport.Proxy = http.ProxyURL(ep.URL())
		transport.DialContext = dialer.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", ep.Scheme)
	}

	return &http.Client{Transport: transport}, nil
}

// classify maps a transport error onto the failure taxonomy. parent is the
// caller's context, ctx the timeout-bound child.
func classify(parent, ctx context.Context, op string, err error) *model.RelayError {
	if errors.Is(parent.Err(), context.Canceled) {
		return model.Wrap(model.KindClientCanceled, "client disconnected", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.Wrap(model.KindUpstreamTimeout, "upstream did not respond in time", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.Wrap(model.KindUpstreamTimeout, "upstream did not respond in time", err)
	}
	return model.Wrap(model.KindUpstreamConnectionFailed, op, err)
}

func (c *UpstreamClient) observe(ep model.ProxyEndpoint, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(ep.SchemeOrDefault()).Observe(time.Since(start).Seconds())
}

func (c *UpstreamClient) fail(err *model.RelayError) error {
	if c.metrics != nil {
		c.metrics.UpstreamFailures.WithLabelValues(string(err.Kind)).Inc()
	}
	return err
}
