package client

import (
	"context"
	"net"
	"strings"

	"github.com/go-resty/resty/v2"

	"proxy-relay-go/internal/model"
)

// ipInfo is the JSON shape of ipify-style IP echo services.
type ipInfo struct {
	IP string `json:"ip"`
}

// EgressIP asks the IP echo service which address requests through ep leave
// from. Both JSON ({"ip": "..."}) and plain-text answers are accepted.
func (c *UpstreamClient) EgressIP(parent context.Context, ep model.ProxyEndpoint) (string, error) {
	ctx, cancel := c.withTimeout(parent)
	defer cancel()

	httpClient, err := c.newHTTPClient(ep)
	if err != nil {
		return "", c.fail(model.Wrap(model.KindUpstreamConnectionFailed, "configure upstream proxy", err))
	}
	defer httpClient.CloseIdleConnections()

	var info ipInfo
	resp, err := resty.NewWithClient(httpClient).R().
		SetContext(ctx).
		SetHeader("User-Agent", c.userAgent).
		SetHeader("Accept", "application/json, text/plain;q=0.9").
		SetResult(&info).
		Get(c.ipCheckURL)
	if err != nil {
		return "", c.fail(classify(parent, ctx, "ip check through proxy "+ep.Addr(), err))
	}
	if resp.IsError() {
		return "", c.fail(model.Fail(model.KindUpstreamConnectionFailed,
			"ip check through proxy %s returned %d", ep.Addr(), resp.StatusCode()))
	}

	ip := info.IP
	if ip == "" {
		ip = strings.TrimSpace(resp.String())
	}
	if net.ParseIP(ip) == nil {
		return "", c.fail(model.Fail(model.KindUpstreamConnectionFailed,
			"ip check through proxy %s returned no address", ep.Addr()))
	}
	return ip, nil
}
