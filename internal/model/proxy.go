// Package model defines shared types for the relay.
package model

import (
	"net"
	"net/url"
	"strconv"
)

// ProxyEndpoint is an upstream forward proxy. Identity is (Host, Port).
type ProxyEndpoint struct {
	Scheme   string // http, https or socks5; empty means http
	Host     string
	Port     uint16
	Username string
	Password string
	Label    string
	Weight   float64
}

// Addr returns host:port.
func (p ProxyEndpoint) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

// HasAuth reports whether the endpoint carries proxy credentials.
func (p ProxyEndpoint) HasAuth() bool {
	return p.Username != ""
}

// SchemeOrDefault returns the proxy scheme, defaulting to http.
func (p ProxyEndpoint) SchemeOrDefault() string {
	if p.Scheme == "" {
		return "http"
	}
	return p.Scheme
}

// URL returns the proxy as a URL including credentials.
func (p ProxyEndpoint) URL() *url.URL {
	u := &url.URL{Scheme: p.SchemeOrDefault(), Host: p.Addr()}
	if p.HasAuth() {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// Public returns scheme://host:port without credentials.
func (p ProxyEndpoint) Public() string {
	return p.SchemeOrDefault() + "://" + p.Addr()
}

// Info returns the listing view of the endpoint at pool position i.
func (p ProxyEndpoint) Info(i int) ProxyInfo {
	return ProxyInfo{
		Index:   i,
		Label:   p.Label,
		Scheme:  p.SchemeOrDefault(),
		Host:    p.Host,
		Port:    p.Port,
		HasAuth: p.HasAuth(),
		Weight:  p.Weight,
	}
}

// Redacted returns the proxy URL with the password masked, for logs.
func (p ProxyEndpoint) Redacted() string {
	return p.URL().Redacted()
}

// Same reports whether two endpoints share the same identity.
func (p ProxyEndpoint) Same(o ProxyEndpoint) bool {
	return p.Host == o.Host && p.Port == o.Port
}

// SelectorKind enumerates how a relay request picks its upstream proxy.
type SelectorKind int

const (
	// SelectRandom picks a weighted-random pool entry.
	SelectRandom SelectorKind = iota
	// SelectIndex picks the pool entry at Index.
	SelectIndex
	// SelectLabel picks the pool entry named Label.
	SelectLabel
	// SelectExplicit uses Endpoint as given by the caller.
	SelectExplicit
)

func (k SelectorKind) String() string {
	switch k {
	case SelectIndex:
		return "index"
	case SelectLabel:
		return "label"
	case SelectExplicit:
		return "explicit"
	default:
		return "random"
	}
}

// ProxySelector identifies one upstream proxy.
type ProxySelector struct {
	Kind     SelectorKind
	Index    int
	Label    string
	Endpoint ProxyEndpoint
}

// RandomProxy selects a pool entry by rotation.
func RandomProxy() ProxySelector { return ProxySelector{Kind: SelectRandom} }

// IndexedProxy selects pool[i].
func IndexedProxy(i int) ProxySelector { return ProxySelector{Kind: SelectIndex, Index: i} }

// NamedProxy selects the pool entry with the given label.
func NamedProxy(label string) ProxySelector { return ProxySelector{Kind: SelectLabel, Label: label} }

// ExplicitProxy uses ep without consulting the pool.
func ExplicitProxy(ep ProxyEndpoint) ProxySelector {
	return ProxySelector{Kind: SelectExplicit, Endpoint: ep}
}

// RelayParams holds raw, unvalidated relay inputs from either the query
// string or a JSON body.
type RelayParams struct {
	URL     string `json:"url"`
	Proxy   string `json:"proxy"`
	ProxyIP string `json:"proxyIp"`
	Index   string `json:"-"`
	Label   string `json:"label"`

	// UserAgent overrides the configured User-Agent for one request.
	UserAgent string `json:"ua"`

	// ProxyIndex is the JSON form of Index.
	ProxyIndex *int `json:"proxyIndex"`
}

// RelayRequest is a validated relay call.
type RelayRequest struct {
	Target   *url.URL
	Selector ProxySelector

	// UserAgent is empty when the configured one applies.
	UserAgent string
}

// RelayResult is the buffered upstream response.
type RelayResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// ProxyInfo is the public view of a pool entry. It never carries credentials.
type ProxyInfo struct {
	Index   int     `json:"index"`
	Label   string  `json:"label"`
	Scheme  string  `json:"scheme"`
	Host    string  `json:"host"`
	Port    uint16  `json:"port"`
	HasAuth bool    `json:"has_auth"`
	Weight  float64 `json:"weight"`
}

// EgressReport is the outgoing address observed through one proxy.
type EgressReport struct {
	Label string `json:"label"`
	Proxy string `json:"proxy"`
	IP    string `json:"ip"`
}
