package client

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"proxy-relay-go/internal/model"
)

func TestUpstreamClient_EgressIP(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{"json", "application/json", `{"ip":"203.0.113.7"}`, "203.0.113.7"},
		{"plain text", "text/plain", "198.51.100.23\n", "198.51.100.23"},
		{"ipv6", "application/json", `{"ip":"2001:db8::1"}`, "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := &seenRequest{}
			srv := newOriginProxy(t, seen, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = w.Write([]byte(tt.body))
			})

			c := newTestClient(t)
			c.ipCheckURL = "http://ipcheck.test/?format=json"

			got, err := c.EgressIP(context.Background(), endpointFor(t, srv))
			if err != nil {
				t.Fatalf("EgressIP() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("EgressIP() = %q, want %q", got, tt.want)
			}

			seen.mu.Lock()
			defer seen.mu.Unlock()
			if seen.host != "ipcheck.test" {
				t.Errorf("proxy saw Host %q, want the ip check service", seen.host)
			}
		})
	}
}

func TestUpstreamClient_EgressIP_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"error status", http.StatusServiceUnavailable, "down"},
		{"not an address", http.StatusOK, "<html>captcha</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOriginProxy(t, nil, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			c := newTestClient(t)
			c.ipCheckURL = "http://ipcheck.test/"

			_, err := c.EgressIP(context.Background(), endpointFor(t, srv))
			if !errors.Is(err, model.ErrUpstreamConnectionFailed) {
				t.Errorf("EgressIP() error = %v, want connection failed", err)
			}
		})
	}
}

func TestUpstreamClient_EgressIP_ProxyUnreachable(t *testing.T) {
	c := newTestClient(t)
	ep := model.ProxyEndpoint{Scheme: "http", Host: "127.0.0.1", Port: 1}

	_, err := c.EgressIP(context.Background(), ep)
	if !errors.Is(err, model.ErrUpstreamConnectionFailed) {
		t.Errorf("EgressIP() error = %v, want connection failed", err)
	}
}
