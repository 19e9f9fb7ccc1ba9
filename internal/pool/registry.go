// Package pool holds the upstream proxy table and resolves proxy selectors
// against it. The table is built once at startup and never mutated, so
// concurrent Resolve calls need no locking.
package pool

import (
	"math/rand/v2"
	"slices"
	"strings"

	"proxy-relay-go/internal/config"
	"proxy-relay-go/internal/metrics"
	"proxy-relay-go/internal/model"
)

// Registry is a read-only, ordered table of upstream proxies.
type Registry struct {
	entries    []model.ProxyEndpoint
	cumulative []float64
	metrics    *metrics.Metrics

	// float returns a uniform value in [0, 1). Must be safe for concurrent use.
	float func() float64
}

// New creates a Registry over entries. The slice is copied.
func New(entries []model.ProxyEndpoint) *Registry {
	entries = slices.Clone(entries)
	weights := make([]float64, len(entries))
	for i, e := range entries {
		weights[i] = e.Weight
	}
	return &Registry{
		entries:    entries,
		cumulative: Cumulative(weights),
		float:      rand.Float64,
	}
}

// NewRegistry builds the Registry from the [[pool]] table.
// The metrics parameter is optional; pass nil to disable selection metrics.
func NewRegistry(cfg *config.Config, m *metrics.Metrics) *Registry {
	entries := make([]model.ProxyEndpoint, 0, len(cfg.Pool))
	for _, p := range cfg.Pool {
		entries = append(entries, model.ProxyEndpoint{
			Scheme:   p.Scheme,
			Host:     p.Host,
			Port:     uint16(p.Port),
			Username: p.Username,
			Password: p.Password,
			Label:    p.Label,
			Weight:   p.Weight,
		})
	}
	r := New(entries)
	r.metrics = m
	return r
}

// Len returns the number of pool entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// List returns a copy of the pool in configured order.
func (r *Registry) List() []model.ProxyEndpoint {
	return slices.Clone(r.entries)
}

// Resolve returns the endpoint the selector designates. Explicit selectors
// are returned as-is without consulting the table.
func (r *Registry) Resolve(sel model.ProxySelector) (model.ProxyEndpoint, error) {
	var (
		ep  model.ProxyEndpoint
		err error
	)
	switch sel.Kind {
	case model.SelectExplicit:
		return sel.Endpoint, nil
	case model.SelectIndex:
		ep, err = r.byIndex(sel.Index)
	case model.SelectLabel:
		ep, err = r.byLabel(sel.Label)
	default:
		ep, err = r.random()
	}
	if err != nil {
		return model.ProxyEndpoint{}, err
	}
	if r.metrics != nil {
		r.metrics.PoolSelections.WithLabelValues(sel.Kind.String(), ep.Label).Inc()
	}
	return ep, nil
}

func (r *Registry) byIndex(i int) (model.ProxyEndpoint, error) {
	if i < 0 || i >= len(r.entries) {
		return model.ProxyEndpoint{}, model.Fail(model.KindInvalidProxyIndex,
			"proxy index %d out of range [0, %d)", i, len(r.entries))
	}
	return r.entries[i], nil
}

func (r *Registry) byLabel(label string) (model.ProxyEndpoint, error) {
	if len(r.entries) == 0 {
		return model.ProxyEndpoint{}, model.Fail(model.KindEmptyPool, "proxy pool is empty")
	}
	label = strings.TrimSpace(label)
	for _, e := range r.entries {
		if strings.EqualFold(e.Label, label) {
			return e, nil
		}
	}
	return model.ProxyEndpoint{}, model.Fail(model.KindProxyNotFound, "no pool proxy labeled %q", label)
}

func (r *Registry) random() (model.ProxyEndpoint, error) {
	if len(r.entries) == 0 {
		return model.ProxyEndpoint{}, model.Fail(model.KindEmptyPool, "proxy pool is empty")
	}
	return r.entries[Sample(r.cumulative, r.float())], nil
}
