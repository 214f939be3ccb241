package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns a registry holding the collectors of one program.
type Exporter struct {
	registry *prometheus.Registry
}

// NewExporter returns an exporter with an empty registry.
func NewExporter() *Exporter {
	return &Exporter{registry: prometheus.NewRegistry()}
}

// RegisterClient adds a client collector.
func (e *Exporter) RegisterClient(client ClientSource) error {
	return e.registry.Register(NewClientCollector(client))
}

// RegisterPool adds a pool collector.
func (e *Exporter) RegisterPool(name string, pool PoolSource) error {
	return e.registry.Register(NewPoolCollector(name, pool))
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
