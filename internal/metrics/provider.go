package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	cmmetrics "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/metrics"
)

// PrometheusRegistryProvider implements RegistryProvider over the registry a
// compute-unit metrics registry renders from, so host-process collectors end
// up in the same scrape.
type PrometheusRegistryProvider struct {
	registry *prometheus.Registry
}

// NewPrometheusRegistryProvider wraps the registry exposed by base.
func NewPrometheusRegistryProvider(base cmmetrics.RegistryProvider) *PrometheusRegistryProvider {
	return &PrometheusRegistryProvider{registry: base.Registry()}
}

// Registry returns the underlying Prometheus registry.
func (p *PrometheusRegistryProvider) Registry() *prometheus.Registry {
	return p.registry
}

// RegisterRuntimeCollectors adds the Go runtime and process collectors.
func (p *PrometheusRegistryProvider) RegisterRuntimeCollectors() error {
	if err := p.registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	return p.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Register adds arbitrary collectors, e.g. event-bus counters.
func (p *PrometheusRegistryProvider) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := p.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

var _ cmmetrics.RegistryProvider = (*PrometheusRegistryProvider)(nil)
