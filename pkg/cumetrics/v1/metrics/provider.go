package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryProvider exposes the Prometheus registry backing a cumetrics
// registry so host processes can register additional collectors next to the
// compute-unit instruments.
type RegistryProvider interface {
	// Registry returns the Prometheus registry that Render serializes.
	Registry() *prometheus.Registry
}
