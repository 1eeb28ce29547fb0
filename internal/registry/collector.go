package registry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.allocatedDesc
	ch <- r.spentDesc
	r.durations.Describe(ch)
	ch <- r.epochDesc
}

// Collect implements prometheus.Collector. The epoch number and both gauge
// families are captured under the epoch lock; the duration histogram is not
// epoch scoped and collects on its own.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.epochMu.RLock()
	epoch := r.epoch.Load()
	allocated := r.allocated.snapshot()
	spent := r.spent.snapshot()
	r.epochMu.RUnlock()

	ch <- gaugeMetric(r.epochDesc, float64(epoch))
	for worker, v := range allocated {
		ch <- gaugeMetric(r.allocatedDesc, float64(v), worker)
	}
	for worker, v := range spent {
		ch <- gaugeMetric(r.spentDesc, float64(v), worker)
	}

	r.durations.Collect(ch)
}

// gaugeMetric builds a const gauge, degrading to an invalid metric (which
// fails the gather) when the label values are rejected.
func gaugeMetric(desc *prometheus.Desc, value float64, labelValues ...string) prometheus.Metric {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, value, labelValues...)
	if err != nil {
		return prometheus.NewInvalidMetric(desc, err)
	}
	return m
}

var _ prometheus.Collector = (*Registry)(nil)
