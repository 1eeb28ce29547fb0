// Package registry holds the compute-unit metrics registry: per-worker
// allocated and spent compute units for the current epoch, the query
// duration histogram and the current epoch number.
package registry

import (
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gxo-labs/cumetrics/internal/logger"
	cmerrors "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/errors"
	cmlog "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/log"
	"github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/metrics"
	"github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/task"
)

// Metric names as they appear in the exposition.
const (
	AllocatedMetricName     = "allocated_comp_units"
	SpentMetricName         = "spent_comp_units"
	QueryDurationMetricName = "query_duration"
	CurrentEpochMetricName  = "current_epoch"

	workerLabel = "worker_id"
	statusLabel = "status"
)

var defaultDurationBuckets = []float64{1, 5, 10, 15, 20, 25, 30, 45, 60, 90, 120}

// DefaultDurationBuckets returns a copy of the upper bounds, in seconds, of
// the query duration histogram.
func DefaultDurationBuckets() []float64 {
	out := make([]float64, len(defaultDurationBuckets))
	copy(out, defaultDurationBuckets)
	return out
}

// Registry is the single authoritative holder of the compute-unit
// instruments. All methods are safe for concurrent use.
type Registry struct {
	log cmlog.Logger

	// epochMu makes an epoch change and the wipe of both gauge families
	// appear as one step to Collect.
	epochMu   sync.RWMutex
	epoch     atomic.Uint32
	allocated *gaugeFamily
	spent     *gaugeFamily
	durations *prometheus.HistogramVec

	allocatedDesc *prometheus.Desc
	spentDesc     *prometheus.Desc
	epochDesc     *prometheus.Desc

	prom *prometheus.Registry
}

type options struct {
	namespace string
	buckets   []float64
	log       cmlog.Logger
}

// Option configures a Registry at construction.
type Option func(*options) error

// WithNamespace prefixes every metric name with ns and an underscore.
func WithNamespace(ns string) Option {
	return func(o *options) error {
		o.namespace = ns
		return nil
	}
}

// WithDurationBuckets replaces DefaultDurationBuckets(). Bounds must be finite
// and strictly increasing; +Inf is always implied.
func WithDurationBuckets(bounds []float64) Option {
	return func(o *options) error {
		if len(bounds) == 0 {
			return cmerrors.NewValidationError("buckets", "at least one bucket bound is required", nil)
		}
		for i, b := range bounds {
			if math.IsInf(b, 0) || math.IsNaN(b) {
				return cmerrors.NewValidationError("buckets", fmt.Sprintf("bound %v is not finite", b), nil)
			}
			if i > 0 && b <= bounds[i-1] {
				return cmerrors.NewValidationError("buckets", fmt.Sprintf("bounds must be strictly increasing, got %v after %v", b, bounds[i-1]), nil)
			}
		}
		o.buckets = bounds
		return nil
	}
}

// WithLogger sets the logger used for debug traces of epoch changes.
func WithLogger(log cmlog.Logger) Option {
	return func(o *options) error {
		if log == nil {
			return cmerrors.NewConfigError("logger cannot be nil", nil)
		}
		o.log = log
		return nil
	}
}

// New builds a Registry and registers its instruments in a fresh
// Prometheus registry.
func New(opts ...Option) (*Registry, error) {
	o := options{buckets: defaultDurationBuckets}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if o.log == nil {
		o.log = logger.NewLogger("error", "text", io.Discard)
	}

	bounds := make([]float64, len(o.buckets))
	copy(bounds, o.buckets)

	r := &Registry{
		log:       o.log.With("component", "MetricsRegistry"),
		allocated: newGaugeFamily(),
		spent:     newGaugeFamily(),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      QueryDurationMetricName,
			Help:      "time of query execution in seconds, labeled with worker_id and status",
			Buckets:   bounds,
		}, []string{workerLabel, statusLabel}),
		allocatedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(o.namespace, "", AllocatedMetricName),
			"amount of compute units allocated for this epoch",
			[]string{workerLabel}, nil,
		),
		spentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(o.namespace, "", SpentMetricName),
			"amount of compute units spent this epoch",
			[]string{workerLabel}, nil,
		),
		epochDesc: prometheus.NewDesc(
			prometheus.BuildFQName(o.namespace, "", CurrentEpochMetricName),
			"current epoch number",
			nil, nil,
		),
		prom: prometheus.NewRegistry(),
	}
	if err := r.prom.Register(r); err != nil {
		return nil, cmerrors.NewConfigError("failed to register compute-unit collector", err)
	}
	return r, nil
}

// Registry returns the Prometheus registry that Render serializes.
func (r *Registry) Registry() *prometheus.Registry { return r.prom }

var _ metrics.RegistryProvider = (*Registry)(nil)

// InitializeWorkers sets allocated and spent to zero for every given worker,
// creating the series when absent.
func (r *Registry) InitializeWorkers(workerIDs []string) {
	for _, id := range workerIDs {
		r.allocated.set(id, 0)
		r.spent.set(id, 0)
	}
}

// AdvanceEpoch records epoch as current and drops every allocated and spent
// series, including workers never passed to InitializeWorkers. The duration
// histogram is left untouched.
//
// Callers that want allocations visible again should follow up with
// SetAllocations promptly, or use AdvanceEpochWithAllocations to avoid the
// empty window altogether.
func (r *Registry) AdvanceEpoch(epoch uint32) {
	r.epochMu.Lock()
	defer r.epochMu.Unlock()
	r.advanceLocked(epoch)
}

// AdvanceEpochWithAllocations is AdvanceEpoch followed by SetAllocations,
// applied so that no scrape observes the epoch without its allocations.
func (r *Registry) AdvanceEpochWithAllocations(epoch uint32, allocations []task.Allocation) {
	r.epochMu.Lock()
	defer r.epochMu.Unlock()
	r.advanceLocked(epoch)
	r.SetAllocations(allocations)
}

func (r *Registry) advanceLocked(epoch uint32) {
	prev := r.epoch.Swap(epoch)
	r.allocated.reset()
	r.spent.reset()
	r.log.Debugf("Advanced epoch %d -> %d, cleared compute-unit gauges", prev, epoch)
}

// SetAllocations overwrites the allocated compute units of each listed
// worker. Duplicate workers resolve to the last entry in the list.
func (r *Registry) SetAllocations(allocations []task.Allocation) {
	for _, a := range allocations {
		r.allocated.set(a.WorkerID, int64(a.ComputeUnits))
	}
}

// AddSpent adds amount to the worker's spent compute units.
func (r *Registry) AddSpent(workerID string, amount uint32) {
	r.spent.add(workerID, int64(amount))
}

// RecordQueryFinished observes the task's execution time, in seconds, in
// the duration histogram of its (worker, status) pair.
func (r *Registry) RecordQueryFinished(t task.FinishedTask) {
	seconds := float64(t.ExecTimeMs()) / 1000.0
	r.durations.WithLabelValues(sanitizeLabel(t.Worker()), sanitizeLabel(t.StatusCode())).Observe(seconds)
}

// Epoch returns the current epoch number.
func (r *Registry) Epoch() uint32 { return r.epoch.Load() }

// Allocated returns the worker's allocated compute units and whether a
// series exists for it in the current epoch.
func (r *Registry) Allocated(workerID string) (int64, bool) { return r.allocated.get(workerID) }

// Spent returns the worker's spent compute units and whether a series exists
// for it in the current epoch.
func (r *Registry) Spent(workerID string) (int64, bool) { return r.spent.get(workerID) }
