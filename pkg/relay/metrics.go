package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks resolution and query fan-out activity. All recording
// methods are safe on a nil receiver so instrumentation stays optional.
type Metrics struct {
	ResolveOperations prometheus.Counter
	DispatchesTotal   prometheus.Counter
	DispatchFailures  prometheus.Counter
	DispatchLatency   prometheus.Histogram
	RecordsMerged     prometheus.Counter
	MergeCollisions   prometheus.Counter
}

// NewMetrics creates and registers the relay metrics against the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ResolveOperations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relaymesh",
			Subsystem: "resolver",
			Name:      "resolve_operations_total",
			Help:      "Total endpoint set resolutions",
		}),
		DispatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relaymesh",
			Subsystem: "engine",
			Name:      "dispatches_total",
			Help:      "Total per-relay query dispatches",
		}),
		DispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relaymesh",
			Subsystem: "engine",
			Name:      "dispatch_failures_total",
			Help:      "Dispatches that failed or timed out",
		}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relaymesh",
			Subsystem: "engine",
			Name:      "dispatch_duration_seconds",
			Help:      "Per-relay dispatch latency",
			Buckets:   prometheus.DefBuckets,
		}),
		RecordsMerged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relaymesh",
			Subsystem: "engine",
			Name:      "records_merged_total",
			Help:      "Records accepted into merged query output",
		}),
		MergeCollisions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relaymesh",
			Subsystem: "engine",
			Name:      "merge_collisions_total",
			Help:      "Duplicate record identities seen during merge",
		}),
	}
}

func (m *Metrics) resolveOp() {
	if m == nil {
		return
	}
	m.ResolveOperations.Inc()
}

func (m *Metrics) observeDispatch(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.DispatchesTotal.Inc()
	m.DispatchLatency.Observe(d.Seconds())
	if !ok {
		m.DispatchFailures.Inc()
	}
}

func (m *Metrics) recordMerged() {
	if m == nil {
		return
	}
	m.RecordsMerged.Inc()
}

func (m *Metrics) mergeCollision() {
	if m == nil {
		return
	}
	m.MergeCollisions.Inc()
}
