package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tallysum/tally/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	aggregations   *prometheus.CounterVec
	aggDuration    prometheus.Histogram
	shardsConsumed prometheus.Counter
	txnConflicts   prometheus.Counter

	controllerPasses *prometheus.CounterVec
	controllerDur    prometheus.Histogram
	reshardBacklog   prometheus.Gauge
	reshardWorkers   prometheus.Gauge
	staleWorkers     prometheus.Counter

	workerRuns     prometheus.Counter
	workerConsumed prometheus.Counter
	workerRunDur   prometheus.Histogram

	storeOpDuration *prometheus.HistogramVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Metrics namespace (defaults to "tally" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "tally"
	}

	c := &PrometheusCollector{reg: reg, namespace: namespace}
	c.init()

	return c
}

func (c *PrometheusCollector) init() {
	c.once.Do(func() {
		ns := c.namespace

		c.aggregations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "aggregations_total",
			Help:      "Aggregation passes by outcome status.",
		}, []string{"status"})

		c.aggDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "aggregation_duration_seconds",
			Help:      "Duration of aggregation passes.",
			Buckets:   prometheus.DefBuckets,
		})

		c.shardsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "shards_consumed_total",
			Help:      "Shards summed into counter totals.",
		})

		c.txnConflicts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "txn_conflicts_total",
			Help:      "Optimistic-concurrency conflicts during aggregation commits.",
		})

		c.controllerPasses = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "controller_passes_total",
			Help:      "Controller passes by resulting status.",
		}, []string{"status"})

		c.controllerDur = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "controller_pass_duration_seconds",
			Help:      "Duration of controller passes.",
			Buckets:   prometheus.DefBuckets,
		})

		c.reshardBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "reshard_backlog_estimate",
			Help:      "Backlog estimate observed by the last reschedule.",
		})

		c.reshardWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "reshard_partitions",
			Help:      "Partition count of the last reschedule plan.",
		})

		c.staleWorkers = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "stale_workers_total",
			Help:      "Worker descriptors marked failed by the health sweep.",
		})

		c.workerRuns = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "worker_runs_total",
			Help:      "Completed worker runs.",
		})

		c.workerConsumed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "worker_shards_consumed_total",
			Help:      "Shards consumed by partition workers.",
		})

		c.workerRunDur = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "worker_run_duration_seconds",
			Help:      "Wall time of worker runs.",
			Buckets:   prometheus.DefBuckets,
		})

		c.storeOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "store_operation_duration_seconds",
			Help:      "Coordination store operation latency by operation type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"})

		collectors := []prometheus.Collector{
			c.aggregations, c.aggDuration, c.shardsConsumed, c.txnConflicts,
			c.controllerPasses, c.controllerDur, c.reshardBacklog, c.reshardWorkers,
			c.staleWorkers, c.workerRuns, c.workerConsumed, c.workerRunDur,
			c.storeOpDuration,
		}
		for _, col := range collectors {
			// AlreadyRegisteredError is tolerated so multiple managers can
			// share one registerer in the same process.
			if err := c.reg.Register(col); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}

// RecordAggregation records one aggregation pass.
func (c *PrometheusCollector) RecordAggregation(consumed int, status types.AggregateStatus, duration float64) {
	c.aggregations.WithLabelValues(status.String()).Inc()
	c.aggDuration.Observe(duration)
	c.shardsConsumed.Add(float64(consumed))
}

// RecordTxnConflict records one optimistic-concurrency conflict retry.
func (c *PrometheusCollector) RecordTxnConflict() {
	c.txnConflicts.Inc()
}

// RecordControllerPass records the outcome of one controller pass.
func (c *PrometheusCollector) RecordControllerPass(status types.ControllerStatus, duration float64) {
	c.controllerPasses.WithLabelValues(status.String()).Inc()
	c.controllerDur.Observe(duration)
}

// RecordReshard records a reschedule outcome.
func (c *PrometheusCollector) RecordReshard(backlog int, partitions int) {
	c.reshardBacklog.Set(float64(backlog))
	c.reshardWorkers.Set(float64(partitions))
}

// RecordStaleWorker records a descriptor marked failed by the health sweep.
func (c *PrometheusCollector) RecordStaleWorker(_ /* descriptorID */ string) {
	c.staleWorkers.Inc()
}

// RecordWorkerRun records one completed worker run.
func (c *PrometheusCollector) RecordWorkerRun(_ /* descriptorID */ string, consumed int, duration float64) {
	c.workerRuns.Inc()
	c.workerConsumed.Add(float64(consumed))
	c.workerRunDur.Observe(duration)
}

// RecordStoreOperation records a store operation latency.
func (c *PrometheusCollector) RecordStoreOperation(operation string, duration float64) {
	c.storeOpDuration.WithLabelValues(operation).Observe(duration)
}
