// Package metrics provides MetricsCollector implementations for the tally
// library.
package metrics

import "github.com/tallysum/tally/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external metrics
// collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	mgr, err := tally.NewManager(&cfg, conn, "visits", tally.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordAggregation discards the aggregation pass metric.
func (n *NopMetrics) RecordAggregation(_ /* consumed */ int, _ /* status */ types.AggregateStatus, _ /* duration */ float64) {
	// No-op
}

// RecordTxnConflict discards the conflict counter.
func (n *NopMetrics) RecordTxnConflict() {
	// No-op
}

// RecordControllerPass discards the controller pass metric.
func (n *NopMetrics) RecordControllerPass(_ /* status */ types.ControllerStatus, _ /* duration */ float64) {
	// No-op
}

// RecordReshard discards the reshard metric.
func (n *NopMetrics) RecordReshard(_ /* backlog */ int, _ /* partitions */ int) {
	// No-op
}

// RecordStaleWorker discards the stale worker counter.
func (n *NopMetrics) RecordStaleWorker(_ /* descriptorID */ string) {
	// No-op
}

// RecordWorkerRun discards the worker run metric.
func (n *NopMetrics) RecordWorkerRun(_ /* descriptorID */ string, _ /* consumed */ int, _ /* duration */ float64) {
	// No-op
}

// RecordStoreOperation discards the store operation latency metric.
func (n *NopMetrics) RecordStoreOperation(_ /* operation */ string, _ /* duration */ float64) {
	// No-op
}
