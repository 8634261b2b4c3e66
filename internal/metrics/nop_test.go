package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallysum/tally/types"
)

func TestNopMetricsImplementsInterface(t *testing.T) {
	var _ types.MetricsCollector = (*NopMetrics)(nil)

	// All methods must be callable without side effects.
	n := NewNop()
	n.RecordAggregation(10, types.AggregateDone, 0.1)
	n.RecordTxnConflict()
	n.RecordControllerPass(types.ControllerOK, 0.1)
	n.RecordReshard(500, 3)
	n.RecordStaleWorker("worker-a")
	n.RecordWorkerRun("worker-a", 200, 1.5)
	n.RecordStoreOperation("consume", 0.05)
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheus(reg, "tally_test")
	require.NotNil(t, c)

	c.RecordAggregation(200, types.AggregateTooManyShards, 0.2)
	c.RecordTxnConflict()
	c.RecordControllerPass(types.ControllerTooManyShards, 0.3)
	c.RecordReshard(500, 3)
	c.RecordStaleWorker("worker-a")
	c.RecordWorkerRun("worker-a", 200, 1.5)
	c.RecordStoreOperation("query", 0.01)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	names := make(map[string]struct{}, len(families))
	for _, f := range families {
		names[f.GetName()] = struct{}{}
	}
	assert.Contains(t, names, "tally_test_aggregations_total")
	assert.Contains(t, names, "tally_test_shards_consumed_total")
	assert.Contains(t, names, "tally_test_reshard_partitions")
}

func TestPrometheusDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	// Two collectors on one registerer must not panic.
	_ = NewPrometheus(reg, "tally_dup")
	require.NotPanics(t, func() {
		_ = NewPrometheus(reg, "tally_dup")
	})
}
