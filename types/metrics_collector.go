package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods may be called from internal goroutines and must be thread-safe.
//
// The interface composes smaller, domain-focused interfaces so partial
// instrumentation stays manageable.
type MetricsCollector interface {
	AggregationMetrics
	ControllerMetrics
	WorkerRunMetrics
	StoreMetrics
}

// AggregationMetrics covers the aggregation algorithm itself.
type AggregationMetrics interface {
	// RecordAggregation records one aggregation pass.
	//
	// Parameters:
	//   - consumed: Number of shards consumed by the pass
	//   - status: Outcome of the pass
	//   - duration: Time taken in seconds
	RecordAggregation(consumed int, status AggregateStatus, duration float64)

	// RecordTxnConflict records one optimistic-concurrency conflict retry.
	RecordTxnConflict()
}

// ControllerMetrics covers controller decisions and resharding.
type ControllerMetrics interface {
	// RecordControllerPass records the outcome of one controller pass.
	RecordControllerPass(status ControllerStatus, duration float64)

	// RecordReshard records a reschedule outcome.
	//
	// Parameters:
	//   - backlog: Backlog estimate the plan was derived from
	//   - partitions: Number of partitions in the resulting plan
	RecordReshard(backlog int, partitions int)

	// RecordStaleWorker records a descriptor marked failed by the health sweep.
	RecordStaleWorker(descriptorID string)
}

// WorkerRunMetrics covers individual worker runs.
type WorkerRunMetrics interface {
	// RecordWorkerRun records one completed worker run.
	//
	// Parameters:
	//   - descriptorID: The descriptor the run belonged to
	//   - consumed: Shards consumed during the run
	//   - duration: Run wall time in seconds
	RecordWorkerRun(descriptorID string, consumed int, duration float64)
}

// StoreMetrics covers coordination store operation latency.
type StoreMetrics interface {
	// RecordStoreOperation records a store operation latency.
	//
	// Parameters:
	//   - operation: Operation type ("get", "put", "delete", "query", "consume")
	//   - duration: Time taken in seconds
	RecordStoreOperation(operation string, duration float64)
}
