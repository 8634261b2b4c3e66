package types

import "time"

// WorkerDescriptor is the persisted state document for one partition worker.
//
// Exactly one descriptor exists per active partition. The controller owns
// creation, deletion and reshaping; the owning worker owns the run-state
// fields (Status, Heartbeat, LastRunConsumed) between reschedules. There is
// no lock: exclusivity follows from the fact that the write-trigger chain
// re-invokes a worker only on writes to its own descriptor, and the
// aggregation transaction makes any failover overlap harmless.
type WorkerDescriptor struct {
	// ID uniquely identifies the descriptor. Derived from the partition
	// bounds so an unchanged range keeps a stable ID across reschedules.
	ID string `json:"id"`

	// Range is the partition of the shard key space this worker drains.
	Range KeyRange `json:"range"`

	// Status is the worker's last reported (or controller-imposed) health.
	Status WorkerStatus `json:"status"`

	// Heartbeat is the time of the worker's last run completion, or of the
	// controller's last reset. Staleness detection compares against it.
	Heartbeat time.Time `json:"heartbeat"`

	// LastRunConsumed is the number of shards consumed in the worker's most
	// recent run. Diagnostic only.
	LastRunConsumed int `json:"lastRunConsumed"`

	// Stop asks the worker to exit without running. Set by the controller
	// ahead of deletion when a partition is being retired.
	Stop bool `json:"stop,omitempty"`
}

// Stale reports whether the descriptor's heartbeat is older than the given
// threshold at time now.
//
// Only WorkerRunning descriptors are subject to staleness: an idle worker has
// deliberately stopped renewing itself and a failed one is already flagged.
func (d WorkerDescriptor) Stale(now time.Time, threshold time.Duration) bool {
	return d.Status == WorkerRunning && now.Sub(d.Heartbeat) > threshold
}
