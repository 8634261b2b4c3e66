package types

// AggregateStatus is the outcome of a single aggregation pass over a key
// range.
//
// The values form a closed set; callers are expected to switch exhaustively.
type AggregateStatus int

const (
	// AggregateDrained means the queried range contained no shards. The pass
	// performed no store mutation.
	AggregateDrained AggregateStatus = iota

	// AggregateDone means a partial batch (fewer than the limit) was summed
	// into the total and its shards deleted. The range is likely drained or
	// close to it.
	AggregateDone

	// AggregateTooManyShards means a full batch was consumed and more shards
	// almost certainly remain beyond it. Callers use this as the signal to
	// keep looping or to hand off to partitioned workers.
	AggregateTooManyShards

	// AggregateFailed means the aggregation transaction exhausted its
	// bounded conflict retries. No partial effect was applied.
	AggregateFailed
)

// String returns the string representation of the status.
func (s AggregateStatus) String() string {
	switch s {
	case AggregateDrained:
		return "Drained"
	case AggregateDone:
		return "Done"
	case AggregateTooManyShards:
		return "TooManyShards"
	case AggregateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ControllerStatus is the overall outcome of one controller pass.
//
// Any status other than ControllerOK tells the caller to follow up with a
// worker reschedule.
type ControllerStatus int

const (
	// ControllerOK means the backlog was drained (or nearly so) by direct
	// aggregation and no descriptor needs attention.
	ControllerOK ControllerStatus = iota

	// ControllerTooManyShards means direct aggregation hit a full batch;
	// the backlog is large enough to warrant partitioned workers.
	ControllerTooManyShards

	// ControllerWorkersRunning means active worker descriptors exist. The
	// follow-up reschedule is idempotent: healthy unchanged workers are left
	// alone, idle ones are retired, failed ones are reset.
	ControllerWorkersRunning

	// ControllerFailure means direct aggregation exhausted its retries. The
	// caller escalates to a reschedule rather than treating this as terminal.
	ControllerFailure
)

// String returns the string representation of the status.
func (s ControllerStatus) String() string {
	switch s {
	case ControllerOK:
		return "OK"
	case ControllerTooManyShards:
		return "TooManyShards"
	case ControllerWorkersRunning:
		return "WorkersRunning"
	case ControllerFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// WorkerStatus is the health state recorded on a worker descriptor.
type WorkerStatus int

const (
	// WorkerRunning means the worker is actively draining its partition (or
	// is expected to be; staleness detection decides otherwise).
	WorkerRunning WorkerStatus = iota

	// WorkerIdle means the worker's last full run consumed nothing. Idle
	// descriptors are retirement candidates on the next reschedule.
	WorkerIdle

	// WorkerFailed means the controller observed a heartbeat older than the
	// staleness threshold. Failed descriptors are reset to WorkerRunning by
	// the next reschedule, which re-triggers their worker.
	WorkerFailed
)

// String returns the string representation of the status.
func (s WorkerStatus) String() string {
	switch s {
	case WorkerRunning:
		return "Running"
	case WorkerIdle:
		return "Idle"
	case WorkerFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
