package types

import "errors"

// Protocol error taxonomy.
//
// Every error path in the aggregation protocol either aborts an entire
// transaction or is a pure decision with no store mutation; none of these
// errors can leave a counter double-counted or a shard deleted-but-unsummed.
var (
	// ErrTxnConflict indicates an optimistic-concurrency conflict: another
	// actor mutated the counter state or a batch shard between read and
	// commit. Transient; callers retry with a bounded attempt count.
	ErrTxnConflict = errors.New("transaction conflict")

	// ErrRetriesExhausted indicates an aggregation transaction failed all of
	// its bounded conflict retries. Surfaced as ControllerFailure, which the
	// caller escalates to a worker reschedule rather than treating as fatal.
	ErrRetriesExhausted = errors.New("aggregation retries exhausted")

	// ErrBacklogUnavailable indicates the backlog size estimate could not be
	// obtained. The controller falls back to the previous partition plan.
	ErrBacklogUnavailable = errors.New("backlog estimate unavailable")

	// ErrDescriptorNotFound indicates a worker descriptor no longer exists.
	// A worker observing this exits without action: its partition has been
	// retired or superseded by a reshard.
	ErrDescriptorNotFound = errors.New("worker descriptor not found")
)
