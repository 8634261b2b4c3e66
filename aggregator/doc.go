// Package aggregator implements the transactional aggregation pass shared by
// the controller and the partition workers.
//
// One pass selects a deterministic, key-ascending batch of shards from a key
// range, then sums the batch into the counter total and deletes it with the
// store's all-or-nothing semantics. A full batch signals the caller
// that more work remains; an empty batch signals the range is drained.
// Optimistic-concurrency conflicts are retried with a bounded attempt count,
// re-selecting a fresh batch each attempt; exhausting the attempts yields a
// failed pass with no partial effect.
package aggregator
