package types

import "time"

// Shard is a single increment contribution to a counter.
//
// Shards are written by many independent clients to avoid contention on one
// hot document. A shard is immutable: it is created once and consumed
// (deleted) exactly once, inside the same transaction that adds its delta to
// the counter total. A shard is never mutated in place.
type Shard struct {
	// Counter identifies the parent counter this shard contributes to.
	Counter string `json:"counter"`

	// Key is the shard's position in the shard key space. Keys are
	// effectively-random fixed-width strings over the planner alphabet, so
	// lexicographic ranges split the backlog evenly. Used for ordering and
	// range partitioning.
	Key string `json:"key"`

	// Delta is the increment contribution. May be negative.
	Delta int64 `json:"delta"`

	// CreatedAt records when the shard was written. Diagnostic only; the
	// protocol orders shards by Key, not by wall clock.
	CreatedAt time.Time `json:"createdAt"`
}

// CounterState is the aggregate state document for one counter.
//
// It is mutated only inside an aggregation transaction and is never deleted
// while the counter exists. Readers observe bounded staleness: the total lags
// the true sum by at most the un-aggregated backlog.
type CounterState struct {
	// Total is the current aggregate value: the sum of every shard delta
	// consumed so far.
	Total int64 `json:"total"`

	// LastAggregated is the commit time of the most recent aggregation
	// transaction.
	LastAggregated time.Time `json:"lastAggregated"`

	// ShardsConsumed counts shards consumed over the counter's lifetime.
	// Diagnostic only.
	ShardsConsumed int64 `json:"shardsConsumed"`

	// Pending holds the keys of the batch summed by the most recent commit.
	// The store uses it to finish (or recover) the deletion half of a commit
	// without ever re-summing a shard; see the store package for the commit
	// protocol. Empty once the deletes of the previous commit have landed.
	Pending []string `json:"pending,omitempty"`
}
