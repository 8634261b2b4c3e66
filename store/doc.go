// Package store defines the coordination store contract the sharded counter
// protocol runs on, and provides the NATS JetStream KeyValue implementation.
//
// The protocol needs three things from its store: transactional document
// reads and writes with optimistic-concurrency detection, lexicographic
// range queries over the shard key space, and at-least-once change
// notifications for shard and descriptor writes. JetStream KV supplies all
// three: per-key revisions back the concurrency detection, key listing backs
// the range queries, and KV watchers back the notifications.
//
// # Commit protocol
//
// KV has no multi-key transactions, so KVStore makes the aggregation commit
// (sum a batch into the total, delete the batch) equivalent to an
// all-or-nothing transaction with a two-phase protocol anchored on the
// counter state document:
//
//  1. Recover: delete any shard named in the state document's Pending set.
//     Those shards were summed by an earlier commit whose deletes did not
//     all land; deleting them now can never lose or double-count a delta.
//  2. Validate: re-read every batch shard. A missing shard means another
//     actor consumed it; the commit aborts with ErrTxnConflict before any
//     mutation of the total.
//  3. Commit: compare-and-swap the state document with the new total and
//     Pending set to the batch keys. A revision mismatch aborts with
//     ErrTxnConflict and no effect.
//  4. Delete: remove the batch shards, each guarded by its read revision.
//     Failures here are harmless; step 1 of any later commit finishes the
//     job without re-summing.
//  5. Shrink: rewrite Pending with only the keys whose deletes failed. A key
//     may leave Pending only once its shard is gone; until then it is the
//     proof the shard was summed.
//
// A duplicate or retried trigger therefore re-reads an empty result (or
// conflicts) and is a no-op: a shard is summed into the total at most once.
package store
