package store

import (
	"context"

	"github.com/tallysum/tally/types"
)

// Event is a change notification for a watched document.
type Event struct {
	// Key identifies the changed document: a shard key for shard watches, a
	// descriptor ID for descriptor watches.
	Key string
}

// Watcher delivers change notifications for a watched collection.
//
// Delivery is at-least-once: events may be delayed, duplicated, or (rarely)
// reordered. The aggregation protocol is designed to remain correct under
// all three.
type Watcher interface {
	// Updates returns the event channel. The channel is closed when the
	// watcher stops or its context is cancelled.
	Updates() <-chan Event

	// Stop terminates the watch.
	Stop() error
}

// Store is the coordination store client for one counter.
//
// All methods are safe for concurrent use. Implementations provide
// optimistic-concurrency semantics: mutations guarded by a revision fail
// with types.ErrTxnConflict when the document changed since it was read,
// and Consume applies its sum-and-delete either fully or not at all.
type Store interface {
	// PutShard writes a new shard record. Shard keys are unique; writing an
	// existing key fails.
	PutShard(ctx context.Context, shard types.Shard) error

	// QueryShards returns up to limit shards whose key falls in rng, ordered
	// by key ascending.
	QueryShards(ctx context.Context, rng types.KeyRange, limit int) ([]types.Shard, error)

	// CountShards returns the outstanding shard count, capped at limit. Used
	// as a bounded backlog estimate; returns types.ErrBacklogUnavailable
	// wrapped when the estimate cannot be obtained.
	CountShards(ctx context.Context, limit int) (int, error)

	// Consume atomically sums the given batch into the counter total and
	// deletes every batch shard. Returns types.ErrTxnConflict (wrapped) when
	// a concurrent mutation invalidated the batch or the state document; in
	// that case no effect was applied and the caller may retry with a fresh
	// batch.
	Consume(ctx context.Context, shards []types.Shard) error

	// State returns the counter's aggregate state document. A counter that
	// has never been aggregated yields the zero state.
	State(ctx context.Context) (types.CounterState, error)

	// Descriptors returns all worker descriptors for the counter.
	Descriptors(ctx context.Context) ([]types.WorkerDescriptor, error)

	// GetDescriptor returns one descriptor and its revision.
	// Returns types.ErrDescriptorNotFound (wrapped) when absent.
	GetDescriptor(ctx context.Context, id string) (types.WorkerDescriptor, uint64, error)

	// PutDescriptor writes a descriptor guarded by the given revision;
	// revision 0 creates. Returns the new revision, or types.ErrTxnConflict
	// (wrapped) on a revision mismatch.
	PutDescriptor(ctx context.Context, desc types.WorkerDescriptor, revision uint64) (uint64, error)

	// DeleteDescriptor removes a descriptor. Deleting an absent descriptor
	// is a no-op.
	DeleteDescriptor(ctx context.Context, id string) error

	// WatchShards watches shard writes for the counter. Deletions are not
	// delivered.
	WatchShards(ctx context.Context) (Watcher, error)

	// WatchDescriptors watches descriptor writes for the counter. Deletions
	// are not delivered, so a retired descriptor does not re-trigger its
	// worker.
	WatchDescriptors(ctx context.Context) (Watcher, error)
}
