// Package tally provides a distributed sharded counter on NATS JetStream
// with self-scaling aggregation.
//
// A tally counter is one logical integer whose increments are written
// concurrently by many independent clients as small shard records, avoiding
// write contention on a single hot document. A controller consolidates the
// shard backlog into the aggregate total: small backlogs are aggregated
// directly, large ones are partitioned across parallel workers that each
// drain a disjoint slice of the shard key space in bounded, self-renewing
// runs. Worker health is tracked through heartbeats on persisted
// descriptors; stale workers are detected and reset automatically.
//
// # Quick Start
//
//	cfg := tally.Config{}
//
//	mgr, err := tally.NewManager(&cfg, natsConn, "page-views")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop(context.Background())
//
//	counter := mgr.Counter()
//	counter.Increment(ctx, 1)
//
//	total, _ := mgr.Total(ctx) // bounded staleness
//
// Writer-only processes that never aggregate can use NewCounter instead of
// running a full Manager.
//
// # Architecture
//
// Coordination happens entirely through JetStream KV buckets: shard records,
// one counter state document, and one descriptor per active partition.
// Aggregation commits are all-or-nothing (see the store package), so a shard
// is summed into the total at most once no matter how triggers are
// duplicated, delayed, or reordered. The controller runs on a periodic tick
// and, rate-limited to a single concurrent execution, on every shard write;
// each worker re-runs whenever its own descriptor is written, making the
// worker chain self-perpetuating until its partition is retired.
//
// # Guarantees
//
//   - Conservation: once the backlog is drained, the total equals the exact
//     sum of every shard delta ever written.
//   - No double counting under duplicate or out-of-order triggers.
//   - Bounded staleness of reads; the total may lag but is never incorrect.
//
// Cross-counter transactions and read-your-write consistency of the total
// are out of scope.
package tally
