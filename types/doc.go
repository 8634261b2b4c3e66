// Package types defines the core types and interfaces shared across the
// tally library.
//
// This package is a leaf: it imports nothing from the rest of the module,
// which allows internal packages to depend on it without creating import
// cycles with the root tally package. The root package re-exports the most
// commonly used definitions via type aliases for convenience.
//
// Key contents:
//   - Shard, CounterState, WorkerDescriptor: the persisted documents of the
//     sharded counter protocol
//   - KeyRange: half-open lexicographic ranges over the shard key space
//   - AggregateStatus, ControllerStatus, WorkerStatus: closed status enums
//   - Logger, MetricsCollector: injectable observability interfaces
//   - Protocol error taxonomy (ErrTxnConflict, ErrRetriesExhausted, ...)
package types
