package tally

import (
	"github.com/tallysum/tally/store"
	"github.com/tallysum/tally/types"
)

// Re-export types from the types package.
//
// This file provides a stable, convenient public API for the library's core
// types and interfaces. It uses type aliases to re-export definitions from
// the `types` subpackage, which internal packages depend on directly to
// avoid import cycles with this root package.
type (
	Shard            = types.Shard
	CounterState     = types.CounterState
	WorkerDescriptor = types.WorkerDescriptor
	KeyRange         = types.KeyRange
)

// BucketConfig aliases the store's bucket layout configuration so callers
// rarely need to import the store package directly.
type BucketConfig = store.Config

// Re-export the status enums.
type (
	AggregateStatus  = types.AggregateStatus
	ControllerStatus = types.ControllerStatus
	WorkerStatus     = types.WorkerStatus
)

// Re-export interfaces for convenience.
type (
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
)

// Re-export status constants.
const (
	AggregateDrained       = types.AggregateDrained
	AggregateDone          = types.AggregateDone
	AggregateTooManyShards = types.AggregateTooManyShards
	AggregateFailed        = types.AggregateFailed

	ControllerOK             = types.ControllerOK
	ControllerTooManyShards  = types.ControllerTooManyShards
	ControllerWorkersRunning = types.ControllerWorkersRunning
	ControllerFailure        = types.ControllerFailure

	WorkerRunning = types.WorkerRunning
	WorkerIdle    = types.WorkerIdle
	WorkerFailed  = types.WorkerFailed
)
