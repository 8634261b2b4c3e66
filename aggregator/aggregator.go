package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tallysum/tally/internal/logger"
	"github.com/tallysum/tally/internal/metrics"
	"github.com/tallysum/tally/store"
	"github.com/tallysum/tally/types"
)

// Result is the outcome of one aggregation pass.
type Result struct {
	// Consumed is the number of shards summed into the total by this pass.
	Consumed int

	// Status classifies the outcome; see types.AggregateStatus.
	Status types.AggregateStatus
}

// Aggregator runs bounded aggregation passes against a counter's store.
//
// Aggregator is stateless between passes and safe for concurrent use; the
// store's transaction semantics make concurrent passes over overlapping
// ranges contend rather than double-count.
type Aggregator struct {
	store       store.Store
	maxAttempts int
	logger      types.Logger
	metrics     types.MetricsCollector
}

// New creates an Aggregator.
//
// Parameters:
//   - s: Coordination store bound to the counter
//   - maxAttempts: Bounded conflict-retry attempts per pass (default 3)
//
// Returns:
//   - *Aggregator: New aggregator instance
func New(s store.Store, maxAttempts int) *Aggregator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &Aggregator{
		store:       s,
		maxAttempts: maxAttempts,
		logger:      logger.NewNop(),
		metrics:     metrics.NewNop(),
	}
}

// SetLogger sets the logger. Optional; defaults to a no-op logger.
func (a *Aggregator) SetLogger(l types.Logger) {
	if l != nil {
		a.logger = l
	}
}

// SetMetrics sets the metrics collector. Optional; defaults to no-op.
func (a *Aggregator) SetMetrics(m types.MetricsCollector) {
	if m != nil {
		a.metrics = m
	}
}

// Aggregate runs one pass over rng with the given batch limit.
//
// The pass queries up to limit shards in key-ascending order and consumes
// them in a single transaction. Conflicts re-select a fresh batch, up to the
// configured attempt bound.
//
// Outcomes:
//   - AggregateDrained: no shards found, no mutation
//   - AggregateDone: a partial batch was consumed
//   - AggregateTooManyShards: a full batch was consumed; more work remains
//   - AggregateFailed: attempts exhausted; error wraps types.ErrRetriesExhausted
//
// Parameters:
//   - ctx: Context for cancellation
//   - rng: Key range to aggregate
//   - limit: Maximum batch size
//
// Returns:
//   - Result: Consumed count and outcome status
//   - error: Non-transient failure (retries exhausted, store error)
func (a *Aggregator) Aggregate(ctx context.Context, rng types.KeyRange, limit int) (Result, error) {
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Result{Status: types.AggregateFailed}, ctx.Err()
		}

		shards, err := a.store.QueryShards(ctx, rng, limit)
		if err != nil {
			return a.finish(Result{Status: types.AggregateFailed}, start, err)
		}

		if len(shards) == 0 {
			return a.finish(Result{Status: types.AggregateDrained}, start, nil)
		}

		if err := a.store.Consume(ctx, shards); err != nil {
			if errors.Is(err, types.ErrTxnConflict) {
				a.metrics.RecordTxnConflict()
				a.logger.Debug("aggregation conflict, retrying",
					"attempt", attempt, "batch", len(shards))
				lastErr = err

				continue
			}

			return a.finish(Result{Status: types.AggregateFailed}, start, err)
		}

		status := types.AggregateDone
		if len(shards) == limit {
			// Full batch: more shards almost certainly remain beyond it.
			status = types.AggregateTooManyShards
		}

		return a.finish(Result{Consumed: len(shards), Status: status}, start, nil)
	}

	err := fmt.Errorf("%w after %d attempts: %w", types.ErrRetriesExhausted, a.maxAttempts, lastErr)

	return a.finish(Result{Status: types.AggregateFailed}, start, err)
}

func (a *Aggregator) finish(res Result, start time.Time, err error) (Result, error) {
	a.metrics.RecordAggregation(res.Consumed, res.Status, time.Since(start).Seconds())

	return res, err
}
