package tally

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tallysum/tally/aggregator"
	"github.com/tallysum/tally/planner"
	"github.com/tallysum/tally/store"
	"github.com/tallysum/tally/types"
)

// Controller orchestrates aggregation for one counter's whole key space.
//
// Each pass tries direct aggregation first and sweeps worker health; the
// resulting status tells the caller whether a follow-up reschedule is
// warranted. Rescheduling diffs a fresh partition plan against the active
// descriptors, so it is idempotent and safe to invoke redundantly from both
// the periodic tick and the shard-write path.
type Controller struct {
	cfg     Config
	store   store.Store
	agg     *aggregator.Aggregator
	logger  types.Logger
	metrics types.MetricsCollector
}

// newController wires a Controller from manager internals.
func newController(cfg Config, st store.Store, agg *aggregator.Aggregator, log types.Logger, m types.MetricsCollector) *Controller {
	return &Controller{
		cfg:     cfg,
		store:   st,
		agg:     agg,
		logger:  log,
		metrics: m,
	}
}

// AggregateOnce performs one controller pass: a direct aggregation attempt
// over the full key space plus a worker health sweep.
//
// The returned status drives follow-up:
//
//	ControllerOK             backlog drained (or nearly), no active workers
//	ControllerTooManyShards  full batch consumed; partitioning warranted
//	ControllerWorkersRunning descriptors exist; reschedule reconciles them
//	ControllerFailure        aggregation retries exhausted; escalate
//
// Any status other than ControllerOK should be followed by
// RescheduleWorkers.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - types.ControllerStatus: Overall pass outcome
//   - error: The aggregation error when the status is ControllerFailure
func (c *Controller) AggregateOnce(ctx context.Context) (types.ControllerStatus, error) {
	start := time.Now()

	res, aggErr := c.agg.Aggregate(ctx, types.FullRange(), c.cfg.BatchLimit)
	if aggErr != nil && !errors.Is(aggErr, types.ErrRetriesExhausted) {
		// Store unavailability rather than contention; surface as failure.
		c.logger.Error("direct aggregation failed", "error", aggErr)
	}

	// The health sweep runs regardless of the aggregation outcome: a stuck
	// worker must be detected even while direct aggregation keeps up.
	descriptors, stale := c.sweepStaleWorkers(ctx)

	status := types.ControllerOK
	switch {
	case res.Status == types.AggregateFailed:
		status = types.ControllerFailure
	case res.Status == types.AggregateTooManyShards:
		status = types.ControllerTooManyShards
	case descriptors > 0:
		status = types.ControllerWorkersRunning
	}

	c.metrics.RecordControllerPass(status, time.Since(start).Seconds())
	c.logger.Debug("controller pass",
		"status", status.String(),
		"consumed", res.Consumed,
		"descriptors", descriptors,
		"stale", stale,
	)

	if status == types.ControllerFailure {
		return status, aggErr
	}

	return status, nil
}

// RescheduleWorkers reconciles the worker descriptors with a fresh partition
// plan.
//
// The plan is derived from a bounded backlog estimate; when the estimate is
// unavailable the previous plan is kept unchanged and only healing (FAILED →
// RUNNING resets) is applied. Ranges present in both plan and descriptors
// are left alone so healthy workers are never restarted; vanished ranges are
// deleted; new ranges get freshly created RUNNING descriptors, whose
// creation write triggers the first worker run.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: Store access error; individual descriptor conflicts are
//     tolerated (another controller instance raced and won)
func (c *Controller) RescheduleWorkers(ctx context.Context) error {
	descriptors, err := c.store.Descriptors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list descriptors: %w", err)
	}

	current := make([]types.KeyRange, 0, len(descriptors))
	for _, d := range descriptors {
		current = append(current, d.Range)
	}

	var ranges []types.KeyRange
	backlog, err := c.store.CountShards(ctx, c.cfg.CountLimit)
	if err != nil {
		if !errors.Is(err, types.ErrBacklogUnavailable) {
			return err
		}
		// Fall back to the previous plan unchanged; healing still applies.
		c.logger.Warn("backlog estimate unavailable, keeping previous plan", "error", err)
		ranges = current
	} else {
		ranges = planner.Plan(backlog, current, c.cfg.plannerConfig())
		c.metrics.RecordReshard(backlog, len(ranges))
	}

	planned := make(map[types.KeyRange]struct{}, len(ranges))
	for _, rng := range ranges {
		planned[rng] = struct{}{}
	}

	// Reconcile existing descriptors against the plan.
	existing := make(map[types.KeyRange]struct{}, len(descriptors))
	for _, desc := range descriptors {
		existing[desc.Range] = struct{}{}

		if _, keep := planned[desc.Range]; !keep {
			if err := c.retireDescriptor(ctx, desc); err != nil {
				return err
			}

			continue
		}

		if desc.Status == types.WorkerRunning {
			continue // healthy and unchanged, leave alone
		}

		// FAILED descriptors are reset so their worker chain restarts;
		// IDLE ones whose range is still planned are nudged the same way.
		c.resetDescriptor(ctx, desc)
	}

	// Create descriptors for newly planned ranges.
	for _, rng := range ranges {
		if _, ok := existing[rng]; ok {
			continue
		}

		desc := types.WorkerDescriptor{
			ID:        descriptorID(rng),
			Range:     rng,
			Status:    types.WorkerRunning,
			Heartbeat: time.Now().UTC(),
		}
		if _, err := c.store.PutDescriptor(ctx, desc, 0); err != nil {
			if errors.Is(err, types.ErrTxnConflict) {
				continue // another controller instance created it first
			}

			return err
		}
		c.logger.Info("worker created", "descriptor", desc.ID,
			"start", rng.Start, "end", rng.End)
	}

	return nil
}

// sweepStaleWorkers marks RUNNING descriptors with expired heartbeats as
// FAILED. Returns the descriptor count and the number newly marked.
func (c *Controller) sweepStaleWorkers(ctx context.Context) (total, stale int) {
	descriptors, err := c.store.Descriptors(ctx)
	if err != nil {
		c.logger.Error("health sweep failed", "error", err)

		return 0, 0
	}

	threshold := c.cfg.StalenessThreshold()
	now := time.Now()
	for _, desc := range descriptors {
		if !desc.Stale(now, threshold) {
			continue
		}

		c.logger.Warn("stale worker detected", "descriptor", desc.ID,
			"heartbeat", desc.Heartbeat, "threshold", threshold)
		c.metrics.RecordStaleWorker(desc.ID)

		// Re-read for the revision; conflicts mean the worker woke up or
		// another controller got there first. Both are fine.
		cur, rev, err := c.store.GetDescriptor(ctx, desc.ID)
		if err != nil {
			continue
		}
		cur.Status = types.WorkerFailed
		if _, err := c.store.PutDescriptor(ctx, cur, rev); err != nil {
			continue
		}
		stale++
	}

	return len(descriptors), stale
}

// retireDescriptor removes a descriptor whose range left the plan. The stop
// flag is set first, so a worker run racing the removal reads the flag and
// exits instead of aggregating a retired range.
func (c *Controller) retireDescriptor(ctx context.Context, desc types.WorkerDescriptor) error {
	c.logger.Info("retiring worker", "descriptor", desc.ID,
		"start", desc.Range.Start, "end", desc.Range.End)

	cur, rev, err := c.store.GetDescriptor(ctx, desc.ID)
	if err == nil && !cur.Stop {
		cur.Stop = true
		if _, err := c.store.PutDescriptor(ctx, cur, rev); err != nil && !errors.Is(err, types.ErrTxnConflict) {
			return err
		}
	}

	return c.store.DeleteDescriptor(ctx, desc.ID)
}

// resetDescriptor flips a descriptor back to RUNNING with a fresh heartbeat,
// preserving its key range. The write re-triggers the worker chain.
func (c *Controller) resetDescriptor(ctx context.Context, desc types.WorkerDescriptor) {
	cur, rev, err := c.store.GetDescriptor(ctx, desc.ID)
	if err != nil {
		return
	}

	cur.Status = types.WorkerRunning
	cur.Heartbeat = time.Now().UTC()
	cur.Stop = false
	if _, err := c.store.PutDescriptor(ctx, cur, rev); err != nil {
		c.logger.Debug("descriptor reset lost a race", "descriptor", desc.ID, "error", err)

		return
	}

	c.logger.Info("worker reset", "descriptor", desc.ID, "was", desc.Status.String())
}
