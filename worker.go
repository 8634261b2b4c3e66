package tally

import (
	"context"
	"errors"
	"time"

	"github.com/tallysum/tally/aggregator"
	"github.com/tallysum/tally/store"
	"github.com/tallysum/tally/types"
)

// Worker drains one partition of the shard key space.
//
// A worker owns exactly one descriptor at a time. Each run loops the
// aggregator over the partition for a soft wall-clock budget, then writes
// its heartbeat and progress back to the descriptor. That write is itself a
// descriptor mutation, so the watch-driven dispatch re-invokes the worker:
// the chain is self-perpetuating until the partition drains (the worker
// goes idle and stops writing) or the controller retires the descriptor.
type Worker struct {
	cfg     Config
	store   store.Store
	agg     *aggregator.Aggregator
	logger  types.Logger
	metrics types.MetricsCollector
}

// newWorker wires a Worker from manager internals.
func newWorker(cfg Config, st store.Store, agg *aggregator.Aggregator, log types.Logger, m types.MetricsCollector) *Worker {
	return &Worker{
		cfg:     cfg,
		store:   st,
		agg:     agg,
		logger:  log,
		metrics: m,
	}
}

// Run executes one bounded aggregation run for the given descriptor.
//
// A missing descriptor or one carrying the stop flag ends the chain without
// action. The run budget is a soft cap: the loop stops initiating new
// batches once the budget elapses, letting the in-flight transaction
// finish.
//
// Parameters:
//   - ctx: Context for cancellation
//   - id: Descriptor ID owned by this worker
//
// Returns:
//   - error: Store access error; normal terminations (retired partition,
//     drained range, lost descriptor race) return nil
func (w *Worker) Run(ctx context.Context, id string) error {
	desc, revision, err := w.store.GetDescriptor(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrDescriptorNotFound) {
			w.logger.Debug("descriptor gone, worker exiting", "descriptor", id)

			return nil
		}

		return err
	}
	if desc.Stop {
		w.logger.Info("stop flag set, worker exiting", "descriptor", id)

		return nil
	}

	start := time.Now()
	deadline := start.Add(w.cfg.RunBudget)

	consumed := 0
	failed := false
	for {
		res, err := w.agg.Aggregate(ctx, desc.Range, w.cfg.BatchLimit)
		consumed += res.Consumed

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Retries exhausted or store trouble: give up this run, keep
			// the heartbeat fresh, and let the controller escalate.
			w.logger.Warn("worker aggregation failed", "descriptor", id, "error", err)
			failed = true

			break
		}
		if res.Status == types.AggregateDrained {
			break
		}
		if !time.Now().Before(deadline) {
			break
		}
	}

	w.metrics.RecordWorkerRun(id, consumed, time.Since(start).Seconds())

	status := types.WorkerRunning
	if consumed == 0 && !failed {
		status = types.WorkerIdle
	}

	// An idle worker that stayed idle writes nothing: the chain quiesces
	// and the controller retires the descriptor on its next reschedule.
	if status == types.WorkerIdle && desc.Status == types.WorkerIdle {
		w.logger.Debug("worker idle, chain quiesced", "descriptor", id)

		return nil
	}

	desc.Status = status
	desc.Heartbeat = time.Now().UTC()
	desc.LastRunConsumed = consumed

	if _, err := w.store.PutDescriptor(ctx, desc, revision); err != nil {
		if errors.Is(err, types.ErrTxnConflict) {
			// The controller reshaped or reset the descriptor mid-run. Its
			// write already re-triggered the chain; drop ours.
			w.logger.Debug("descriptor changed during run, dropping write-back", "descriptor", id)

			return nil
		}

		return err
	}

	w.logger.Debug("worker run complete",
		"descriptor", id, "consumed", consumed, "status", status.String())

	return nil
}
