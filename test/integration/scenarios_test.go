//go:build integration
// +build integration

package integration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallysum/tally"
	tallytest "github.com/tallysum/tally/testing"
	"github.com/tallysum/tally/types"
)

func TestScenario_Conservation(t *testing.T) {
	_, nc := tallytest.StartEmbeddedNATS(t)
	s := tallytest.NewKVStore(t, nc, "conserve")

	cfg := tally.Config{
		BatchLimit:   50,
		TickInterval: 200 * time.Millisecond,
		RunBudget:    5 * time.Second,
	}
	mgr, err := tally.NewManager(&cfg, nc, "conserve",
		tally.WithStore(s),
		tally.WithLogger(tallytest.NewTestLogger(t)))
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, mgr.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Stop(stopCtx)
	})

	// Concurrent writers racing the aggregation passes.
	const writers = 8
	const perWriter = 40

	var wg sync.WaitGroup
	counter := mgr.Counter()
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, counter.Increment(ctx, 1))
			}
		}()
	}
	wg.Wait()

	// Every delta is counted exactly once, no matter how the batches
	// interleaved with the writes.
	const want = int64(writers * perWriter)
	require.Eventually(t, func() bool {
		total, err := mgr.Total(ctx)

		return err == nil && total == want
	}, 30*time.Second, 200*time.Millisecond, "total never reached %d", want)

	// Once drained, the backlog stays empty.
	require.Eventually(t, func() bool {
		n, err := s.CountShards(ctx, 1000)

		return err == nil && n == 0
	}, 30*time.Second, 200*time.Millisecond)
}

func TestScenario_OverloadSpawnsWorkers(t *testing.T) {
	_, nc := tallytest.StartEmbeddedNATS(t)
	s := tallytest.NewKVStore(t, nc, "overload")

	// Seed the backlog before any controller pass runs.
	tallytest.SeedShards(t, s, "overload", 500, 1)

	cfg := tally.Config{
		BatchLimit:   200,
		TickInterval: 200 * time.Millisecond,
		RunBudget:    5 * time.Second,
	}
	mgr, err := tally.NewManager(&cfg, nc, "overload",
		tally.WithStore(s),
		tally.WithLogger(tallytest.NewTestLogger(t)))
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, mgr.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Stop(stopCtx)
	})

	// The oversized backlog forces partitioned workers into existence.
	sawWorkers := false
	require.Eventually(t, func() bool {
		if !sawWorkers {
			descriptors, err := s.Descriptors(ctx)
			if err == nil && len(descriptors) >= 2 {
				ranges := make([]types.KeyRange, 0, len(descriptors))
				for _, d := range descriptors {
					ranges = append(ranges, d.Range)
				}
				assert.True(t, types.Disjoint(ranges))
				assert.True(t, types.Covers(ranges))
				sawWorkers = true
			}
		}

		total, err := mgr.Total(ctx)

		return sawWorkers && err == nil && total == 500
	}, 30*time.Second, 100*time.Millisecond, "backlog never drained through workers")

	remaining, err := s.CountShards(ctx, 1000)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestScenario_TwoManagersNoDoubleCount(t *testing.T) {
	_, nc := tallytest.StartEmbeddedNATS(t)

	cfg := tally.Config{
		BatchLimit:   50,
		TickInterval: 200 * time.Millisecond,
		RunBudget:    5 * time.Second,
		Buckets: tally.BucketConfig{
			ShardBucket:  "test-shards-twin",
			StateBucket:  "test-state-twin",
			WorkerBucket: "test-workers-twin",
		},
	}

	ctx := t.Context()

	managers := make([]*tally.Manager, 2)
	for i := range managers {
		c := cfg
		mgr, err := tally.NewManager(&c, nc, "twin",
			tally.WithLogger(tallytest.NewTestLogger(t)))
		require.NoError(t, err)
		require.NoError(t, mgr.Start(ctx))
		managers[i] = mgr
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, mgr := range managers {
			_ = mgr.Stop(stopCtx)
		}
	})

	// Both managers run controller passes against the same counter; the
	// transactional batches guarantee each shard is counted exactly once.
	counter := managers[0].Counter()
	const writes = 200
	for i := 0; i < writes; i++ {
		require.NoError(t, counter.Increment(ctx, 1))
	}

	require.Eventually(t, func() bool {
		a, errA := managers[0].Total(ctx)
		b, errB := managers[1].Total(ctx)

		return errA == nil && errB == nil && a == writes && b == writes
	}, 30*time.Second, 200*time.Millisecond)
}

func TestScenario_StaleWorkerRecovered(t *testing.T) {
	_, nc := tallytest.StartEmbeddedNATS(t)
	s := tallytest.NewKVStore(t, nc, "stale")

	cfg := tally.Config{
		BatchLimit:      100,
		TickInterval:    200 * time.Millisecond,
		RunBudget:       500 * time.Millisecond,
		StalenessFactor: 2.0,
	}
	mgr, err := tally.NewManager(&cfg, nc, "stale",
		tally.WithStore(s),
		tally.WithLogger(tallytest.NewTestLogger(t)))
	require.NoError(t, err)

	ctx := t.Context()

	// A descriptor with an hour-old heartbeat, as a crashed worker would
	// leave behind. Keep the backlog above the low-water mark so the plan
	// retains partitioned workers instead of retiring them.
	tallytest.SeedShards(t, s, "stale", 300, 1)
	_, err = s.PutDescriptor(ctx, types.WorkerDescriptor{
		ID:        "worker-dead",
		Range:     types.KeyRange{Start: "", End: "8000"},
		Status:    types.WorkerRunning,
		Heartbeat: time.Now().Add(-time.Hour).UTC(),
	}, 0)
	require.NoError(t, err)

	require.NoError(t, mgr.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Stop(stopCtx)
	})

	// The sweep detects the dead worker and the reschedule restores the
	// partition; the backlog drains regardless of the crash.
	require.Eventually(t, func() bool {
		total, err := mgr.Total(ctx)

		return err == nil && total == 300
	}, 30*time.Second, 200*time.Millisecond)
}
