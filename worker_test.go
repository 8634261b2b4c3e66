package tally

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallysum/tally/aggregator"
	"github.com/tallysum/tally/internal/metrics"
	"github.com/tallysum/tally/store"
	tallytest "github.com/tallysum/tally/testing"
	"github.com/tallysum/tally/types"
)

// newWorkerHarness wires a Worker against an embedded NATS server.
func newWorkerHarness(t *testing.T, counter string, cfg Config) (*Worker, *store.KVStore) {
	t.Helper()

	_, nc := tallytest.StartEmbeddedNATS(t)
	s := tallytest.NewKVStore(t, nc, counter)

	SetDefaults(&cfg)
	require.NoError(t, cfg.Validate())

	log := tallytest.NewTestLogger(t)
	agg := aggregator.New(s, cfg.MaxAttempts)
	agg.SetLogger(log)

	return newWorker(cfg, s, agg, log, metrics.NewNop()), s
}

// createDescriptor writes a fresh RUNNING descriptor for the range.
func createDescriptor(t *testing.T, s store.Store, rng types.KeyRange) string {
	t.Helper()

	id := descriptorID(rng)
	_, err := s.PutDescriptor(t.Context(), types.WorkerDescriptor{
		ID:        id,
		Range:     rng,
		Status:    types.WorkerRunning,
		Heartbeat: time.Now().UTC(),
	}, 0)
	require.NoError(t, err)

	return id
}

func TestWorker_Run_DrainsPartition(t *testing.T) {
	w, s := newWorkerHarness(t, "wrk-drain", Config{BatchLimit: 40})
	ctx := t.Context()

	tallytest.SeedShards(t, s, "wrk-drain", 100, 1)
	id := createDescriptor(t, s, types.FullRange())

	// One run loops full batches until the range drains.
	require.NoError(t, w.Run(ctx, id))

	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), state.Total)

	remaining, err := s.CountShards(ctx, 1000)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	desc, _, err := s.GetDescriptor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerRunning, desc.Status)
	assert.Equal(t, 100, desc.LastRunConsumed)
	assert.WithinDuration(t, time.Now(), desc.Heartbeat, 10*time.Second)
}

func TestWorker_Run_QuiescesWhenIdle(t *testing.T) {
	w, s := newWorkerHarness(t, "wrk-idle", Config{BatchLimit: 40})
	ctx := t.Context()

	id := createDescriptor(t, s, types.FullRange())

	// First empty run reports idle.
	require.NoError(t, w.Run(ctx, id))
	desc, rev, err := s.GetDescriptor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerIdle, desc.Status)
	assert.Zero(t, desc.LastRunConsumed)

	// Second idle run writes nothing back, ending the trigger chain.
	require.NoError(t, w.Run(ctx, id))
	_, rev2, err := s.GetDescriptor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rev, rev2, "an idle-to-idle run must not touch the descriptor")
}

func TestWorker_Run_StaysInsidePartition(t *testing.T) {
	w, s := newWorkerHarness(t, "wrk-range", Config{BatchLimit: 100})
	ctx := t.Context()

	// Half the keys below the midpoint, half above.
	for i := 0; i < 10; i++ {
		require.NoError(t, s.PutShard(ctx, types.Shard{
			Counter:   "wrk-range",
			Key:       fmt.Sprintf("1%015x", i),
			Delta:     1,
			CreatedAt: time.Now().UTC(),
		}))
		require.NoError(t, s.PutShard(ctx, types.Shard{
			Counter:   "wrk-range",
			Key:       fmt.Sprintf("9%015x", i),
			Delta:     1,
			CreatedAt: time.Now().UTC(),
		}))
	}

	id := createDescriptor(t, s, types.KeyRange{Start: "", End: "8"})
	require.NoError(t, w.Run(ctx, id))

	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), state.Total)

	remaining, err := s.CountShards(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, 10, remaining, "shards outside the partition must survive")
}

func TestWorker_Run_MissingDescriptor(t *testing.T) {
	w, _ := newWorkerHarness(t, "wrk-missing", Config{})

	require.NoError(t, w.Run(t.Context(), "worker-000000000000"))
}

func TestWorker_Run_StopFlag(t *testing.T) {
	w, s := newWorkerHarness(t, "wrk-stop", Config{})
	ctx := t.Context()

	tallytest.SeedShards(t, s, "wrk-stop", 10, 1)

	rng := types.FullRange()
	id := descriptorID(rng)
	_, err := s.PutDescriptor(ctx, types.WorkerDescriptor{
		ID:        id,
		Range:     rng,
		Status:    types.WorkerRunning,
		Heartbeat: time.Now().UTC(),
		Stop:      true,
	}, 0)
	require.NoError(t, err)

	require.NoError(t, w.Run(ctx, id))

	// Nothing consumed, descriptor untouched.
	remaining, err := s.CountShards(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}

func TestWorker_Run_SurvivesDescriptorTouch(t *testing.T) {
	w, s := newWorkerHarness(t, "wrk-race", Config{BatchLimit: 40})
	ctx := t.Context()

	tallytest.SeedShards(t, s, "wrk-race", 5, 1)
	id := createDescriptor(t, s, types.FullRange())

	// Bump the descriptor revision before the run starts; the run reads
	// the fresh revision and proceeds normally.
	desc, rev, err := s.GetDescriptor(ctx, id)
	require.NoError(t, err)
	desc.Heartbeat = time.Now().UTC()
	_, err = s.PutDescriptor(ctx, desc, rev)
	require.NoError(t, err)

	require.NoError(t, w.Run(ctx, id))

	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), state.Total)
}
