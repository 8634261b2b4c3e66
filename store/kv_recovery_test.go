package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallysum/tally/types"
)

// newRecoveryStore starts an embedded NATS server and a KVStore bound to the
// counter. Duplicated from the testing package, which cannot be imported
// here without a cycle.
func newRecoveryStore(t *testing.T, counter string) *KVStore {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	}

	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server not ready within timeout")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		t.Fatalf("failed to connect to embedded NATS server: %v", err)
	}

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	s, err := NewKV(t.Context(), js, counter, Config{
		ShardBucket:  fmt.Sprintf("test-shards-%s", counter),
		StateBucket:  fmt.Sprintf("test-state-%s", counter),
		WorkerBucket: fmt.Sprintf("test-workers-%s", counter),
	})
	require.NoError(t, err)

	return s
}

func seedRecoveryShards(t *testing.T, s *KVStore, counter string, n int, delta int64) {
	t.Helper()

	for i := 0; i < n; i++ {
		require.NoError(t, s.PutShard(t.Context(), types.Shard{
			Counter:   counter,
			Key:       fmt.Sprintf("%016x", i),
			Delta:     delta,
			CreatedAt: time.Now().UTC(),
		}))
	}
}

// failingDeleteKV wraps a bucket so deletes of one key fail, standing in for
// a crash or outage between the state commit and the batch deletes.
type failingDeleteKV struct {
	jetstream.KeyValue
	failKey string
}

func (f *failingDeleteKV) Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error {
	if key == f.failKey {
		return errors.New("delete unavailable")
	}

	return f.KeyValue.Delete(ctx, key, opts...)
}

func TestConsumeKeepsFailedDeleteInPending(t *testing.T) {
	s := newRecoveryStore(t, "recover-keep")
	ctx := t.Context()

	seedRecoveryShards(t, s, "recover-keep", 5, 1)

	survivor := fmt.Sprintf("%016x", 4)
	realShards := s.shards
	s.shards = &failingDeleteKV{KeyValue: realShards, failKey: s.shardKey(survivor)}

	batch, err := s.QueryShards(ctx, types.FullRange(), 100)
	require.NoError(t, err)
	require.Len(t, batch, 5)

	require.NoError(t, s.Consume(ctx, batch))

	// The surviving shard must remain recorded as pending: it was summed,
	// only its delete is outstanding.
	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), state.Total)
	require.Equal(t, []string{survivor}, state.Pending)

	remaining, err := s.QueryShards(ctx, types.FullRange(), 100)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, survivor, remaining[0].Key)

	// Deletes work again; a replayed pass over the survivor must conflict
	// rather than sum it a second time.
	s.shards = realShards

	err = s.Consume(ctx, remaining)
	require.ErrorIs(t, err, types.ErrTxnConflict)

	state, err = s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), state.Total, "the surviving shard must never be counted twice")

	// The conflicting pass still ran recovery, so the shard is gone now.
	remaining, err = s.QueryShards(ctx, types.FullRange(), 100)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestConsumeRecoversPendingWithoutResumming(t *testing.T) {
	s := newRecoveryStore(t, "recover-pend")
	ctx := t.Context()

	// A counter left mid-commit: the state says the shard below was summed
	// (total 7, pending), but its delete never landed.
	leftover := "ffff000000000000"
	require.NoError(t, s.PutShard(ctx, types.Shard{
		Counter:   "recover-pend",
		Key:       leftover,
		Delta:     7,
		CreatedAt: time.Now().UTC(),
	}))
	_, err := s.writeState(ctx, types.CounterState{
		Total:          7,
		ShardsConsumed: 1,
		LastAggregated: time.Now().UTC(),
		Pending:        []string{leftover},
	}, 0)
	require.NoError(t, err)

	seedRecoveryShards(t, s, "recover-pend", 3, 2)

	// Consume a batch that excludes the leftover; phase 1 finishes its
	// delete without adding its delta again.
	batch, err := s.QueryShards(ctx, types.KeyRange{Start: "", End: "f"}, 100)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	require.NoError(t, s.Consume(ctx, batch))

	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(13), state.Total, "recovery must not re-sum the leftover shard")
	assert.Empty(t, state.Pending)

	remaining, err := s.QueryShards(ctx, types.FullRange(), 100)
	require.NoError(t, err)
	assert.Empty(t, remaining, "the leftover shard must be deleted by recovery")
}
