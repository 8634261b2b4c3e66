package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/tallysum/tally/store"
	"github.com/tallysum/tally/types"
)

// StartEmbeddedNATS starts an embedded NATS server with JetStream enabled for
// testing.
//
// The server runs in-process with JetStream enabled and stores data in a
// temporary directory that is automatically cleaned up when the test
// completes. This provides a fast, reliable way to test NATS-dependent code
// without external dependencies.
//
// The server uses a random available port to avoid conflicts in parallel
// tests.
//
// Parameters:
//   - t: Testing context for logging and cleanup
//
// Returns:
//   - *server.Server: The embedded NATS server instance
//   - *nats.Conn: Connected NATS client (closed automatically on test completion)
func StartEmbeddedNATS(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,          // Use random available port
		JetStream: true,        // Enable JetStream for KV stores
		StoreDir:  t.TempDir(), // Use test temp dir (auto-cleanup)
		NoLog:     true,        // Suppress all server logs in tests
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("Failed to create embedded NATS server: %v", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("Embedded NATS server not ready within timeout")
	}

	nc, err := nats.Connect(ns.ClientURL(),
		nats.Timeout(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(3),
	)
	if err != nil {
		ns.Shutdown()
		t.Fatalf("Failed to connect to embedded NATS server: %v", err)
	}

	// Register cleanup handlers (executed in reverse order)
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return ns, nc
}

// JetStream returns a JetStream context for the given connection, failing the
// test on error.
//
// Parameters:
//   - t: Testing context
//   - nc: NATS connection (from StartEmbeddedNATS)
//
// Returns:
//   - jetstream.JetStream: JetStream context
func JetStream(t *testing.T, nc *nats.Conn) jetstream.JetStream {
	t.Helper()

	js, err := jetstream.New(nc)
	require.NoError(t, err, "failed to create JetStream context")

	return js
}

// NewKVStore creates a KVStore for the given counter with per-test bucket
// names, so parallel tests do not collide.
//
// Parameters:
//   - t: Testing context
//   - nc: NATS connection (from StartEmbeddedNATS)
//   - counter: Counter identity
//
// Returns:
//   - *store.KVStore: Store bound to the counter
func NewKVStore(t *testing.T, nc *nats.Conn, counter string) *store.KVStore {
	t.Helper()

	js := JetStream(t, nc)

	s, err := store.NewKV(t.Context(), js, counter, store.Config{
		ShardBucket:  fmt.Sprintf("test-shards-%s", counter),
		StateBucket:  fmt.Sprintf("test-state-%s", counter),
		WorkerBucket: fmt.Sprintf("test-workers-%s", counter),
	})
	require.NoError(t, err, "failed to create KV store")

	return s
}

// SeedShards writes n shards of the given delta for the counter, with
// fixed-width zero-padded hex keys so the full batch is deterministic.
//
// Parameters:
//   - t: Testing context
//   - s: Store to write through
//   - counter: Counter identity
//   - n: Number of shards to write
//   - delta: Delta per shard
func SeedShards(t *testing.T, s store.Store, counter string, n int, delta int64) {
	t.Helper()

	ctx := t.Context()
	for i := 0; i < n; i++ {
		shard := types.Shard{
			Counter:   counter,
			Key:       fmt.Sprintf("%016x", i),
			Delta:     delta,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.PutShard(ctx, shard), "failed to seed shard %d", i)
	}
}

// DrainEvents consumes and discards watcher events until the context ends.
// Useful for tests that only need a watcher to stay attached.
func DrainEvents(ctx context.Context, w store.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.Updates():
			if !ok {
				return
			}
		}
	}
}
