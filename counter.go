package tally

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tallysum/tally/internal/logger"
	"github.com/tallysum/tally/store"
	"github.com/tallysum/tally/types"
)

// Counter is a writer handle for one distributed counter.
//
// Increment writes a shard record rather than touching the aggregate
// document, so any number of writers can increment concurrently without
// contention. The aggregate total is consolidated by a Manager running
// elsewhere (or in the same process).
//
// Counter is safe for concurrent use.
type Counter struct {
	name   string
	store  store.Store
	logger types.Logger
}

// NewCounter creates a standalone writer handle for counter name.
//
// Use this in writer-only processes that never run aggregation; processes
// that run a Manager can call Manager.Counter instead and share its store.
//
// Parameters:
//   - ctx: Context for bucket setup
//   - cfg: Configuration (bucket layout; defaults applied)
//   - conn: NATS connection
//   - name: Counter identity
//   - opts: Optional logger/store overrides
//
// Returns:
//   - *Counter: Writer handle
//   - error: Validation or bucket setup error
func NewCounter(ctx context.Context, cfg *Config, conn *nats.Conn, name string, opts ...Option) (*Counter, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if name == "" {
		return nil, ErrCounterRequired
	}

	SetDefaults(cfg)

	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	log := options.logger
	if log == nil {
		log = logger.NewNop()
	}

	st := options.store
	if st == nil {
		if conn == nil {
			return nil, ErrNATSConnectionRequired
		}

		js, err := jetstream.New(conn)
		if err != nil {
			return nil, fmt.Errorf("failed to create jetstream context: %w", err)
		}

		kv, err := store.NewKV(ctx, js, name, cfg.Buckets)
		if err != nil {
			return nil, fmt.Errorf("failed to open coordination store: %w", err)
		}
		kv.SetLogger(log)
		st = kv
	}

	return &Counter{name: name, store: st, logger: log}, nil
}

// Name returns the counter identity.
func (c *Counter) Name() string {
	return c.name
}

// Increment adds delta to the counter by writing one shard record.
//
// The delta may be negative. The write is contention-free: it touches a
// fresh shard document, never the aggregate total.
//
// Parameters:
//   - ctx: Context for the write
//   - delta: Amount to add
//
// Returns:
//   - error: Store write error
func (c *Counter) Increment(ctx context.Context, delta int64) error {
	shard := types.Shard{
		Counter:   c.name,
		Key:       NewShardKey(),
		Delta:     delta,
		CreatedAt: time.Now().UTC(),
	}

	if err := c.store.PutShard(ctx, shard); err != nil {
		return fmt.Errorf("failed to increment counter %s: %w", c.name, err)
	}

	c.logger.Debug("shard written", "counter", c.name, "key", shard.Key, "delta", delta)

	return nil
}

// Total returns the aggregated total.
//
// The value observes bounded staleness: shards not yet consolidated are not
// included. It is never incorrect, only possibly behind.
//
// Returns:
//   - int64: Current aggregate total
//   - error: Store read error
func (c *Counter) Total(ctx context.Context) (int64, error) {
	state, err := c.store.State(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", c.name, err)
	}

	return state.Total, nil
}

// State returns the full aggregate state document, including diagnostics.
func (c *Counter) State(ctx context.Context) (types.CounterState, error) {
	return c.store.State(ctx)
}
