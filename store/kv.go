package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tallysum/tally/internal/kvutil"
	"github.com/tallysum/tally/internal/logger"
	"github.com/tallysum/tally/internal/metrics"
	"github.com/tallysum/tally/types"
)

// Config configures the KV bucket layout for a KVStore.
type Config struct {
	// ShardBucket is the bucket holding shard records.
	ShardBucket string `yaml:"shardBucket"`

	// StateBucket is the bucket holding counter state documents.
	StateBucket string `yaml:"stateBucket"`

	// WorkerBucket is the bucket holding worker descriptors.
	WorkerBucket string `yaml:"workerBucket"`

	// Replicas is the JetStream replica count for each bucket (default 1).
	Replicas int `yaml:"replicas"`
}

// KVStore implements Store on NATS JetStream KeyValue buckets.
//
// One KVStore is bound to one counter. Documents live under counter-scoped
// keys in three shared buckets:
//
//	shards:  {counter}.{shardKey}
//	state:   {counter}
//	workers: {counter}.{descriptorID}
//
// Per-key revisions supply the optimistic-concurrency detection the Store
// contract requires; see the package documentation for the commit protocol.
type KVStore struct {
	counter string

	shards  jetstream.KeyValue
	state   jetstream.KeyValue
	workers jetstream.KeyValue

	logger  types.Logger
	metrics types.MetricsCollector
}

// Compile-time assertion that KVStore implements Store.
var _ Store = (*KVStore)(nil)

// NewKV creates a KVStore for the given counter, creating or opening the
// three coordination buckets.
//
// Parameters:
//   - ctx: Context for bucket creation
//   - js: JetStream context
//   - counter: Counter identity (must be a valid KV key token)
//   - cfg: Bucket layout configuration
//
// Returns:
//   - *KVStore: Store bound to the counter
//   - error: Bucket creation/open error
func NewKV(ctx context.Context, js jetstream.JetStream, counter string, cfg Config) (*KVStore, error) {
	if counter == "" {
		return nil, errors.New("counter identity is required")
	}

	replicas := cfg.Replicas
	if replicas <= 0 {
		replicas = 1
	}

	s := &KVStore{
		counter: counter,
		logger:  logger.NewNop(),
		metrics: metrics.NewNop(),
	}

	buckets := []struct {
		name string
		dst  *jetstream.KeyValue
	}{
		{cfg.ShardBucket, &s.shards},
		{cfg.StateBucket, &s.state},
		{cfg.WorkerBucket, &s.workers},
	}
	for _, b := range buckets {
		if b.name == "" {
			return nil, errors.New("bucket names are required")
		}

		kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
			Bucket:   b.name,
			History:  1,
			Replicas: replicas,
		}, 3)
		if err != nil {
			return nil, fmt.Errorf("failed to open bucket %s: %w", b.name, err)
		}
		*b.dst = kv
	}

	return s, nil
}

// SetLogger sets the logger. Optional; defaults to a no-op logger.
func (s *KVStore) SetLogger(l types.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetMetrics sets the metrics collector. Optional; defaults to no-op.
func (s *KVStore) SetMetrics(m types.MetricsCollector) {
	if m != nil {
		s.metrics = m
	}
}

// PutShard writes a new shard record.
func (s *KVStore) PutShard(ctx context.Context, shard types.Shard) error {
	defer s.observe("put", time.Now())

	data, err := json.Marshal(shard)
	if err != nil {
		return fmt.Errorf("failed to marshal shard: %w", err)
	}

	if _, err := s.shards.Create(ctx, s.shardKey(shard.Key), data); err != nil {
		return fmt.Errorf("failed to write shard %s: %w", shard.Key, err)
	}

	return nil
}

// QueryShards returns up to limit shards in rng, ordered by key ascending.
func (s *KVStore) QueryShards(ctx context.Context, rng types.KeyRange, limit int) ([]types.Shard, error) {
	defer s.observe("query", time.Now())

	keys, err := s.listShardKeys(ctx, rng, limit)
	if err != nil {
		return nil, err
	}

	shards := make([]types.Shard, 0, len(keys))
	for _, key := range keys {
		entry, err := s.shards.Get(ctx, s.shardKey(key))
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				// Consumed between list and read; skip.
				continue
			}

			return nil, fmt.Errorf("failed to read shard %s: %w", key, err)
		}

		var shard types.Shard
		if err := json.Unmarshal(entry.Value(), &shard); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shard %s: %w", key, err)
		}
		shards = append(shards, shard)
	}

	return shards, nil
}

// CountShards returns the outstanding shard count, capped at limit.
func (s *KVStore) CountShards(ctx context.Context, limit int) (int, error) {
	defer s.observe("count", time.Now())

	keys, err := s.listShardKeys(ctx, types.FullRange(), limit)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", types.ErrBacklogUnavailable, err)
	}

	return len(keys), nil
}

// Consume atomically sums the batch into the total and deletes its shards.
//
// See the package documentation for the commit protocol.
func (s *KVStore) Consume(ctx context.Context, shards []types.Shard) error {
	defer s.observe("consume", time.Now())

	if len(shards) == 0 {
		return nil
	}

	state, stateRev, err := s.readState(ctx)
	if err != nil {
		return err
	}

	// Phase 1: finish the deletes of any earlier interrupted commit. These
	// shards are already summed; deleting them can never lose a delta.
	pending := make(map[string]struct{}, len(state.Pending))
	for _, key := range state.Pending {
		pending[key] = struct{}{}
		if err := s.shards.Delete(ctx, s.shardKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("failed to recover pending shard %s: %w", key, err)
		}
	}

	// Phase 2: re-validate the batch. Any shard that is gone, or that the
	// recovery above just removed, aborts the commit before any mutation of
	// the total.
	var sum int64
	keys := make([]string, 0, len(shards))
	revisions := make(map[string]uint64, len(shards))
	for _, shard := range shards {
		if _, summed := pending[shard.Key]; summed {
			return fmt.Errorf("shard %s already summed: %w", shard.Key, types.ErrTxnConflict)
		}

		entry, err := s.shards.Get(ctx, s.shardKey(shard.Key))
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return fmt.Errorf("shard %s consumed concurrently: %w", shard.Key, types.ErrTxnConflict)
			}

			return fmt.Errorf("failed to validate shard %s: %w", shard.Key, err)
		}

		var current types.Shard
		if err := json.Unmarshal(entry.Value(), &current); err != nil {
			return fmt.Errorf("failed to unmarshal shard %s: %w", shard.Key, err)
		}

		sum += current.Delta
		keys = append(keys, shard.Key)
		revisions[shard.Key] = entry.Revision()
	}

	// Phase 3: commit the new total and the batch key set in one
	// revision-guarded write of the state document.
	state.Total += sum
	state.ShardsConsumed += int64(len(keys))
	state.LastAggregated = time.Now().UTC()
	state.Pending = keys

	newRev, err := s.writeState(ctx, state, stateRev)
	if err != nil {
		return err
	}

	// Phase 4: delete the consumed shards. Failures are recovered by phase 1
	// of a later commit, never re-summed.
	var undeleted []string
	for _, key := range keys {
		if err := s.shards.Delete(ctx, s.shardKey(key), jetstream.LastRevision(revisions[key])); err != nil {
			s.logger.Warn("shard delete deferred to recovery", "counter", s.counter, "shard", key, "error", err)
			undeleted = append(undeleted, key)
		}
	}

	// Phase 5: shrink the pending set to the keys whose deletes did not
	// land. Those keys are the recovery record: they are already summed, so
	// they must stay pending until phase 1 of a later commit removes them.
	// Best effort beyond that: a conflict here just means the next commit
	// performs a few redundant (no-op) recovery deletes.
	state.Pending = undeleted
	if _, err := s.writeState(ctx, state, newRev); err != nil && !errors.Is(err, types.ErrTxnConflict) {
		s.logger.Warn("failed to shrink pending set", "counter", s.counter, "error", err)
	}

	return nil
}

// State returns the counter's aggregate state document.
func (s *KVStore) State(ctx context.Context) (types.CounterState, error) {
	defer s.observe("get", time.Now())

	state, _, err := s.readState(ctx)

	return state, err
}

// Descriptors returns all worker descriptors for the counter.
func (s *KVStore) Descriptors(ctx context.Context) ([]types.WorkerDescriptor, error) {
	defer s.observe("query", time.Now())

	lister, err := s.workers.ListKeysFiltered(ctx, s.counter+".>")
	if err != nil {
		return nil, fmt.Errorf("failed to list descriptors: %w", err)
	}

	var ids []string
	for key := range lister.Keys() {
		ids = append(ids, strings.TrimPrefix(key, s.counter+"."))
	}
	sort.Strings(ids)

	descs := make([]types.WorkerDescriptor, 0, len(ids))
	for _, id := range ids {
		desc, _, err := s.GetDescriptor(ctx, id)
		if err != nil {
			if errors.Is(err, types.ErrDescriptorNotFound) {
				continue
			}

			return nil, err
		}
		descs = append(descs, desc)
	}

	return descs, nil
}

// GetDescriptor returns one descriptor and its revision.
func (s *KVStore) GetDescriptor(ctx context.Context, id string) (types.WorkerDescriptor, uint64, error) {
	defer s.observe("get", time.Now())

	entry, err := s.workers.Get(ctx, s.workerKey(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return types.WorkerDescriptor{}, 0, fmt.Errorf("descriptor %s: %w", id, types.ErrDescriptorNotFound)
		}

		return types.WorkerDescriptor{}, 0, fmt.Errorf("failed to read descriptor %s: %w", id, err)
	}

	var desc types.WorkerDescriptor
	if err := json.Unmarshal(entry.Value(), &desc); err != nil {
		return types.WorkerDescriptor{}, 0, fmt.Errorf("failed to unmarshal descriptor %s: %w", id, err)
	}

	return desc, entry.Revision(), nil
}

// PutDescriptor writes a descriptor guarded by the given revision (0 creates).
func (s *KVStore) PutDescriptor(ctx context.Context, desc types.WorkerDescriptor, revision uint64) (uint64, error) {
	defer s.observe("put", time.Now())

	data, err := json.Marshal(desc)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	key := s.workerKey(desc.ID)
	var newRev uint64
	if revision == 0 {
		newRev, err = s.workers.Create(ctx, key, data)
	} else {
		newRev, err = s.workers.Update(ctx, key, data, revision)
	}
	if err != nil {
		if isRevisionMismatch(err) {
			return 0, fmt.Errorf("descriptor %s: %w", desc.ID, types.ErrTxnConflict)
		}

		return 0, fmt.Errorf("failed to write descriptor %s: %w", desc.ID, err)
	}

	return newRev, nil
}

// DeleteDescriptor removes a descriptor. Absent descriptors are a no-op.
func (s *KVStore) DeleteDescriptor(ctx context.Context, id string) error {
	defer s.observe("delete", time.Now())

	if err := s.workers.Delete(ctx, s.workerKey(id)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete descriptor %s: %w", id, err)
	}

	return nil
}

// WatchShards watches shard writes for the counter.
func (s *KVStore) WatchShards(ctx context.Context) (Watcher, error) {
	return s.watch(ctx, s.shards)
}

// WatchDescriptors watches descriptor writes for the counter.
func (s *KVStore) WatchDescriptors(ctx context.Context) (Watcher, error) {
	return s.watch(ctx, s.workers)
}

func (s *KVStore) watch(ctx context.Context, kv jetstream.KeyValue) (Watcher, error) {
	kw, err := kv.Watch(ctx, s.counter+".>", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", s.counter, err)
	}

	w := &kvWatcher{
		inner:  kw,
		prefix: s.counter + ".",
		events: make(chan Event, 64),
	}
	go w.run(ctx)

	return w, nil
}

// listShardKeys lists shard keys in rng, sorted ascending and truncated to
// limit (limit <= 0 means unbounded).
func (s *KVStore) listShardKeys(ctx context.Context, rng types.KeyRange, limit int) ([]string, error) {
	lister, err := s.shards.ListKeysFiltered(ctx, s.counter+".>")
	if err != nil {
		return nil, fmt.Errorf("failed to list shards: %w", err)
	}

	var keys []string
	for key := range lister.Keys() {
		shardKey := strings.TrimPrefix(key, s.counter+".")
		if rng.Contains(shardKey) {
			keys = append(keys, shardKey)
		}
	}
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	return keys, nil
}

func (s *KVStore) readState(ctx context.Context) (types.CounterState, uint64, error) {
	entry, err := s.state.Get(ctx, s.counter)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return types.CounterState{}, 0, nil
		}

		return types.CounterState{}, 0, fmt.Errorf("failed to read counter state: %w", err)
	}

	var state types.CounterState
	if err := json.Unmarshal(entry.Value(), &state); err != nil {
		return types.CounterState{}, 0, fmt.Errorf("failed to unmarshal counter state: %w", err)
	}

	return state, entry.Revision(), nil
}

func (s *KVStore) writeState(ctx context.Context, state types.CounterState, revision uint64) (uint64, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal counter state: %w", err)
	}

	var newRev uint64
	if revision == 0 {
		newRev, err = s.state.Create(ctx, s.counter, data)
	} else {
		newRev, err = s.state.Update(ctx, s.counter, data, revision)
	}
	if err != nil {
		if isRevisionMismatch(err) {
			return 0, fmt.Errorf("counter state: %w", types.ErrTxnConflict)
		}

		return 0, fmt.Errorf("failed to write counter state: %w", err)
	}

	return newRev, nil
}

func (s *KVStore) shardKey(key string) string {
	return s.counter + "." + key
}

func (s *KVStore) workerKey(id string) string {
	return s.counter + "." + id
}

func (s *KVStore) observe(op string, start time.Time) {
	s.metrics.RecordStoreOperation(op, time.Since(start).Seconds())
}

// isRevisionMismatch reports whether err is an optimistic-concurrency
// failure: a Create on an existing key or an Update against a stale
// revision.
func isRevisionMismatch(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}

	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}

	return false
}

// kvWatcher adapts a jetstream.KeyWatcher to the Watcher contract, stripping
// the counter prefix from delivered keys.
type kvWatcher struct {
	inner  jetstream.KeyWatcher
	prefix string
	events chan Event
}

// Updates returns the event channel.
func (w *kvWatcher) Updates() <-chan Event {
	return w.events
}

// Stop terminates the watch.
func (w *kvWatcher) Stop() error {
	return w.inner.Stop()
}

func (w *kvWatcher) run(ctx context.Context) {
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-w.inner.Updates():
			if !ok {
				return
			}
			if entry == nil {
				// End of initial replay marker.
				continue
			}

			ev := Event{Key: strings.TrimPrefix(entry.Key(), w.prefix)}
			select {
			case w.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
