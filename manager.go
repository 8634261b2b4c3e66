package tally

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/tallysum/tally/aggregator"
	"github.com/tallysum/tally/internal/logger"
	"github.com/tallysum/tally/internal/metrics"
	"github.com/tallysum/tally/store"
	"github.com/tallysum/tally/types"
)

// Manager runs the aggregation protocol for one counter.
//
// The Manager owns three explicit loops, all coordinated solely through the
// store (no cross-process locks):
//
//   - a periodic controller tick (direct aggregation, health sweep,
//     reschedule when warranted)
//   - a shard-write watch that triggers an extra controller pass, capped to
//     one concurrent execution system-wide within this manager
//   - a descriptor-write watch that dispatches worker runs, so a worker's
//     own write-back perpetuates its chain
//
// Multiple managers may run against the same counter: every store mutation
// is transactional, so redundant passes contend harmlessly instead of
// double-counting.
//
// Thread safety: all public methods are safe for concurrent use.
//
// Lifecycle:
//   - Create with NewManager()
//   - Call Start() to open buckets and begin coordination
//   - Call Stop() for graceful shutdown
type Manager struct {
	cfg     Config
	conn    *nats.Conn
	counter string

	logger  types.Logger
	metrics types.MetricsCollector

	store      store.Store
	controller *Controller
	worker     *Worker
	writer     *Counter

	// onWriteBusy caps the shard-write-triggered controller path to a
	// single concurrent execution; extra notifications are dropped (the
	// periodic tick is the backstop, and delivery is at-least-once anyway).
	onWriteBusy atomic.Bool

	// activeRuns dedupes watch-triggered worker dispatch per descriptor.
	activeRuns *xsync.Map[string, struct{}]

	// tickCh carries manual triggers into the tick loop.
	tickCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewManager creates a new Manager for the given counter.
//
// Returns a concrete *Manager struct following the "accept interfaces,
// return structs" principle. Consumers can define their own interfaces for
// testing if needed.
//
// Parameters:
//   - cfg: Configuration (defaults applied, then validated)
//   - conn: NATS connection for coordination (may be nil when WithStore is used)
//   - counter: Counter identity
//   - opts: Optional logger, metrics, store
//
// Returns:
//   - *Manager: Initialized manager instance
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := tally.Config{BatchLimit: 200}
//	mgr, err := tally.NewManager(&cfg, natsConn, "page-views")
func NewManager(cfg *Config, conn *nats.Conn, counter string, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if counter == "" {
		return nil, ErrCounterRequired
	}

	SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.store == nil && conn == nil {
		return nil, ErrNATSConnectionRequired
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logger.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	m := &Manager{
		cfg:        *cfg,
		conn:       conn,
		counter:    counter,
		logger:     loggerInstance,
		metrics:    metricsCollector,
		store:      options.store,
		activeRuns: xsync.NewMap[string, struct{}](),
		tickCh:     make(chan struct{}, 1),
	}

	return m, nil
}

// Start opens the coordination buckets and launches the manager loops.
//
// Parameters:
//   - ctx: Context bounding startup (bucket creation)
//
// Returns:
//   - error: Startup error or ErrAlreadyStarted
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return ErrAlreadyStarted
	}

	startupCtx := ctx
	if m.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = context.WithTimeout(ctx, m.cfg.StartupTimeout)
		defer cancel()
	}

	if m.store == nil {
		js, err := jetstream.New(m.conn)
		if err != nil {
			return fmt.Errorf("failed to create jetstream context: %w", err)
		}

		kv, err := store.NewKV(startupCtx, js, m.counter, m.cfg.Buckets)
		if err != nil {
			return fmt.Errorf("failed to open coordination store: %w", err)
		}
		kv.SetLogger(m.logger)
		kv.SetMetrics(m.metrics)
		m.store = kv
	}

	agg := aggregator.New(m.store, m.cfg.MaxAttempts)
	agg.SetLogger(m.logger)
	agg.SetMetrics(m.metrics)

	m.controller = newController(m.cfg, m.store, agg, m.logger, m.metrics)
	m.worker = newWorker(m.cfg, m.store, agg, m.logger, m.metrics)
	m.writer = &Counter{name: m.counter, store: m.store, logger: m.logger}

	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.tickLoop(m.ctx)

	shardWatcher, err := m.store.WatchShards(m.ctx)
	if err != nil {
		m.abortStart()

		return fmt.Errorf("failed to watch shards: %w", err)
	}
	m.wg.Add(1)
	go m.shardWatchLoop(m.ctx, shardWatcher)

	descWatcher, err := m.store.WatchDescriptors(m.ctx)
	if err != nil {
		_ = shardWatcher.Stop()
		m.abortStart()

		return fmt.Errorf("failed to watch descriptors: %w", err)
	}
	m.wg.Add(1)
	go m.descriptorWatchLoop(m.ctx, descWatcher)

	m.logger.Info("manager started", "counter", m.counter,
		"tickInterval", m.cfg.TickInterval, "batchLimit", m.cfg.BatchLimit)

	return nil
}

// abortStart unwinds a partially started manager so Start can be retried.
// Caller must hold mu.
func (m *Manager) abortStart() {
	m.cancel()
	m.wg.Wait()
	m.ctx = nil
	m.cancel = nil
}

// Stop gracefully shuts down the manager.
//
// Safe to call multiple times; subsequent calls return ErrNotStarted.
//
// Parameters:
//   - ctx: Context bounding the wait for loop shutdown
//
// Returns:
//   - error: ErrNotStarted, or ctx.Err() if shutdown timed out
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()

		return ErrNotStarted
	}
	cancel := m.cancel
	m.ctx = nil
	m.cancel = nil
	m.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("manager stopped", "counter", m.counter)

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Counter returns the writer handle sharing this manager's store.
//
// Valid after Start.
func (m *Manager) Counter() *Counter {
	return m.writer
}

// Total returns the aggregated total of the manager's counter.
//
// The value observes bounded staleness. Valid after Start.
func (m *Manager) Total(ctx context.Context) (int64, error) {
	state, err := m.store.State(ctx)
	if err != nil {
		return 0, err
	}

	return state.Total, nil
}

// ControllerTick runs one full controller pass: aggregate once, then
// reschedule workers if the pass asked for it.
//
// This is the periodic-tick entry point; it can also be called directly.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - types.ControllerStatus: The pass outcome
//   - error: Reschedule or aggregation error
func (m *Manager) ControllerTick(ctx context.Context) (types.ControllerStatus, error) {
	status, aggErr := m.controller.AggregateOnce(ctx)
	if status == types.ControllerOK {
		return status, nil
	}

	if err := m.controller.RescheduleWorkers(ctx); err != nil {
		return status, fmt.Errorf("reschedule failed: %w", err)
	}

	// A failure status is reported even though the escalation succeeded;
	// callers may want to observe it.
	return status, aggErr
}

// OnShardWrite is the per-shard-write entry point.
//
// At most one invocation executes at a time; a notification arriving while
// a pass is in flight is dropped. Dropping is safe: delivery is
// at-least-once and the periodic tick backstops any missed work.
//
// Parameters:
//   - ctx: Context for cancellation
func (m *Manager) OnShardWrite(ctx context.Context) {
	if !m.onWriteBusy.CompareAndSwap(false, true) {
		return
	}
	defer m.onWriteBusy.Store(false)

	if _, err := m.ControllerTick(ctx); err != nil {
		m.logger.Error("write-triggered controller pass failed", "error", err)
	}
}

// WorkerTick is the per-descriptor-write entry point: it runs the worker
// owning the given descriptor, unless a run for it is already in flight.
//
// Parameters:
//   - ctx: Context for cancellation
//   - id: Descriptor ID that was written
func (m *Manager) WorkerTick(ctx context.Context, id string) {
	if _, loaded := m.activeRuns.LoadOrStore(id, struct{}{}); loaded {
		// A run for this descriptor is still in flight. The dropped event
		// may be that run's own write-back racing its completion; if so the
		// chain stalls until the staleness sweep marks the descriptor
		// failed and the following reschedule resets it.
		return
	}
	defer m.activeRuns.Delete(id)

	if err := m.worker.Run(ctx, id); err != nil {
		m.logger.Error("worker run failed", "descriptor", id, "error", err)
	}
}

// Trigger enqueues an immediate controller tick. Non-blocking; a trigger
// arriving while one is already queued is coalesced.
//
// This is the manual/administrative entry point.
func (m *Manager) Trigger() {
	select {
	case m.tickCh <- struct{}{}:
	default:
	}
}

// tickLoop drives the periodic and manually triggered controller passes.
func (m *Manager) tickLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.tickCh:
		}

		if _, err := m.ControllerTick(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("controller tick failed", "error", err)
		}
	}
}

// shardWatchLoop feeds shard-write notifications into OnShardWrite.
func (m *Manager) shardWatchLoop(ctx context.Context, w store.Watcher) {
	defer m.wg.Done()
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.Updates():
			if !ok {
				return
			}
			m.OnShardWrite(ctx)
		}
	}
}

// descriptorWatchLoop dispatches worker runs for descriptor writes. Each
// run happens on its own goroutine so one slow partition cannot starve the
// others' triggers.
func (m *Manager) descriptorWatchLoop(ctx context.Context, w store.Watcher) {
	defer m.wg.Done()
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Updates():
			if !ok {
				return
			}

			m.wg.Add(1)
			go func(id string) {
				defer m.wg.Done()
				m.WorkerTick(ctx, id)
			}(ev.Key)
		}
	}
}
