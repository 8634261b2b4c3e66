package tally

import (
	"github.com/tallysum/tally/store"
	"github.com/tallysum/tally/types"
)

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	logger  types.Logger
	metrics types.MetricsCollector
	store   store.Store
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	mgr, err := tally.NewManager(&cfg, conn, "visits",
//	    tally.WithLogger(logging.NewSlogDefault()))
func WithLogger(logger types.Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
func WithMetrics(metrics types.MetricsCollector) Option {
	return func(o *managerOptions) {
		o.metrics = metrics
	}
}

// WithStore injects a pre-built coordination store, bypassing the Manager's
// own KV bucket setup. Primarily useful for tests and for sharing one store
// between a Manager and standalone writers.
//
// Parameters:
//   - s: Store bound to the manager's counter
//
// Returns:
//   - Option: Functional option for NewManager
func WithStore(s store.Store) Option {
	return func(o *managerOptions) {
		o.store = s
	}
}
