package tally

import "errors"

// Sentinel errors returned by the Manager.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when the NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrCounterRequired is returned when the counter identity is empty.
	ErrCounterRequired = errors.New("counter identity is required")

	// ErrAlreadyStarted is returned when Start is called on an already
	// running manager.
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrNotStarted is returned when Stop is called on a manager that hasn't
	// been started.
	ErrNotStarted = errors.New("manager not started")
)
