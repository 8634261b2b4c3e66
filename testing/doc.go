// Package testing provides test utilities for the tally library.
//
// This package offers helpers for setting up test environments, particularly
// embedded NATS servers for integration testing. It follows Go's convention
// of providing testing utilities in a dedicated package (similar to
// net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: Single in-process NATS server with JetStream
//   - JetStream: Convenience wrapper for obtaining a JetStream context
//   - SeedShards: Write a batch of unit shards for a counter
//   - NewTestLogger: Logger that writes through testing.T
//
// Example usage:
//
//	import (
//	    "testing"
//	    tallytest "github.com/tallysum/tally/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := tallytest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
