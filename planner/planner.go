package planner

import (
	"github.com/tallysum/tally/types"
)

// DefaultAlphabet is the key alphabet for shard keys produced by the library:
// fixed-width lowercase hex.
const DefaultAlphabet = "0123456789abcdef"

// Config holds the planning policy knobs.
//
// The backlog-to-partition-count function and the boundary alphabet are
// policy, not protocol; they are exposed here rather than hard-coded.
type Config struct {
	// LowWaterMark is the backlog size below which the plan is empty and the
	// counter collapses back to direct aggregation by the controller.
	LowWaterMark int `yaml:"lowWaterMark"`

	// PerWorkerTarget is the desired backlog share per partition. The
	// partition count grows as ceil(backlog / PerWorkerTarget).
	PerWorkerTarget int `yaml:"perWorkerTarget"`

	// MaxPartitions caps the partition count regardless of backlog size.
	MaxPartitions int `yaml:"maxPartitions"`

	// Alphabet is the ordered character set of the shard key space.
	// Defaults to DefaultAlphabet.
	Alphabet string `yaml:"alphabet"`

	// Precision is the boundary width in characters. Higher precision gives
	// finer split points; 4 hex characters (65536 split points) is plenty
	// for any realistic partition count.
	Precision int `yaml:"precision"`
}

func (c Config) normalized() Config {
	if c.LowWaterMark <= 0 {
		c.LowWaterMark = 200
	}
	if c.PerWorkerTarget <= 0 {
		c.PerWorkerTarget = 200
	}
	if c.MaxPartitions <= 0 {
		c.MaxPartitions = 16
	}
	if c.Alphabet == "" {
		c.Alphabet = DefaultAlphabet
	}
	if c.Precision <= 0 {
		c.Precision = 4
	}

	return c
}

// Plan computes the partition ranges for the given backlog estimate.
//
// When the computed boundaries match the current ranges exactly, the current
// slice is returned unchanged so callers can cheaply detect "no churn".
//
// Parameters:
//   - backlog: Outstanding shard count estimate (bounded)
//   - current: The ranges of the active descriptors, if any
//   - cfg: Planning policy
//
// Returns:
//   - []types.KeyRange: Disjoint ranges covering the full key space, sorted
//     ascending; nil when the backlog is below the low-water mark
func Plan(backlog int, current []types.KeyRange, cfg Config) []types.KeyRange {
	cfg = cfg.normalized()

	k := partitionCount(backlog, cfg)
	if k == 0 {
		return nil
	}

	ranges := split(k, cfg)
	if rangesEqual(ranges, current) {
		return current
	}

	return ranges
}

// partitionCount maps a backlog size to a partition count.
//
// Step function: below the low-water mark no partitions are needed; above
// it, one partition per PerWorkerTarget shards with a floor of two (a single
// partition would be no better than direct aggregation) and the configured
// cap.
func partitionCount(backlog int, cfg Config) int {
	if backlog < cfg.LowWaterMark {
		return 0
	}

	k := (backlog + cfg.PerWorkerTarget - 1) / cfg.PerWorkerTarget
	if k < 2 {
		k = 2
	}
	if k > cfg.MaxPartitions {
		k = cfg.MaxPartitions
	}

	return k
}

// split divides the key space into k contiguous equal-width ranges.
//
// Boundaries are fixed-width strings over the alphabet: boundary i renders
// floor(i * |alphabet|^precision / k) in base |alphabet|. The first range is
// unbounded below and the last unbounded above, so the union covers keys of
// any length and alphabet, not just well-formed ones.
func split(k int, cfg Config) []types.KeyRange {
	total := 1
	for i := 0; i < cfg.Precision; i++ {
		total *= len(cfg.Alphabet)
	}

	ranges := make([]types.KeyRange, k)
	prev := ""
	for i := 1; i < k; i++ {
		boundary := render(i*total/k, cfg)
		ranges[i-1] = types.KeyRange{Start: prev, End: boundary}
		prev = boundary
	}
	ranges[k-1] = types.KeyRange{Start: prev, End: ""}

	return ranges
}

// render writes n as a fixed-width base-|alphabet| string.
func render(n int, cfg Config) string {
	base := len(cfg.Alphabet)
	buf := make([]byte, cfg.Precision)
	for i := cfg.Precision - 1; i >= 0; i-- {
		buf[i] = cfg.Alphabet[n%base]
		n /= base
	}

	return string(buf)
}

func rangesEqual(a, b []types.KeyRange) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}

	return true
}
