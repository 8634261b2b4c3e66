package tally

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"github.com/tallysum/tally/types"
)

// NewShardKey returns a fresh shard key: 16 lowercase hex characters derived
// by hashing a random UUID.
//
// Keys are effectively uniform over the hex key space, so the planner's
// equal-width lexicographic ranges split the backlog evenly across workers.
func NewShardKey() string {
	id := uuid.New()

	return fmt.Sprintf("%016x", xxh3.Hash(id[:]))
}

// descriptorID derives the stable descriptor identity for a partition range.
//
// The ID is a pure function of the bounds, so replanning to an identical
// range keeps the existing descriptor (and its worker chain) untouched.
func descriptorID(rng types.KeyRange) string {
	h := xxh3.HashString(rng.Start + "\x00" + rng.End)

	return fmt.Sprintf("worker-%012x", h&0xffffffffffff)
}
