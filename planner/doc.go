// Package planner computes partition plans for the shard key space.
//
// A plan maps an observed backlog size to a set of contiguous, disjoint key
// ranges whose union covers the entire key space. Below the low-water mark
// the plan is empty, collapsing the counter back to direct aggregation by
// the controller. Above it, the partition count grows with the backlog,
// capped at a configured maximum, and the key space is split into
// equal-width lexicographic ranges.
//
// Plans are deterministic: the same backlog band and configuration always
// produce byte-identical boundaries, so an unchanged partition count causes
// zero descriptor churn on reschedule.
package planner
