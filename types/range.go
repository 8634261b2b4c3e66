package types

// KeyRange is a half-open lexicographic interval [Start, End) over the shard
// key space.
//
// The empty string is a sentinel on both ends: Start == "" means the range is
// unbounded below, End == "" means unbounded above. The zero KeyRange
// therefore covers the entire key space.
type KeyRange struct {
	// Start is the inclusive lower bound ("" = unbounded).
	Start string `json:"start"`

	// End is the exclusive upper bound ("" = unbounded).
	End string `json:"end"`
}

// FullRange returns the range covering the entire shard key space.
func FullRange() KeyRange {
	return KeyRange{}
}

// IsFull reports whether the range covers the entire key space.
func (r KeyRange) IsFull() bool {
	return r.Start == "" && r.End == ""
}

// Contains reports whether key falls inside the half-open interval.
func (r KeyRange) Contains(key string) bool {
	if key < r.Start {
		return false
	}

	return r.End == "" || key < r.End
}

// Equal reports whether two ranges have identical bounds.
func (r KeyRange) Equal(o KeyRange) bool {
	return r.Start == o.Start && r.End == o.End
}

// Compare orders ranges by Start, then End, treating "" as the extreme
// sentinel on each side.
//
// Returns:
//   - int: -1 if r < o, 0 if equal, +1 if r > o
func (r KeyRange) Compare(o KeyRange) int {
	if r.Start != o.Start {
		if r.Start < o.Start {
			return -1
		}

		return 1
	}
	if r.End == o.End {
		return 0
	}
	// "" sorts last on the End side (unbounded above).
	if r.End == "" {
		return 1
	}
	if o.End == "" {
		return -1
	}
	if r.End < o.End {
		return -1
	}

	return 1
}

// Disjoint reports whether the given ranges are pairwise non-overlapping.
//
// The ranges are checked in sorted order; adjacent ranges sharing a boundary
// (prev.End == next.Start) do not overlap because ranges are half-open.
func Disjoint(ranges []KeyRange) bool {
	sorted := sortedRanges(ranges)
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.End == "" || cur.Start < prev.End {
			return false
		}
	}

	return true
}

// Covers reports whether the given ranges, in sorted order, form a contiguous
// cover of the entire key space: the first range is unbounded below, the last
// is unbounded above, and each boundary lines up exactly with the next.
func Covers(ranges []KeyRange) bool {
	if len(ranges) == 0 {
		return false
	}

	sorted := sortedRanges(ranges)
	if sorted[0].Start != "" || sorted[len(sorted)-1].End != "" {
		return false
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].End != sorted[i].Start {
			return false
		}
	}

	return true
}

func sortedRanges(ranges []KeyRange) []KeyRange {
	sorted := make([]KeyRange, len(ranges))
	copy(sorted, ranges)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Compare(sorted[j-1]) < 0; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	return sorted
}
