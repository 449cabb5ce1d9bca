// Package nodeset provides helpers around the bitsets used for node and
// core membership, including the cpuset list format ("0-3,7").
package nodeset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// New returns an empty set sized for n members.
func New(n int) *bitset.BitSet {
	if n < 0 {
		n = 0
	}
	return bitset.New(uint(n))
}

// Of returns a set sized for n members containing ids.
func Of(n int, ids ...int) *bitset.BitSet {
	b := New(n)
	for _, id := range ids {
		if id >= 0 {
			b.Set(uint(id))
		}
	}
	return b
}

// Full returns a set with members [0, n).
func Full(n int) *bitset.BitSet {
	b := New(n)
	for i := 0; i < n; i++ {
		b.Set(uint(i))
	}
	return b
}

// Range returns a set sized for n with members [lo, hi].
func Range(n, lo, hi int) *bitset.BitSet {
	b := New(n)
	for i := lo; i <= hi; i++ {
		b.Set(uint(i))
	}
	return b
}

// Count returns the number of members; a nil set is empty.
func Count(b *bitset.BitSet) int {
	if b == nil {
		return 0
	}
	return int(b.Count())
}

// Empty reports whether b has no members.
func Empty(b *bitset.BitSet) bool {
	return b == nil || b.None()
}

// Has reports whether id is a member of b.
func Has(b *bitset.BitSet, id int) bool {
	return b != nil && id >= 0 && b.Test(uint(id))
}

// Clone copies b; a nil set clones to an empty one.
func Clone(b *bitset.BitSet) *bitset.BitSet {
	if b == nil {
		return bitset.New(0)
	}
	return b.Clone()
}

// Subset reports whether every member of sub is in super.
func Subset(sub, super *bitset.BitSet) bool {
	if Empty(sub) {
		return true
	}
	if super == nil {
		return false
	}
	return super.IsSuperSet(sub)
}

// Slice returns the members of b in ascending order.
func Slice(b *bitset.BitSet) []int {
	if b == nil {
		return nil
	}
	out := make([]int, 0, b.Count())
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}

// ForEach calls fn for every member in ascending order until fn returns false.
func ForEach(b *bitset.BitSet, fn func(id int) bool) {
	if b == nil {
		return
	}
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		if !fn(int(i)) {
			return
		}
	}
}

// First returns the lowest member of b.
func First(b *bitset.BitSet) (int, bool) {
	if b == nil {
		return 0, false
	}
	i, ok := b.NextSet(0)
	return int(i), ok
}

// Last returns the highest member of b.
func Last(b *bitset.BitSet) (int, bool) {
	last, found := 0, false
	ForEach(b, func(id int) bool {
		last, found = id, true
		return true
	})
	return last, found
}

// Format renders b in cpuset list notation, e.g. "0-3,7". An empty set
// renders as "".
func Format(b *bitset.BitSet) string {
	ids := Slice(b)
	if len(ids) == 0 {
		return ""
	}

	var parts []string
	low, high := ids[0], ids[0]
	flush := func() {
		if low == high {
			parts = append(parts, strconv.Itoa(low))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", low, high))
		}
	}
	for _, id := range ids[1:] {
		if id == high+1 {
			high = id
			continue
		}
		flush()
		low, high = id, id
	}
	flush()

	return strings.Join(parts, ",")
}

// Parse reads cpuset list notation. Whitespace around items is ignored and
// an empty string yields an empty set.
func Parse(list string) (*bitset.BitSet, error) {
	b := bitset.New(0)
	list = strings.TrimSpace(list)
	if list == "" {
		return b, nil
	}

	for _, piece := range strings.Split(list, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(piece, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || start < 0 {
			return nil, fmt.Errorf("invalid id %q in list %q", piece, list)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || end < start {
				return nil, fmt.Errorf("invalid range %q in list %q", piece, list)
			}
		}
		for i := start; i <= end; i++ {
			b.Set(uint(i))
		}
	}
	return b, nil
}
