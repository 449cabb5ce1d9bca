package topology

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/guimove/hpcfit/internal/nodeset"
)

// Ring arranges nodes in one or more fixed rings. Every ring is a level 0
// domain without a parent.
type Ring struct {
	rings  [][]int
	sets   []*bitset.BitSet
	ringOf map[int][]int
}

// NewRing builds the ring view. Each ring lists its members in ring order.
func NewRing(rings [][]int) (*Ring, error) {
	if len(rings) == 0 {
		return nil, ErrNoDomains
	}
	r := &Ring{ringOf: make(map[int][]int)}
	for i, members := range rings {
		if len(members) == 0 {
			return nil, fmt.Errorf("ring %d has no members", i)
		}
		set := nodeset.New(0)
		for _, n := range members {
			if n < 0 {
				return nil, fmt.Errorf("ring %d: negative node index %d", i, n)
			}
			if set.Test(uint(n)) {
				return nil, fmt.Errorf("ring %d: node %d listed twice", i, n)
			}
			set.Set(uint(n))
			r.ringOf[n] = append(r.ringOf[n], i)
		}
		r.rings = append(r.rings, append([]int(nil), members...))
		r.sets = append(r.sets, set)
	}
	return r, nil
}

func (r *Ring) Kind() Kind      { return KindRing }
func (r *Ring) NumDomains() int { return len(r.rings) }
func (r *Ring) view()           {}

func (r *Ring) DomainsFor(node int) []int { return r.ringOf[node] }

func (r *Ring) Members(id int) *bitset.BitSet {
	if id < 0 || id >= len(r.sets) {
		return nil
	}
	return r.sets[id]
}

func (r *Ring) Nest(int) (int, bool) { return -1, false }
func (r *Ring) Level(int) int        { return 0 }

// Ring returns the members of ring id in ring order.
func (r *Ring) Ring(id int) []int { return r.rings[id] }
