package placement

import (
	"fmt"

	"github.com/guimove/hpcfit/internal/nodeset"
	"github.com/guimove/hpcfit/internal/topology"
)

// ringStrategy places a job on a contiguous, possibly wrapping, arc of one
// ring.
type ringStrategy struct {
	view *topology.Ring
}

func (s *ringStrategy) Name() string { return "ring" }

type arc struct {
	ring, start int
	nodes       []int
	weight      uint64
	surplus     int
}

func (x *arc) better(y *arc) bool {
	if x.weight != y.weight {
		return x.weight < y.weight
	}
	if x.surplus != y.surplus {
		return x.surplus < y.surplus
	}
	if x.ring != y.ring {
		return x.ring < y.ring
	}
	return x.start < y.start
}

func (s *ringStrategy) place(a *attempt) error {
	r := s.view
	if err := a.consumeRequired(); err != nil {
		return err
	}

	rings := make([]int, 0, r.NumDomains())
	for id := 0; id < r.NumDomains(); id++ {
		if nodeset.Subset(a.selected, r.Members(id)) {
			rings = append(rings, id)
		}
	}
	if len(rings) == 0 {
		return fmt.Errorf("%w: %s", ErrRequiredNodesNotCoLocated, nodeset.Format(a.required))
	}
	if a.satisfied() {
		return nil
	}

	held := nodeset.Count(a.selected)
	for length := a.target; length >= max(a.job.MinNodes, held, 1); length-- {
		best := a.bestArc(r, rings, length)
		if best == nil {
			continue
		}
		a.logger.Trace("ring arc selected", "job", a.job.ID, "ring", best.ring, "start", best.start, "length", length)
		a.addAll(best.nodes)
		return a.finish()
	}
	return fmt.Errorf("%w: no ring arc can hold the job", ErrInsufficientResources)
}

// bestArc returns the best arc of length nodes covering every selected node
// whose free nodes can meet the remaining demand.
func (a *attempt) bestArc(r *topology.Ring, rings []int, length int) *arc {
	var best *arc
	for _, id := range rings {
		members := r.Ring(id)
		size := len(members)
		if length > size {
			continue
		}
		starts := size
		if length == size {
			starts = 1
		}
		for start := 0; start < starts; start++ {
			cand := arc{ring: id, start: start}
			pool := nodeset.New(a.size)
			ok := true
			for k := 0; k < length; k++ {
				i := members[(start+k)%size]
				if !a.usable.Test(uint(i)) || a.tried.Test(uint(i)) {
					ok = false
					break
				}
				pool.Set(uint(i))
				cand.weight += uint64(a.nodes[i].Weight)
				if !a.selected.Test(uint(i)) {
					cand.nodes = append(cand.nodes, i)
				}
			}
			if !ok || !nodeset.Subset(a.selected, pool) {
				continue
			}
			if !a.poolSufficient(pool, false) {
				continue
			}
			cand.surplus = a.freeCPUs(a.free(pool)) - a.remCPUs
			if best == nil || cand.better(best) {
				c := cand
				best = &c
			}
		}
	}
	return best
}
