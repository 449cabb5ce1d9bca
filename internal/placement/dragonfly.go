package placement

import (
	"sort"

	"github.com/guimove/hpcfit/internal/nodeset"
	"github.com/guimove/hpcfit/internal/topology"
)

// dragonflyStrategy places a job on one leaf switch when it fits, otherwise
// spreads it round-robin over the fewest leaf switches that can hold it.
type dragonflyStrategy struct {
	view *topology.Dragonfly
}

func (s *dragonflyStrategy) Name() string { return "dragonfly" }

func (s *dragonflyStrategy) place(a *attempt) error { return a.spanRetry(s.once) }

func (s *dragonflyStrategy) once(a *attempt) error {
	t := s.view.Tree
	if err := a.consumeRequired(); err != nil {
		return err
	}
	if a.satisfied() {
		a.leafSwitches = a.countLeaves(t)
		return nil
	}

	leaves := t.Leaves()
	if leaf, ok := a.singleLeaf(t, leaves, a.usable); ok {
		a.addAll(a.byWeight(t.Members(leaf)))
		a.leafSwitches = a.countLeaves(t)
		return a.finish()
	}

	// leaves holding selected nodes first, then the best supplied
	infos := a.leafInfos(t, leaves, a.usable)
	sort.SliceStable(infos, func(x, y int) bool {
		ix, iy := &infos[x], &infos[y]
		if ix.selected != iy.selected {
			return ix.selected
		}
		if ix.free != iy.free {
			return ix.free > iy.free
		}
		return ix.id < iy.id
	})

	var prefix []int
	pool := nodeset.New(a.size)
	for _, in := range infos {
		if in.free == 0 {
			continue
		}
		prefix = append(prefix, in.id)
		pool.InPlaceUnion(t.Members(in.id))
		if a.poolSufficient(pool, true) {
			break
		}
	}

	a.roundRobin(t, prefix)
	a.leafSwitches = a.countLeaves(t)
	return a.finish()
}

// roundRobin takes one node from each leaf in turn until the job is
// satisfied or the leaves run dry.
func (a *attempt) roundRobin(t *topology.Tree, leaves []int) {
	queues := make([][]int, len(leaves))
	for k, id := range leaves {
		queues[k] = a.byWeight(t.Members(id))
	}
	for {
		progress := false
		for k := range queues {
			if a.done() {
				return
			}
			for len(queues[k]) > 0 {
				i := queues[k][0]
				queues[k] = queues[k][1:]
				if a.add(i) {
					progress = true
					break
				}
			}
		}
		if !progress {
			return
		}
	}
}

