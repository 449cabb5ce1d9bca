package placement

import (
	"sort"

	"github.com/guimove/hpcfit/internal/nodeset"
)

// orderedStrategy walks weight groups lowest first and visits the nodes of a
// group in the order given by less.
type orderedStrategy struct {
	name string
	less func(a *attempt, x, y int) bool
	// take every usable node up to the node limit
	spread bool
}

var (
	llnStrategy    = &orderedStrategy{name: "lln", less: moreAvailable}
	busyStrategy   = &orderedStrategy{name: "busy", less: busyFirst}
	spreadStrategy = &orderedStrategy{name: "spread", less: byIndex, spread: true}
	serialStrategy = &orderedStrategy{name: "serial", less: fromTail}
)

func (s *orderedStrategy) Name() string { return s.name }

func byIndex(_ *attempt, x, y int) bool { return x < y }

func fromTail(_ *attempt, x, y int) bool { return x > y }

// busyFirst orders nodes running work before idle ones.
func busyFirst(a *attempt, x, y int) bool {
	bx, by := !a.idle.Test(uint(x)), !a.idle.Test(uint(y))
	if bx != by {
		return bx
	}
	return x < y
}

// moreAvailable orders by the fraction of CPUs still available, highest
// first, then by index.
func moreAvailable(a *attempt, x, y int) bool {
	nx, ny := a.nodes[x], a.nodes[y]
	// ax/tx > ay/ty without floating point
	lhs := a.res[x].AvailCPUs * max(ny.TotalCPUs(), 1)
	rhs := a.res[y].AvailCPUs * max(nx.TotalCPUs(), 1)
	if lhs != rhs {
		return lhs > rhs
	}
	return x < y
}

func (s *orderedStrategy) place(a *attempt) error {
	if err := a.consumeRequired(); err != nil {
		return err
	}
	if a.satisfied() && !s.spread {
		return nil
	}

	for _, g := range GroupByWeight(a.free(a.usable), a.nodes) {
		ids := nodeset.Slice(g.Nodes)
		sort.SliceStable(ids, func(x, y int) bool { return s.less(a, ids[x], ids[y]) })
		for _, i := range ids {
			if s.spread {
				if a.maxNodes <= 0 {
					break
				}
			} else if a.satisfied() {
				return nil
			}
			a.add(i)
		}
		if !s.spread && a.satisfied() {
			return nil
		}
	}
	return a.finish()
}
