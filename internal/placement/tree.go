package placement

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/guimove/hpcfit/internal/nodeset"
	"github.com/guimove/hpcfit/internal/topology"
)

// treeStrategy places jobs under the smallest switch able to hold them,
// preferring a single leaf switch.
type treeStrategy struct {
	view *topology.Tree
}

func (s *treeStrategy) Name() string { return "tree" }

func (s *treeStrategy) place(a *attempt) error { return a.spanRetry(s.once) }

// spanRetry runs once and enforces the leaf switch limit of the job. While
// the switch wait has not expired and the node target has slack, the target
// drops by one node and the placement starts over.
func (a *attempt) spanRetry(once func(a *attempt) error) error {
	for {
		if err := once(a); err != nil {
			return err
		}
		limit := a.job.ReqSwitch
		if limit <= 0 || a.leafSwitches <= limit {
			a.bestSwitch = true
			return nil
		}
		if a.switchWaitElapsed() {
			a.bestSwitch = false
			return nil
		}
		if a.target <= a.job.MinNodes {
			return fmt.Errorf("%w: %d leaf switches, limit %d", ErrRetryHint, a.leafSwitches, limit)
		}
		if err := a.ctx.Err(); err != nil {
			return err
		}
		a.retries++
		a.logger.Trace("leaf switch limit exceeded, lowering node target",
			"job", a.job.ID, "switches", a.leafSwitches, "limit", limit, "target", a.target-1)
		a.reset(a.target - 1)
	}
}

// switchWaitElapsed reports whether the job has waited Wait4Switch for its
// switch count. Without a start time only a zero wait has elapsed.
func (a *attempt) switchWaitElapsed() bool {
	wait := a.job.Wait4Switch.Duration
	if a.job.SwitchWaitStart.IsZero() {
		return wait <= 0
	}
	return a.now.Sub(a.job.SwitchWaitStart) >= wait
}

func (s *treeStrategy) once(a *attempt) error {
	t := s.view
	if err := a.consumeRequired(); err != nil {
		return err
	}
	top, err := a.topSwitch(t)
	if err != nil {
		return err
	}
	if a.satisfied() {
		a.leafSwitches = a.countLeaves(t)
		return nil
	}
	a.logger.Trace("top switch selected", "job", a.job.ID, "switch", t.Switch(top).Name)

	cand := nodeset.Clone(t.Members(top))
	cand.InPlaceIntersection(a.usable)
	best := a.bestNodes(cand)
	leaves := t.LeavesUnder(top)

	if leaf, ok := a.singleLeaf(t, leaves, best); ok {
		a.addAll(a.byWeight(intersect(t.Members(leaf), best)))
	} else {
		for _, leaf := range a.leafOrder(t, leaves, best) {
			if a.done() {
				break
			}
			a.addAll(a.byWeight(intersect(t.Members(leaf), best)))
		}
	}

	a.leafSwitches = a.countLeaves(t)
	return a.finish()
}

func intersect(x, y *bitset.BitSet) *bitset.BitSet {
	out := nodeset.Clone(x)
	out.InPlaceIntersection(y)
	return out
}

// topSwitch returns the lowest switch covering the required nodes or, with
// none, the smallest switch whose nodes of the lowest weights can satisfy the
// job.
func (a *attempt) topSwitch(t *topology.Tree) (int, error) {
	if !nodeset.Empty(a.required) {
		id, ok := t.LowestCovering(a.required)
		if !ok {
			return -1, fmt.Errorf("%w: %s", ErrRequiredNodesNotCoLocated, nodeset.Format(a.required))
		}
		return id, nil
	}

	groups := GroupByWeight(a.usable, a.nodes)
	order := t.ByCoverage()
	for _, strict := range []bool{true, false} {
		pool := nodeset.New(a.size)
		for _, g := range groups {
			pool.InPlaceUnion(g.Nodes)
			for _, id := range order {
				if a.poolSufficient(intersect(t.Members(id), pool), strict) {
					return id, nil
				}
			}
		}
	}
	return -1, fmt.Errorf("%w: no switch can hold the job", ErrInsufficientResources)
}

// bestNodes takes whole weight levels of cand, lowest first, until they can
// satisfy the job.
func (a *attempt) bestNodes(cand *bitset.BitSet) *bitset.BitSet {
	best := nodeset.New(a.size)
	for _, g := range GroupByWeight(cand, a.nodes) {
		best.InPlaceUnion(g.Nodes)
		if a.poolSufficient(best, true) {
			break
		}
	}
	return best
}

type leafInfo struct {
	id       int
	free     int
	cpus     int
	selected bool
	dist     uint32
}

func (a *attempt) leafInfos(t *topology.Tree, leaves []int, pool *bitset.BitSet) []leafInfo {
	out := make([]leafInfo, 0, len(leaves))
	for _, id := range leaves {
		free := a.free(intersect(t.Members(id), pool))
		out = append(out, leafInfo{
			id:       id,
			free:     nodeset.Count(free),
			cpus:     a.freeCPUs(free),
			selected: t.Members(id).IntersectionCardinality(a.selected) > 0,
		})
	}
	return out
}

// singleLeaf returns the tightest leaf that holds every selected node and
// can complete the job on its own.
func (a *attempt) singleLeaf(t *topology.Tree, leaves []int, pool *bitset.BitSet) (int, bool) {
	best := -1
	var bestInfo leafInfo
	for _, info := range a.leafInfos(t, leaves, pool) {
		if !nodeset.Subset(a.selected, t.Members(info.id)) {
			continue
		}
		if !a.poolSufficient(intersect(t.Members(info.id), pool), true) {
			continue
		}
		if best < 0 || info.free < bestInfo.free || (info.free == bestInfo.free && info.cpus < bestInfo.cpus) {
			best, bestInfo = info.id, info
		}
	}
	return best, best >= 0
}

// leafOrder returns the leaves to fill: those holding selected nodes, then
// by distance from the anchor leaf, most free nodes, index.
func (a *attempt) leafOrder(t *topology.Tree, leaves []int, pool *bitset.BitSet) []int {
	infos := a.leafInfos(t, leaves, pool)
	anchor := -1
	if first, ok := nodeset.First(a.selected); ok {
		if ds := t.DomainsFor(first); len(ds) > 0 {
			anchor = ds[0]
		}
	}
	if anchor < 0 {
		var most *leafInfo
		for k := range infos {
			in := &infos[k]
			if most == nil || in.free > most.free || (in.free == most.free && in.cpus > most.cpus) {
				most = in
			}
		}
		if most != nil {
			anchor = most.id
		}
	}
	for k := range infos {
		if anchor >= 0 {
			infos[k].dist = t.Distance(anchor, infos[k].id)
		}
	}

	sort.SliceStable(infos, func(x, y int) bool {
		ix, iy := &infos[x], &infos[y]
		if ix.selected != iy.selected {
			return ix.selected
		}
		if ix.dist != iy.dist {
			return ix.dist < iy.dist
		}
		if ix.free != iy.free {
			return ix.free > iy.free
		}
		return ix.id < iy.id
	})

	out := make([]int, 0, len(infos))
	for _, in := range infos {
		if in.free > 0 {
			out = append(out, in.id)
		}
	}
	return out
}

// countLeaves returns the leaf switches holding selected nodes.
func (a *attempt) countLeaves(t *topology.Tree) int {
	count := 0
	for _, id := range t.Leaves() {
		if t.Members(id).IntersectionCardinality(a.selected) > 0 {
			count++
		}
	}
	return count
}
