package placement

import (
	"fmt"
	"sort"

	"github.com/guimove/hpcfit/internal/nodeset"
	"github.com/guimove/hpcfit/internal/topology"
)

// blockStrategy splits the job into segments placed inside base blocks, all
// within the smallest aligned block group that can hold them. Without a
// segment size every node is its own segment, so the job only needs a group
// with enough free nodes.
type blockStrategy struct {
	view *topology.Block
}

func (s *blockStrategy) Name() string { return "block" }

func (s *blockStrategy) place(a *attempt) error {
	b := s.view
	seg := a.job.SegmentSize
	if seg == 0 {
		seg = 1
	}
	if seg > b.BaseBlockNodes() {
		return fmt.Errorf("%w: segment of %d nodes exceeds base block of %d",
			ErrTopologyConfigUnavailable, seg, b.BaseBlockNodes())
	}
	if err := a.consumeRequired(); err != nil {
		return err
	}

	covered := false
	for id := 0; id < b.NumDomains(); id++ {
		if nodeset.Subset(a.selected, b.Members(id)) {
			covered = true
			break
		}
	}
	if !covered {
		return fmt.Errorf("%w: %s", ErrRequiredNodesNotCoLocated, nodeset.Format(a.required))
	}

	segs := a.target / seg
	caps := make([]int, b.BaseBlocks())
	for bb := range caps {
		id := b.Group(0, bb)
		members := b.Members(id)
		caps[bb] = (nodeset.Count(a.free(members)) + int(members.IntersectionCardinality(a.selected))) / seg
	}

	first, count := 0, b.BaseBlocks()
	if id, ok := a.blockGroup(b, caps, segs); ok {
		first, count = b.Span(id)
		a.logger.Trace("block group selected", "job", a.job.ID, "level", b.Level(id), "first", first, "blocks", count)
	}

	order := make([]int, 0, count)
	for bb := first; bb < first+count; bb++ {
		order = append(order, bb)
	}
	selectedIn := func(bb int) int {
		return int(b.Members(b.Group(0, bb)).IntersectionCardinality(a.selected))
	}
	sort.SliceStable(order, func(x, y int) bool {
		sx, sy := selectedIn(order[x]) > 0, selectedIn(order[y]) > 0
		if sx != sy {
			return sx
		}
		return caps[order[x]] > caps[order[y]]
	})

	placed := 0
	for _, bb := range order {
		if placed >= segs {
			break
		}
		want := max(ceilDiv(selectedIn(bb), seg), min(caps[bb], segs-placed)) * seg
		for _, i := range a.byWeight(b.Members(b.Group(0, bb))) {
			if selectedIn(bb) >= want {
				break
			}
			a.add(i)
		}
		placed += selectedIn(bb) / seg
	}

	for bb := 0; bb < b.BaseBlocks(); bb++ {
		if selectedIn(bb)%seg != 0 {
			return fmt.Errorf("%w: base block %d holds a partial segment", ErrInsufficientResources, bb)
		}
	}
	return a.finish()
}

// blockGroup returns the smallest aligned group holding segs segments and
// every selected node, with the fewest spare segments.
func (a *attempt) blockGroup(b *topology.Block, caps []int, segs int) (int, bool) {
	for level := range b.BlockLevels() {
		best, bestSpare := -1, 0
		for g := 0; g < b.Groups(level); g++ {
			id := b.Group(level, g)
			if !nodeset.Subset(a.selected, b.Members(id)) {
				continue
			}
			first, count := b.Span(id)
			total := 0
			for bb := first; bb < first+count; bb++ {
				total += caps[bb]
			}
			if total < segs {
				continue
			}
			if best < 0 || total-segs < bestSpare {
				best, bestSpare = id, total-segs
			}
		}
		if best >= 0 {
			return best, true
		}
	}
	return -1, false
}
