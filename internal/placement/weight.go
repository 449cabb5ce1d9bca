package placement

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/nodeset"
)

// WeightGroup holds all nodes of one scheduling weight.
type WeightGroup struct {
	Weight uint32
	Nodes  *bitset.BitSet
}

// GroupByWeight partitions nodes by the weight of res[i], lowest weight
// first. Groups are disjoint and their union is nodes.
func GroupByWeight(nodes *bitset.BitSet, res []*model.NodeResource) []WeightGroup {
	byWeight := make(map[uint32]*bitset.BitSet)
	nodeset.ForEach(nodes, func(i int) bool {
		if i >= len(res) || res[i] == nil {
			return true
		}
		w := res[i].Weight
		set, ok := byWeight[w]
		if !ok {
			set = nodeset.New(len(res))
			byWeight[w] = set
		}
		set.Set(uint(i))
		return true
	})

	groups := make([]WeightGroup, 0, len(byWeight))
	for w, set := range byWeight {
		groups = append(groups, WeightGroup{Weight: w, Nodes: set})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Weight < groups[j].Weight })
	return groups
}
