package topology

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/hashicorp/go-multierror"

	"github.com/guimove/hpcfit/internal/nodeset"
)

// Switch is one domain of a switch hierarchy.
type Switch struct {
	Name     string
	Level    int
	Parent   int // -1 for a root
	Children []int
	Nodes    *bitset.BitSet
}

// Tree is an arbitrary-depth switch hierarchy.
type Tree struct {
	switches []Switch
	leafOf   map[int][]int
	dist     [][]uint32
}

// NewTree validates the hierarchy, fills in member bitmaps of upper level
// switches from their children and precomputes switch distances.
func NewTree(switches []Switch) (*Tree, error) {
	if len(switches) == 0 {
		return nil, ErrNoDomains
	}

	var mErr *multierror.Error
	sw := make([]Switch, len(switches))
	copy(sw, switches)
	for i := range sw {
		s := &sw[i]
		if s.Parent >= len(sw) || s.Parent == i {
			mErr = multierror.Append(mErr, fmt.Errorf("switch %q: invalid parent %d", s.Name, s.Parent))
		}
		if s.Parent < 0 {
			s.Parent = -1
		}
		s.Nodes = nodeset.Clone(s.Nodes)
		s.Children = append([]int(nil), s.Children...)
	}
	if err := mErr.ErrorOrNil(); err != nil {
		return nil, err
	}

	// children lists are derived from parent links when absent
	for i := range sw {
		p := sw[i].Parent
		if p < 0 || containsInt(sw[p].Children, i) {
			continue
		}
		sw[p].Children = append(sw[p].Children, i)
	}
	for i := range sw {
		sort.Ints(sw[i].Children)
	}

	t := &Tree{switches: sw, leafOf: make(map[int][]int)}
	for i := range sw {
		if t.depthCheck(i) > len(sw) {
			return nil, fmt.Errorf("switch %q: parent cycle", sw[i].Name)
		}
	}
	t.aggregate()

	for i := range sw {
		if sw[i].Level != 0 {
			continue
		}
		nodeset.ForEach(sw[i].Nodes, func(n int) bool {
			t.leafOf[n] = append(t.leafOf[n], i)
			return true
		})
	}
	t.computeDistances()
	return t, nil
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func (t *Tree) depthCheck(i int) int {
	d := 0
	for p := t.switches[i].Parent; p >= 0; p = t.switches[p].Parent {
		d++
		if d > len(t.switches) {
			break
		}
	}
	return d
}

// aggregate recomputes levels bottom-up and unions child members into parents.
func (t *Tree) aggregate() {
	var visit func(i int) int
	visit = func(i int) int {
		s := &t.switches[i]
		if len(s.Children) == 0 {
			s.Level = 0
			return 0
		}
		level := 0
		for _, c := range s.Children {
			if l := visit(c) + 1; l > level {
				level = l
			}
			s.Nodes.InPlaceUnion(t.switches[c].Nodes)
		}
		s.Level = level
		return level
	}
	for i := range t.switches {
		if t.switches[i].Parent < 0 {
			visit(i)
		}
	}
}

// computeDistances sets dist[a][b] to the number of hops between a and b
// through their lowest common ancestor. Switches in disjoint trees get the
// maximum distance.
func (t *Tree) computeDistances() {
	n := len(t.switches)
	t.dist = make([][]uint32, n)
	for a := 0; a < n; a++ {
		t.dist[a] = make([]uint32, n)
		up := make(map[int]uint32)
		var hops uint32
		for p := a; p >= 0; p = t.switches[p].Parent {
			up[p] = hops
			hops++
		}
		for b := 0; b < n; b++ {
			t.dist[a][b] = ^uint32(0)
			var h uint32
			for p := b; p >= 0; p = t.switches[p].Parent {
				if ha, ok := up[p]; ok {
					t.dist[a][b] = ha + h
					break
				}
				h++
			}
		}
	}
}

func (t *Tree) Kind() Kind      { return KindTree }
func (t *Tree) NumDomains() int { return len(t.switches) }
func (t *Tree) view()           {}

func (t *Tree) DomainsFor(node int) []int { return t.leafOf[node] }

func (t *Tree) Members(id int) *bitset.BitSet {
	if id < 0 || id >= len(t.switches) {
		return nil
	}
	return t.switches[id].Nodes
}

func (t *Tree) Nest(id int) (int, bool) {
	if id < 0 || id >= len(t.switches) || t.switches[id].Parent < 0 {
		return -1, false
	}
	return t.switches[id].Parent, true
}

func (t *Tree) Level(id int) int { return t.switches[id].Level }

// Switch returns a copy of the switch record.
func (t *Tree) Switch(id int) Switch { return t.switches[id] }

// Distance returns the hop count between two switches.
func (t *Tree) Distance(a, b int) uint32 { return t.dist[a][b] }

// Leaves returns the ids of all level 0 switches.
func (t *Tree) Leaves() []int {
	var out []int
	for i := range t.switches {
		if t.switches[i].Level == 0 {
			out = append(out, i)
		}
	}
	return out
}

// LeavesUnder returns the leaf switches in the subtree rooted at id.
func (t *Tree) LeavesUnder(id int) []int {
	var out []int
	var walk func(i int)
	walk = func(i int) {
		s := &t.switches[i]
		if s.Level == 0 {
			out = append(out, i)
			return
		}
		for _, c := range s.Children {
			walk(c)
		}
	}
	walk(id)
	sort.Ints(out)
	return out
}

// ByCoverage returns switch ids ordered smallest first: ascending level,
// then ascending member count, then id.
func (t *Tree) ByCoverage() []int {
	ids := make([]int, len(t.switches))
	for i := range ids {
		ids[i] = i
	}
	sort.SliceStable(ids, func(x, y int) bool {
		a, b := &t.switches[ids[x]], &t.switches[ids[y]]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		ca, cb := a.Nodes.Count(), b.Nodes.Count()
		if ca != cb {
			return ca < cb
		}
		return ids[x] < ids[y]
	})
	return ids
}

// LowestCovering returns the smallest switch whose members contain every
// node of set.
func (t *Tree) LowestCovering(set *bitset.BitSet) (int, bool) {
	for _, id := range t.ByCoverage() {
		if nodeset.Subset(set, t.switches[id].Nodes) {
			return id, true
		}
	}
	return -1, false
}
