package topology

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/hashicorp/go-multierror"

	"github.com/guimove/hpcfit/internal/nodeset"
)

// Tables is the serialized form of a topology as found in a cluster
// snapshot. Node lists use the cpuset list syntax over node indices.
type Tables struct {
	Kind       Kind          `json:"kind"`
	Switches   []SwitchTable `json:"switches,omitempty"`
	Blocks     []BlockTable  `json:"blocks,omitempty"`
	BlockSizes []int         `json:"block_sizes,omitempty"`
	Rings      []RingTable   `json:"rings,omitempty"`
}

// SwitchTable describes one switch. Leaf switches list nodes, upper
// switches list children by name.
type SwitchTable struct {
	Name     string   `json:"name"`
	Nodes    string   `json:"nodes,omitempty"`
	Children []string `json:"children,omitempty"`
}

type BlockTable struct {
	Name  string `json:"name"`
	Nodes string `json:"nodes"`
}

// RingTable lists ring members in ring order.
type RingTable struct {
	Name    string `json:"name"`
	Members []int  `json:"members"`
}

// Build validates the tables and returns the matching view. A nil receiver
// yields a nil view, meaning no topology.
func (t *Tables) Build() (View, error) {
	if t == nil || t.Kind == "" {
		return nil, nil
	}
	switch t.Kind {
	case KindTree, KindDragonfly:
		sw, err := t.switches()
		if err != nil {
			return nil, err
		}
		if t.Kind == KindDragonfly {
			return NewDragonfly(sw)
		}
		return NewTree(sw)
	case KindBlock:
		var (
			mErr  *multierror.Error
			bases []*bitset.BitSet
		)
		for _, bt := range t.Blocks {
			set, err := nodeset.Parse(bt.Nodes)
			if err != nil {
				mErr = multierror.Append(mErr, fmt.Errorf("block %q: %w", bt.Name, err))
				continue
			}
			bases = append(bases, set)
		}
		if err := mErr.ErrorOrNil(); err != nil {
			return nil, err
		}
		return NewBlock(bases, t.BlockSizes)
	case KindRing:
		rings := make([][]int, 0, len(t.Rings))
		for _, rt := range t.Rings {
			rings = append(rings, rt.Members)
		}
		return NewRing(rings)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
	}
}

func (t *Tables) switches() ([]Switch, error) {
	if len(t.Switches) == 0 {
		return nil, ErrNoDomains
	}
	index := make(map[string]int, len(t.Switches))
	for i, st := range t.Switches {
		if _, dup := index[st.Name]; dup {
			return nil, fmt.Errorf("switch %q defined twice", st.Name)
		}
		index[st.Name] = i
	}

	var mErr *multierror.Error
	out := make([]Switch, len(t.Switches))
	for i := range out {
		out[i].Parent = -1
	}
	for i, st := range t.Switches {
		out[i].Name = st.Name
		set, err := nodeset.Parse(st.Nodes)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("switch %q: %w", st.Name, err))
			continue
		}
		out[i].Nodes = set
		for _, child := range st.Children {
			c, ok := index[child]
			if !ok {
				mErr = multierror.Append(mErr, fmt.Errorf("switch %q: %w %q", st.Name, ErrUnknownDomain, child))
				continue
			}
			if out[c].Parent >= 0 && out[c].Parent != i {
				mErr = multierror.Append(mErr, fmt.Errorf("switch %q has two parents", child))
				continue
			}
			out[c].Parent = i
			out[i].Children = append(out[i].Children, c)
		}
	}
	if err := mErr.ErrorOrNil(); err != nil {
		return nil, err
	}
	if t.Kind == KindDragonfly {
		for i := range out {
			out[i].Parent = -1
		}
	}
	return out, nil
}
