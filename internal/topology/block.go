package topology

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/guimove/hpcfit/internal/nodeset"
)

type blockDomain struct {
	level  int
	first  int // index of the first base block
	count  int // base blocks spanned
	parent int
	nodes  *bitset.BitSet
}

// Block is a block-structured topology. Base blocks are the leaf domains;
// level l groups BlockLevels()[l] consecutive base blocks, aligned on that
// size. Only complete groups exist.
type Block struct {
	bases    int
	levels   []int
	domains  []blockDomain
	levelOff []int
	baseOf   map[int]int
	bbNodes  int
}

// NewBlock builds a block topology from base block memberships and the
// aggregation sizes, in base blocks. Sizes must be increasing powers of two;
// a size of 1 is implied.
func NewBlock(bases []*bitset.BitSet, sizes []int) (*Block, error) {
	if len(bases) == 0 {
		return nil, ErrNoDomains
	}
	levels := []int{1}
	for _, s := range sizes {
		if s == 1 {
			continue
		}
		if s <= 0 || s&(s-1) != 0 {
			return nil, fmt.Errorf("block size %d is not a power of two", s)
		}
		if s <= levels[len(levels)-1] {
			return nil, fmt.Errorf("block sizes must be increasing, got %d after %d", s, levels[len(levels)-1])
		}
		if s > len(bases) {
			break
		}
		levels = append(levels, s)
	}

	b := &Block{bases: len(bases), levels: levels, baseOf: make(map[int]int)}
	for l, size := range levels {
		b.levelOff = append(b.levelOff, len(b.domains))
		for first := 0; first+size <= len(bases); first += size {
			d := blockDomain{level: l, first: first, count: size, parent: -1, nodes: nodeset.New(0)}
			for i := first; i < first+size; i++ {
				d.nodes.InPlaceUnion(bases[i])
			}
			b.domains = append(b.domains, d)
		}
	}
	for i := range b.domains {
		d := &b.domains[i]
		if d.level+1 < len(levels) {
			up := levels[d.level+1]
			g := d.first / up
			if g*up+up <= len(bases) {
				d.parent = b.levelOff[d.level+1] + g
			}
		}
	}

	for i, base := range bases {
		if c := int(base.Count()); c > b.bbNodes {
			b.bbNodes = c
		}
		var dup error
		nodeset.ForEach(base, func(n int) bool {
			if prev, ok := b.baseOf[n]; ok {
				dup = fmt.Errorf("node %d is in base blocks %d and %d", n, prev, i)
				return false
			}
			b.baseOf[n] = i
			return true
		})
		if dup != nil {
			return nil, dup
		}
	}
	return b, nil
}

func (b *Block) Kind() Kind      { return KindBlock }
func (b *Block) NumDomains() int { return len(b.domains) }
func (b *Block) view()           {}

func (b *Block) DomainsFor(node int) []int {
	if i, ok := b.baseOf[node]; ok {
		return []int{i}
	}
	return nil
}

func (b *Block) Members(id int) *bitset.BitSet {
	if id < 0 || id >= len(b.domains) {
		return nil
	}
	return b.domains[id].nodes
}

func (b *Block) Nest(id int) (int, bool) {
	if id < 0 || id >= len(b.domains) || b.domains[id].parent < 0 {
		return -1, false
	}
	return b.domains[id].parent, true
}

func (b *Block) Level(id int) int { return b.domains[id].level }

// BaseBlocks returns the number of base blocks.
func (b *Block) BaseBlocks() int { return b.bases }

// BaseBlockNodes returns the node count of the largest base block.
func (b *Block) BaseBlockNodes() int { return b.bbNodes }

// BlockLevels returns the aggregation sizes in base blocks, starting at 1.
func (b *Block) BlockLevels() []int { return b.levels }

// Groups returns the number of complete groups at level.
func (b *Block) Groups(level int) int { return b.bases / b.levels[level] }

// Group returns the domain id of group idx at level.
func (b *Block) Group(level, idx int) int { return b.levelOff[level] + idx }

// Span returns the base block range [first, first+count) of a domain.
func (b *Block) Span(id int) (first, count int) {
	d := &b.domains[id]
	return d.first, d.count
}
