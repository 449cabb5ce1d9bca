// Package topology holds the read-only network topology views consulted by
// the placement strategies: switch trees, dragonfly groups, block systems and
// rings. Each adapter exposes the same domain contract; the set of adapters
// is closed.
package topology

import (
	"errors"

	"github.com/bits-and-blooms/bitset"
)

// Kind names a topology adapter.
type Kind string

const (
	KindTree      Kind = "tree"
	KindDragonfly Kind = "dragonfly"
	KindBlock     Kind = "block"
	KindRing      Kind = "ring"
)

var (
	ErrNoDomains     = errors.New("topology has no domains")
	ErrUnknownKind   = errors.New("unknown topology kind")
	ErrUnknownDomain = errors.New("unknown topology domain")
)

// View is the domain contract shared by all adapters. Domain ids are dense
// indices in [0, NumDomains()).
type View interface {
	Kind() Kind
	NumDomains() int
	// DomainsFor returns the leaf domains containing node.
	DomainsFor(node int) []int
	// Members returns the node bitmap of a domain. Callers must not modify it.
	Members(id int) *bitset.BitSet
	// Nest returns the parent domain, if any.
	Nest(id int) (int, bool)
	// Level returns 0 for leaf domains.
	Level(id int) int

	view()
}
