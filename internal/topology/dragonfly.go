package topology

import "fmt"

// Dragonfly is a two level topology: leaf switches joined by one global
// level. It shares the tree machinery.
type Dragonfly struct {
	*Tree
}

// NewDragonfly builds a dragonfly from its leaf switches. A global switch
// spanning every leaf is appended as the last domain.
func NewDragonfly(leaves []Switch) (*Dragonfly, error) {
	if len(leaves) == 0 {
		return nil, ErrNoDomains
	}
	sw := make([]Switch, 0, len(leaves)+1)
	global := len(leaves)
	for _, l := range leaves {
		if len(l.Children) > 0 {
			return nil, fmt.Errorf("dragonfly switch %q: leaf switches cannot have children", l.Name)
		}
		l.Parent = global
		l.Level = 0
		sw = append(sw, l)
	}
	sw = append(sw, Switch{Name: "global", Parent: -1})

	t, err := NewTree(sw)
	if err != nil {
		return nil, err
	}
	return &Dragonfly{Tree: t}, nil
}

func (d *Dragonfly) Kind() Kind { return KindDragonfly }

// Global returns the id of the global switch.
func (d *Dragonfly) Global() int { return d.NumDomains() - 1 }
