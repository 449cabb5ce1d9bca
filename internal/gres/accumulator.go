package gres

import (
	"errors"
	"fmt"

	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/nodeset"
)

// ErrBelowFloor is returned by Add when shrinking a node to its GRES share
// leaves fewer CPUs than the node must supply.
var ErrBelowFloor = errors.New("node cpus below floor after gres reduction")

// Accumulator tracks job-level GRES totals while nodes join a candidate set.
// Totals only grow; a new attempt starts from a new Accumulator.
type Accumulator struct {
	reqs   []model.GresRequest
	index  []int // position of each request in job.Gres
	totals []uint64
}

// NewAccumulator starts zeroed totals for every request of job that carries
// a per-job count. The bool reports whether any such request exists.
func NewAccumulator(job *model.JobRequest) (*Accumulator, bool) {
	a := &Accumulator{}
	for i, g := range job.Gres {
		if g.PerJob == 0 {
			continue
		}
		a.reqs = append(a.reqs, g)
		a.index = append(a.index, i)
	}
	a.totals = make([]uint64, len(a.reqs))
	return a, len(a.reqs) > 0
}

// Sufficient reports whether every per-job count is met.
func (a *Accumulator) Sufficient() bool {
	for k, req := range a.reqs {
		if a.totals[k] < req.PerJob {
			return false
		}
	}
	return true
}

// Totals returns the running totals keyed by request key.
func (a *Accumulator) Totals() map[string]uint64 {
	if len(a.reqs) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(a.reqs))
	for k, req := range a.reqs {
		out[req.Key()] += a.totals[k]
	}
	return out
}

// usable returns the units a node can contribute to request k given its
// CPUs.
func (a *Accumulator) usable(k int, res *FilterResult) uint64 {
	req := a.reqs[k]
	g := res.Grants[a.index[k]]
	units := g.Total
	if req.CPUsPerGres > 0 {
		units = min(units, uint64(res.AvailCPUs/req.CPUsPerGres))
	}
	return units
}

func jobLevelOnly(req model.GresRequest) bool {
	return req.PerNode == 0 && req.PerSocket == 0 && req.PerTask == 0
}

// Add accounts the node's share toward the per-job counts. Job-level only
// requests are capped by the outstanding deficit. When a GPU request shrinks
// on a node with restricted cores per GPU, the node's cores and res.AvailCPUs
// shrink with it. On error neither node nor res is changed.
func (a *Accumulator) Add(node *model.NodeResource, res *FilterResult, floor int) error {
	if len(a.reqs) == 0 {
		return nil
	}
	if res.Grants == nil {
		return fmt.Errorf("node %q has no gres grants", node.Name)
	}

	grants := make([]Grant, len(res.Grants))
	for i, g := range res.Grants {
		grants[i] = g.clone()
	}
	cpus := res.AvailCPUs
	cores := node.AvailCores
	adds := make([]uint64, len(a.reqs))

	for k, req := range a.reqs {
		g := &grants[a.index[k]]
		units := a.usable(k, res)
		if jobLevelOnly(req) {
			deficit := uint64(0)
			if a.totals[k] < req.PerJob {
				deficit = req.PerJob - a.totals[k]
			}
			units = min(units, deficit)
		}
		adds[k] = units
		if units >= g.Total {
			continue
		}

		g.shrink(units)
		if req.CPUsPerGres > 0 && units > 0 {
			cpus = min(cpus, int(units)*req.CPUsPerGres)
		}
		if req.IsGPU() && node.RestrictedCoresPerGPU > 0 && units > 0 {
			restricted := restrictedCores(node, req)
			if restricted == nil {
				continue
			}
			if cores == node.AvailCores {
				cores = node.AvailCores.Clone()
			}
			tmp := *node
			tmp.AvailCores = cores
			PruneRestricted(&tmp, restricted, res.RequiredSockets, int(units)*node.RestrictedCoresPerGPU)
			cpus = min(cpus, nodeset.Count(cores)*node.Threads())
		}
	}

	if cpus < floor {
		return fmt.Errorf("%w: node %q has %d cpus, needs %d", ErrBelowFloor, node.Name, cpus, floor)
	}

	for k := range a.reqs {
		a.totals[k] += adds[k]
	}
	res.Grants = grants
	res.AvailCPUs = cpus
	node.AvailCores = cores
	return nil
}

// Consec collects prospective contributions of a node range without
// touching the accumulator totals.
type Consec struct {
	totals []uint64
}

// NewConsec starts an empty prospective range.
func (a *Accumulator) NewConsec() *Consec {
	return &Consec{totals: make([]uint64, len(a.reqs))}
}

// ConsecAdd adds what the node could contribute to the range.
func (a *Accumulator) ConsecAdd(c *Consec, res *FilterResult) {
	if res.Grants == nil {
		return
	}
	for k := range a.reqs {
		c.totals[k] += a.usable(k, res)
	}
}

// ConsecSufficient reports whether the committed totals plus the range meet
// every per-job count.
func (a *Accumulator) ConsecSufficient(c *Consec) bool {
	for k, req := range a.reqs {
		if a.totals[k]+c.totals[k] < req.PerJob {
			return false
		}
	}
	return true
}
