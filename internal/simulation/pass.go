package simulation

import (
	"context"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/nodeset"
	"github.com/guimove/hpcfit/internal/placement"
	"github.com/guimove/hpcfit/internal/topology"
)

// PassInput is the input to one scheduling pass.
type PassInput struct {
	Jobs     []model.JobRequest
	Nodes    []*model.NodeResource // working copy, updated as jobs are placed
	Topology topology.View
}

// PassResult is the output of a scheduling pass.
type PassResult struct {
	Outcomes []model.JobOutcome
	Nodes    []*model.NodeResource
}

// RunPass places jobs one at a time in queue order. Every accepted
// placement is subtracted from the working nodes so later jobs see it.
func RunPass(ctx context.Context, eval *placement.Evaluator, input PassInput) (*PassResult, error) {
	res := &PassResult{
		Outcomes: make([]model.JobOutcome, 0, len(input.Jobs)),
		Nodes:    input.Nodes,
	}

	for i := range input.Jobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		job := input.Jobs[i]

		in := placement.PlaceInput{
			Job:      &job,
			Universe: nodeset.Full(len(input.Nodes)),
			Nodes:    cloneNodes(input.Nodes),
			Topology: input.Topology,
		}
		p, err := eval.Place(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Outcomes = append(res.Outcomes, model.JobOutcome{
				JobID:  job.ID,
				Reason: placement.Reason(err),
				Error:  err.Error(),
			})
			continue
		}

		if err := Allocate(input.Nodes, p); err != nil {
			return nil, fmt.Errorf("committing job %q: %w", job.ID, err)
		}
		res.Outcomes = append(res.Outcomes, model.JobOutcome{JobID: job.ID, Placement: p})
	}
	return res, nil
}

// Allocate removes a placement's cores, CPUs and GRES units from nodes and
// marks the nodes busy.
func Allocate(nodes []*model.NodeResource, p *model.Placement) error {
	for _, g := range p.Nodes {
		if g.Node < 0 || g.Node >= len(nodes) {
			return fmt.Errorf("node %d out of range", g.Node)
		}
		n := nodes[g.Node]
		cores, err := nodeset.Parse(g.Cores)
		if err != nil {
			return fmt.Errorf("node %s cores: %w", n.Name, err)
		}
		if !nodeset.Subset(cores, n.AvailCores) {
			return fmt.Errorf("node %s: cores %s not available", n.Name, g.Cores)
		}
		n.AvailCores.InPlaceDifference(cores)
		n.AvailCPUs = min(max(n.AvailCPUs-g.CPUs, 0), nodeset.Count(n.AvailCores)*n.Threads())
		n.Idle = false

		for _, gg := range g.Gres {
			if err := consumeGres(n, gg); err != nil {
				return err
			}
		}
	}
	return nil
}

// consumeGres takes the granted units from the first matching GRES of n.
func consumeGres(n *model.NodeResource, g model.GresGrant) error {
	for k := range n.Gres {
		avail := &n.Gres[k]
		if avail.Name != g.Name || (g.Type != "" && avail.Type != g.Type) {
			continue
		}
		if avail.Total() < g.Count {
			continue
		}
		for s, units := range g.PerSocket {
			if s < len(avail.PerSocket) {
				avail.PerSocket[s] -= min(units, avail.PerSocket[s])
			}
		}
		avail.NoAffinity -= min(g.NoAffinity, avail.NoAffinity)
		return nil
	}
	return fmt.Errorf("node %s: %d %s units not available", n.Name, g.Count, g.Name)
}

func cloneNodes(nodes []*model.NodeResource) []*model.NodeResource {
	out := make([]*model.NodeResource, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// freeNodes returns the nodes with every CPU available.
func freeNodes(nodes []*model.NodeResource) *bitset.BitSet {
	free := nodeset.New(len(nodes))
	for i, n := range nodes {
		if n.AvailCPUs >= n.TotalCPUs() {
			free.Set(uint(i))
		}
	}
	return free
}
