package placement

import (
	"context"
	"testing"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/shoenig/test/must"

	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/nodeset"
	"github.com/guimove/hpcfit/internal/topology"
)

// newNodes returns n idle single-socket nodes with the given core count.
func newNodes(n, cores int) []*model.NodeResource {
	nodes := make([]*model.NodeResource, n)
	for i := range nodes {
		nodes[i] = &model.NodeResource{
			Name:           nodeName(i),
			Sockets:        1,
			CoresPerSocket: cores,
			ThreadsPerCore: 1,
			AvailCPUs:      cores,
			AvailCores:     nodeset.Full(cores),
			Idle:           true,
		}
	}
	return nodes
}

func nodeName(i int) string {
	return "node" + string(rune('a'+i))
}

func buildView(t *testing.T, tables *topology.Tables) topology.View {
	t.Helper()
	v, err := tables.Build()
	must.NoError(t, err)
	return v
}

func twoLeafTree(t *testing.T) topology.View {
	return buildView(t, &topology.Tables{
		Kind: topology.KindTree,
		Switches: []topology.SwitchTable{
			{Name: "a", Nodes: "0-3"},
			{Name: "b", Nodes: "4-7"},
			{Name: "core", Children: []string{"a", "b"}},
		},
	})
}

type recorder struct {
	strategy string
	err      error
	nodes    int
	retries  int
	calls    int
}

func (r *recorder) ObservePlacement(strategy string, err error, nodes, retries int) {
	r.strategy, r.err, r.nodes, r.retries = strategy, err, nodes, retries
	r.calls++
}

type fixture struct {
	nodes    []*model.NodeResource
	universe *bitset.BitSet
	view     topology.View
	idle     *bitset.BitSet
}

func newFixture(n, cores int) *fixture {
	return &fixture{nodes: newNodes(n, cores), universe: nodeset.Full(n)}
}

func (f *fixture) place(t *testing.T, e *Evaluator, job *model.JobRequest) (*model.Placement, error) {
	t.Helper()
	return e.Place(context.Background(), PlaceInput{
		Job:      job,
		Universe: f.universe,
		Nodes:    f.nodes,
		Topology: f.view,
		Idle:     f.idle,
	})
}

// checkInvariants asserts the subset and budget properties of a placement.
func checkInvariants(t *testing.T, universe *bitset.BitSet, job *model.JobRequest, p *model.Placement) {
	t.Helper()
	ids := p.NodeIDs()
	selected := nodeset.Of(int(universe.Len()), ids...)
	must.True(t, nodeset.Subset(selected, universe), must.Sprintf("selection %v outside universe", ids))
	must.True(t, nodeset.Subset(nodeset.Of(0, job.RequiredNodes...), selected))
	must.GreaterEq(t, job.MinNodes, len(ids))
	must.LessEq(t, job.NodeMax(), len(ids))
	must.GreaterEq(t, job.MinCPUs, p.TotalCPUs())
	if job.MaxCPUs > 0 {
		must.LessEq(t, job.MaxCPUs, p.TotalCPUs())
	}
	for _, g := range job.Gres {
		if g.PerJob > 0 {
			must.GreaterEq(t, g.PerJob, p.GresCount(g.Name))
		}
	}
}

func fixedClock(now time.Time) Option {
	return WithClock(func() time.Time { return now })
}
