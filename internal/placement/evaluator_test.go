package placement

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shoenig/test/must"

	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/nodeset"
)

func TestPlace_SimpleSufficiency(t *testing.T) {
	f := newFixture(4, 8)
	before := f.universe.Clone()
	job := &model.JobRequest{ID: "a", MinNodes: 2, MaxNodes: 2, MinCPUs: 10}

	p, err := f.place(t, New(Policy{}), job)
	must.NoError(t, err)
	checkInvariants(t, before, job, p)
	must.Eq(t, "consecutive", p.Strategy)
	must.Eq(t, []int{0, 1}, p.NodeIDs())
	must.Eq(t, 8, p.Nodes[0].CPUs)
	must.Eq(t, 2, p.Nodes[1].CPUs)
	must.Eq(t, "0-1", p.Nodes[1].Cores)

	// the caller's state reflects the grant
	must.Eq(t, "0-1", nodeset.Format(f.universe))
	must.Eq(t, 2, f.nodes[1].AvailCPUs)
	must.Eq(t, "0-1", nodeset.Format(f.nodes[1].AvailCores))
	must.Eq(t, 8, f.nodes[2].AvailCPUs)
}

func TestPlace_FailureLeavesInputs(t *testing.T) {
	f := newFixture(4, 8)
	job := &model.JobRequest{MinNodes: 3, MinCPUs: 40}

	_, err := f.place(t, New(Policy{}), job)
	must.ErrorIs(t, err, ErrInsufficientResources)
	must.Eq(t, "0-3", nodeset.Format(f.universe))
	for _, n := range f.nodes {
		must.Eq(t, 8, n.AvailCPUs)
		must.Eq(t, 8, nodeset.Count(n.AvailCores))
	}
}

func TestPlace_InvalidJob(t *testing.T) {
	f := newFixture(2, 4)
	_, err := f.place(t, New(Policy{}), &model.JobRequest{MinNodes: 2, MaxNodes: 1})
	must.ErrorIs(t, err, ErrInsufficientResources)
}

func TestPlace_SegmentMustDivideTarget(t *testing.T) {
	f := newFixture(12, 4)
	job := &model.JobRequest{MinNodes: 10, SegmentSize: 3}

	_, err := f.place(t, New(Policy{}), job)
	must.ErrorIs(t, err, ErrTopologyConfigUnavailable)
	must.Eq(t, 12, nodeset.Count(f.universe))
}

func TestPlace_RequiredNodesUnavailable(t *testing.T) {
	f := newFixture(4, 4)
	f.universe.Clear(2)

	_, err := f.place(t, New(Policy{}), &model.JobRequest{MinNodes: 2, RequiredNodes: []int{2}})
	must.ErrorIs(t, err, ErrRequiredNodesUnavailable)

	// a required node that cannot host the job is unavailable as well
	f = newFixture(4, 4)
	f.nodes[1].AvailCPUs = 0
	_, err = f.place(t, New(Policy{}), &model.JobRequest{MinNodes: 2, RequiredNodes: []int{1}})
	must.ErrorIs(t, err, ErrRequiredNodesUnavailable)
}

func TestPlace_RequiredNodesFirst(t *testing.T) {
	f := newFixture(6, 4)
	before := f.universe.Clone()
	job := &model.JobRequest{MinNodes: 3, RequiredNodes: []int{4}}

	p, err := f.place(t, New(Policy{}), job)
	must.NoError(t, err)
	checkInvariants(t, before, job, p)
	// the run grows to the right of the required node, then to the left
	must.Eq(t, []int{3, 4, 5}, p.NodeIDs())
}

func TestPlace_BudgetWithMaxCPUs(t *testing.T) {
	f := newFixture(4, 8)
	before := f.universe.Clone()
	job := &model.JobRequest{MinNodes: 2, MaxNodes: 4, MinCPUs: 4, MaxCPUs: 6}

	p, err := f.place(t, New(Policy{}), job)
	must.NoError(t, err)
	checkInvariants(t, before, job, p)
	must.Len(t, 2, p.Nodes)
}

func TestPlace_BudgetKeepsNodeFloor(t *testing.T) {
	f := newFixture(4, 8)
	before := f.universe.Clone()
	job := &model.JobRequest{MinNodes: 2, MaxNodes: 2, MinCPUs: 8, MaxCPUs: 8, NtasksPerNode: 4}

	// each node must keep 4 CPUs for its tasks, so the budget splits evenly
	p, err := f.place(t, New(Policy{}), job)
	must.NoError(t, err)
	checkInvariants(t, before, job, p)
	must.Len(t, 2, p.Nodes)
	must.Eq(t, 4, p.Nodes[0].CPUs)
	must.Eq(t, 4, p.Nodes[1].CPUs)
}

func TestPlace_GresPerJob(t *testing.T) {
	f := newFixture(4, 4)
	for _, n := range f.nodes {
		n.Gres = []model.GresAvail{{Name: "gpu", PerSocket: []uint64{1}}}
	}
	before := f.universe.Clone()
	job := &model.JobRequest{
		MinNodes: 1, MaxNodes: 4,
		Gres: []model.GresRequest{{Name: "gpu", PerJob: 3}},
	}

	p, err := f.place(t, New(Policy{}), job)
	must.NoError(t, err)
	checkInvariants(t, before, job, p)
	must.Len(t, 3, p.Nodes)
	must.Eq(t, map[string]uint64{"gpu": 3}, p.GresTotals)
}

func TestPlace_GresPerJobUnreachable(t *testing.T) {
	f := newFixture(2, 4)
	for _, n := range f.nodes {
		n.Gres = []model.GresAvail{{Name: "gpu", PerSocket: []uint64{1}}}
	}
	job := &model.JobRequest{
		MinNodes: 1, MaxNodes: 2,
		Gres: []model.GresRequest{{Name: "gpu", PerJob: 3}},
	}

	_, err := f.place(t, New(Policy{}), job)
	must.ErrorIs(t, err, ErrInsufficientResources)
}

func TestPlace_GresBindingGrant(t *testing.T) {
	nodes := []*model.NodeResource{{
		Name: "gpu0", Sockets: 2, CoresPerSocket: 8, ThreadsPerCore: 1,
		AvailCPUs: 16, AvailCores: nodeset.Full(16),
		Gres: []model.GresAvail{{Name: "gpu", PerSocket: []uint64{2, 0}}},
	}}
	job := &model.JobRequest{
		MinNodes: 1, MaxNodes: 1, NumTasks: 2, EnforceBinding: true,
		Gres: []model.GresRequest{{Name: "gpu", PerTask: 1, CPUsPerGres: 4}},
	}

	p, err := New(Policy{}).Place(context.Background(), PlaceInput{
		Job: job, Universe: nodeset.Full(1), Nodes: nodes,
	})
	must.NoError(t, err)
	must.Eq(t, 8, p.Nodes[0].CPUs)
	must.Eq(t, "0-7", p.Nodes[0].Cores)
	must.Eq(t, uint64(2), p.GresCount("gpu"))

	job.MinCPUsPerNode = 9
	nodes[0].AvailCPUs, nodes[0].AvailCores = 16, nodeset.Full(16)
	_, err = New(Policy{}).Place(context.Background(), PlaceInput{
		Job: job, Universe: nodeset.Full(1), Nodes: nodes,
	})
	must.ErrorIs(t, err, ErrInsufficientResources)
}

func TestPlace_Deterministic(t *testing.T) {
	run := func() *model.Placement {
		f := newFixture(8, 4)
		f.view = twoLeafTree(t)
		f.nodes[2].Weight = 5
		f.nodes[6].AvailCPUs = 2
		job := &model.JobRequest{MinNodes: 3, MaxNodes: 5, MinCPUs: 9}
		p, err := f.place(t, New(Policy{}), job)
		must.NoError(t, err)
		return p
	}
	first, second := run(), run()
	must.Eq(t, "", cmp.Diff(first, second))
}

func TestPlace_Observer(t *testing.T) {
	f := newFixture(2, 4)
	rec := &recorder{}
	e := New(Policy{}, WithObserver(rec))

	_, err := f.place(t, e, &model.JobRequest{MinNodes: 1})
	must.NoError(t, err)
	must.Eq(t, "consecutive", rec.strategy)
	must.Eq(t, 1, rec.nodes)

	_, err = f.place(t, e, &model.JobRequest{MinNodes: 3})
	must.Error(t, err)
	must.Eq(t, 2, rec.calls)
	must.ErrorIs(t, rec.err, ErrInsufficientResources)
}

func TestPlace_Cancelled(t *testing.T) {
	f := newFixture(2, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Policy{}).Place(ctx, PlaceInput{
		Job: &model.JobRequest{MinNodes: 1}, Universe: f.universe, Nodes: f.nodes,
	})
	must.True(t, errors.Is(err, context.Canceled))
}

func TestChoose(t *testing.T) {
	tree := twoLeafTree(t)
	cases := []struct {
		name   string
		policy Policy
		job    model.JobRequest
		tree   bool
		want   string
	}{
		{name: "default", job: model.JobRequest{MinNodes: 1, MinCPUs: 4}, want: "consecutive"},
		{name: "topology", job: model.JobRequest{MinNodes: 1}, tree: true, want: "tree"},
		{name: "contiguous beats topology", job: model.JobRequest{MinNodes: 1, Contiguous: true}, tree: true, want: "consecutive"},
		{name: "spread", job: model.JobRequest{MinNodes: 1, Spread: true}, want: "spread"},
		{name: "busy", policy: Policy{PreferAllocNodes: true}, job: model.JobRequest{MinNodes: 1}, want: "busy"},
		{name: "lln job", job: model.JobRequest{MinNodes: 1, LeastLoaded: true}, want: "lln"},
		{name: "lln policy", policy: Policy{LeastLoaded: true}, job: model.JobRequest{MinNodes: 1}, want: "lln"},
		{name: "serial", policy: Policy{PackSerialAtEnd: true}, job: model.JobRequest{MinNodes: 1, MinCPUs: 1}, want: "serial"},
		{name: "serial needs one node", policy: Policy{PackSerialAtEnd: true}, job: model.JobRequest{MinNodes: 2, MinCPUs: 1}, want: "consecutive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := New(tc.policy)
			view := tree
			if !tc.tree {
				view = nil
			}
			must.Eq(t, tc.want, e.choose(&tc.job, view).Name())
		})
	}
}

func TestReason(t *testing.T) {
	must.Eq(t, "placed", Reason(nil))
	must.Eq(t, "insufficient", Reason(ErrBreakEval))
	must.Eq(t, "retry_hint", Reason(ErrRetryHint))
	must.Eq(t, "topology_mismatch", Reason(ErrTopologyConfigUnavailable))
	must.Eq(t, "error", Reason(errors.New("boom")))
}

