package simulation

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/nodeset"
	"github.com/guimove/hpcfit/internal/placement"
)

func makeNodes(n, cores int) []*model.NodeResource {
	nodes := make([]*model.NodeResource, n)
	for i := range nodes {
		nodes[i] = makeNode(string(rune('a'+i)), cores, cores)
	}
	return nodes
}

func TestRunPass_Sequential(t *testing.T) {
	nodes := makeNodes(4, 4)
	jobs := []model.JobRequest{
		{ID: "a", MinNodes: 2, MinCPUs: 8},
		{ID: "b", MinNodes: 2, MinCPUs: 8},
		{ID: "c", MinNodes: 1, MinCPUs: 1},
	}

	res, err := RunPass(context.Background(), placement.New(placement.Policy{}), PassInput{Jobs: jobs, Nodes: nodes})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(res.Outcomes))
	}

	if diff := cmp.Diff([]int{0, 1}, res.Outcomes[0].Placement.NodeIDs()); diff != "" {
		t.Errorf("job a nodes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2, 3}, res.Outcomes[1].Placement.NodeIDs()); diff != "" {
		t.Errorf("job b nodes (-want +got):\n%s", diff)
	}
	if res.Outcomes[2].Placed() {
		t.Error("job c should stay pending on a full cluster")
	}
	if res.Outcomes[2].Reason != "insufficient" {
		t.Errorf("expected reason insufficient, got %q", res.Outcomes[2].Reason)
	}

	for _, n := range nodes {
		if n.AvailCPUs != 0 || !nodeset.Empty(n.AvailCores) || n.Idle {
			t.Errorf("node %s not fully allocated: %d cpus, cores %q, idle %v",
				n.Name, n.AvailCPUs, nodeset.Format(n.AvailCores), n.Idle)
		}
	}
}

func TestRunPass_ConsumesGres(t *testing.T) {
	n := &model.NodeResource{
		Name:           "gpu0",
		Sockets:        2,
		CoresPerSocket: 2,
		ThreadsPerCore: 1,
		AvailCPUs:      4,
		AvailCores:     nodeset.Full(4),
		Gres:           []model.GresAvail{{Name: "gpu", PerSocket: []uint64{1, 1}}},
		Idle:           true,
	}
	nodes := []*model.NodeResource{n}
	job := model.JobRequest{MinNodes: 1, MinCPUs: 1, Gres: []model.GresRequest{{Name: "gpu", PerNode: 1}}}
	jobs := []model.JobRequest{job, job, job}
	jobs[0].ID, jobs[1].ID, jobs[2].ID = "1", "2", "3"

	res, err := RunPass(context.Background(), placement.New(placement.Policy{}), PassInput{Jobs: jobs, Nodes: nodes})
	if err != nil {
		t.Fatal(err)
	}

	for i, want := range []bool{true, true, false} {
		if res.Outcomes[i].Placed() != want {
			t.Errorf("job %s placed = %v, want %v (%s)", jobs[i].ID, res.Outcomes[i].Placed(), want, res.Outcomes[i].Error)
		}
	}
	if got := n.Gres[0].Total(); got != 0 {
		t.Errorf("expected every gpu consumed, %d left", got)
	}
	if n.AvailCPUs != 2 {
		t.Errorf("expected 2 cpus left, got %d", n.AvailCPUs)
	}
}

func TestRunPass_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunPass(ctx, placement.New(placement.Policy{}), PassInput{
		Jobs:  []model.JobRequest{{ID: "a", MinNodes: 1}},
		Nodes: makeNodes(2, 4),
	})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestAllocate_RejectsUnavailableCores(t *testing.T) {
	nodes := []*model.NodeResource{makeNode("a", 4, 2)}
	p := &model.Placement{Nodes: []model.NodeGrant{{Node: 0, Name: "a", CPUs: 2, Cores: "2-3"}}}

	if err := Allocate(nodes, p); err == nil {
		t.Error("expected error allocating cores that are not free")
	}

	p.Nodes[0].Node = 3
	if err := Allocate(nodes, p); err == nil {
		t.Error("expected error for node out of range")
	}
}

func TestAllocate_Threads(t *testing.T) {
	n := &model.NodeResource{
		Name: "smt", Sockets: 1, CoresPerSocket: 4, ThreadsPerCore: 2,
		AvailCPUs: 8, AvailCores: nodeset.Full(4),
	}
	p := &model.Placement{Nodes: []model.NodeGrant{{Node: 0, CPUs: 3, Cores: "0-1"}}}

	if err := Allocate([]*model.NodeResource{n}, p); err != nil {
		t.Fatal(err)
	}
	if n.AvailCPUs != 4 || nodeset.Format(n.AvailCores) != "2-3" {
		t.Errorf("got %d cpus on cores %q, want 4 on 2-3", n.AvailCPUs, nodeset.Format(n.AvailCores))
	}
}
