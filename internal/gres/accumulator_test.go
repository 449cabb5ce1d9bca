package gres

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/nodeset"
)

func TestNewAccumulator(t *testing.T) {
	_, ok := NewAccumulator(&model.JobRequest{MinNodes: 1})
	must.False(t, ok)

	acc, ok := NewAccumulator(&model.JobRequest{
		MinNodes: 1,
		Gres: []model.GresRequest{
			{Name: "nic", PerNode: 1},
			{Name: "gpu", PerJob: 4},
		},
	})
	must.True(t, ok)
	must.False(t, acc.Sufficient())
	must.Eq(t, map[string]uint64{"gpu": 0}, acc.Totals())
}

func TestAccumulator_MonotoneUntilSufficient(t *testing.T) {
	job := &model.JobRequest{
		MinNodes: 3,
		Gres:     []model.GresRequest{{Name: "gpu", PerJob: 5}},
	}
	acc, _ := NewAccumulator(job)

	var last uint64
	flips := 0
	for i := 0; i < 4; i++ {
		node := newNode(2, 4, gpus(1, 1))
		res := Filter(node, job, FilterOptions{})
		must.True(t, res.Feasible())

		before := acc.Sufficient()
		must.NoError(t, acc.Add(node, &res, 1))

		total := acc.Totals()["gpu"]
		must.GreaterEq(t, last, total)
		last = total
		if !before && acc.Sufficient() {
			flips++
			must.Eq(t, uint64(5), total)
		}
	}
	must.Eq(t, 1, flips)
	// job level only requests stop at the deficit
	must.Eq(t, uint64(5), last)
}

func TestAccumulator_CappedByCPUs(t *testing.T) {
	job := &model.JobRequest{
		MinNodes: 1,
		Gres:     []model.GresRequest{{Name: "gpu", PerJob: 4, CPUsPerGres: 2}},
	}
	acc, _ := NewAccumulator(job)

	node := newNode(1, 2, gpus(4))
	res := Filter(node, job, FilterOptions{})
	must.True(t, res.Feasible())
	must.Eq(t, 2, res.AvailCPUs)

	must.NoError(t, acc.Add(node, &res, 1))
	must.Eq(t, uint64(1), acc.Totals()["gpu"])
	must.Eq(t, uint64(1), res.Grants[0].Total)
	must.False(t, acc.Sufficient())
}

func TestAccumulator_RestrictedShrinkBelowFloor(t *testing.T) {
	job := &model.JobRequest{
		MinNodes: 2,
		Gres:     []model.GresRequest{{Name: "gpu", PerJob: 2}},
	}
	acc, _ := NewAccumulator(job)

	first := newNode(1, 4, gpus(1))
	firstRes := Filter(first, job, FilterOptions{})
	must.NoError(t, acc.Add(first, &firstRes, 1))
	must.Eq(t, uint64(1), acc.Totals()["gpu"])

	node := newNode(1, 4, model.GresAvail{
		Name:            "gpu",
		PerSocket:       []uint64{2},
		RestrictedCores: nodeset.Of(4, 0, 1, 2, 3),
	})
	node.RestrictedCoresPerGPU = 2
	res := Filter(node, job, FilterOptions{})
	must.True(t, res.Feasible())
	must.Eq(t, 4, res.AvailCPUs)

	// one gpu left to grant leaves two usable cores
	err := acc.Add(node, &res, 3)
	must.ErrorIs(t, err, ErrBelowFloor)
	must.Eq(t, 4, res.AvailCPUs)
	must.Eq(t, 4, nodeset.Count(node.AvailCores))
	must.Eq(t, uint64(1), acc.Totals()["gpu"])

	must.NoError(t, acc.Add(node, &res, 2))
	must.Eq(t, 2, res.AvailCPUs)
	must.Eq(t, uint64(1), res.Grants[0].Total)
	must.Eq(t, "0-1", nodeset.Format(node.AvailCores))
	must.True(t, acc.Sufficient())
}

func TestAccumulator_Consec(t *testing.T) {
	job := &model.JobRequest{
		MinNodes: 2,
		Gres:     []model.GresRequest{{Name: "gpu", PerJob: 3}},
	}
	acc, _ := NewAccumulator(job)
	c := acc.NewConsec()

	res := Filter(newNode(1, 4, gpus(2)), job, FilterOptions{})
	acc.ConsecAdd(c, &res)
	must.False(t, acc.ConsecSufficient(c))
	acc.ConsecAdd(c, &res)
	must.True(t, acc.ConsecSufficient(c))

	// prospective totals never reach the accumulator
	must.Eq(t, uint64(0), acc.Totals()["gpu"])
	must.False(t, acc.Sufficient())
}
